package client

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type ValidationError struct {
	Arg   string
	Cause string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Arg, e.Cause)
}

type CommandKind int

const (
	CommandSend CommandKind = iota
	CommandReceive
)

// Command is a parsed CLI invocation.
type Command struct {
	Kind     CommandKind
	FilePath string // send: file to upload
	Code     string // receive: code to redeem
	Output   string // receive: destination path, "-" for stdout, empty to use the server's filename
}

// ParseArgs validates a command line of the form
// "send <file>" or "receive <code> [-o <path>]".
func ParseArgs(args []string) (*Command, error) {
	if len(args) == 0 {
		return nil, &ValidationError{Arg: "<command>", Cause: "expected 'send' or 'receive'"}
	}

	switch args[0] {
	case "send":
		return parseSend(args[1:])
	case "receive":
		return parseReceive(args[1:])
	default:
		return nil, &ValidationError{Arg: args[0], Cause: "expected 'send' or 'receive'"}
	}
}

func parseSend(args []string) (*Command, error) {
	if len(args) != 1 {
		return nil, &ValidationError{Arg: "<file>", Cause: "send takes exactly one file"}
	}

	path := filepath.Clean(args[0])
	info, err := os.Stat(path)
	if err != nil {
		return nil, &ValidationError{Arg: args[0], Cause: "not found or not accessible"}
	}
	if info.IsDir() {
		return nil, &ValidationError{Arg: args[0], Cause: "is a directory, not a file"}
	}

	return &Command{Kind: CommandSend, FilePath: path}, nil
}

func parseReceive(args []string) (*Command, error) {
	if len(args) == 0 {
		return nil, &ValidationError{Arg: "<code>", Cause: "no code provided"}
	}

	code := args[0]
	if !looksLikeCode(code) {
		return nil, &ValidationError{Arg: code, Cause: "does not look like a transfer code"}
	}

	cmd := &Command{Kind: CommandReceive, Code: code}

	rest := args[1:]
	for len(rest) > 0 {
		switch rest[0] {
		case "-o", "--output":
			if len(rest) < 2 {
				return nil, &ValidationError{Arg: rest[0], Cause: "missing output path"}
			}
			cmd.Output = rest[1]
			rest = rest[2:]
		default:
			return nil, &ValidationError{Arg: rest[0], Cause: "unknown flag"}
		}
	}

	return cmd, nil
}

// looksLikeCode accepts six alphanumerics with optional separators, the
// shape the server hands out. The server does its own normalization; this
// only catches obvious typos before a network round trip.
func looksLikeCode(code string) bool {
	stripped := strings.Map(func(r rune) rune {
		switch r {
		case '-', ' ':
			return -1
		}
		return r
	}, code)

	if len(stripped) != 6 {
		return false
	}
	for _, r := range stripped {
		alnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !alnum {
			return false
		}
	}
	return true
}
