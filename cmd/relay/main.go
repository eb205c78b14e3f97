package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"relay/internal/client"
)

const usage = `usage:
  relay send <file>
  relay receive <code> [-o <path>]

The server address is taken from RELAY_URL (default http://localhost:8080).`

func main() {
	cmd, err := client.ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n%s\n", err, usage)
		os.Exit(1)
	}

	baseURL := os.Getenv("RELAY_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := client.New(baseURL)

	switch cmd.Kind {
	case client.CommandSend:
		if err := runSend(ctx, c, cmd.FilePath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case client.CommandReceive:
		if err := runReceive(ctx, c, cmd.Code, cmd.Output); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
}

func runSend(ctx context.Context, c *client.Client, path string) error {
	resp, err := c.Send(ctx, path)
	if err != nil {
		return err
	}

	fmt.Printf("✓ Sent %s (%d bytes)\n\n", resp.Filename, resp.Size)
	fmt.Printf("  Code: %s\n", resp.Code)
	if resp.DownloadURL != "" {
		fmt.Printf("  Link: %s\n", resp.DownloadURL)
	}
	if !resp.ExpiresAt.IsZero() {
		fmt.Printf("  Expires: %s\n", resp.ExpiresAt.Local().Format("Jan 2 15:04"))
	}
	return nil
}

func runReceive(ctx context.Context, c *client.Client, code, output string) error {
	if output == "-" {
		_, err := c.Receive(ctx, code, os.Stdout)
		return err
	}

	// Download into a scratch file next to the destination first so an
	// interrupted transfer never leaves a truncated file behind, and the
	// final rename stays on one filesystem.
	dir := "."
	if output != "" {
		dir = filepath.Dir(output)
	}
	tmp, err := os.CreateTemp(dir, "relay-*.part")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	filename, err := c.Receive(ctx, code, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	dst := output
	if dst == "" {
		dst = filename
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("failed to move download into place: %w", err)
	}

	fmt.Printf("✓ Received %s\n", dst)
	return nil
}
