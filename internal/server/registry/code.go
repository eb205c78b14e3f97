package registry

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// codeAlphabet excludes 0, O, 1 and I to keep codes easy to read back over
// the phone. 32^6 combinations keeps guessing infeasible at the rate
// limiter's attempt ceiling.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeLength is the number of alphabet characters in a code.
const CodeLength = 6

// NewCode generates a random code in normalized form using a
// cryptographically strong source. Uniqueness is the registry's job, not
// the generator's.
func NewCode() (string, error) {
	result := make([]byte, CodeLength)
	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			return "", fmt.Errorf("crypto/rand failure: %w", err)
		}
		result[i] = codeAlphabet[n.Int64()]
	}
	return string(result), nil
}

// NormalizeCode maps user input to the stored form: uppercase with
// separators and whitespace stripped, so "h7k-29a" and "H7K 29A" both
// resolve to "H7K29A".
func NormalizeCode(code string) string {
	code = strings.ToUpper(code)
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', ' ', '\t':
			return -1
		}
		return r
	}, code)
}

// FormatCode renders a normalized code for display as XXX-XXX.
func FormatCode(code string) string {
	if len(code) != CodeLength {
		return code
	}
	return code[:CodeLength/2] + "-" + code[CodeLength/2:]
}
