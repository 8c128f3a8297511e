package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrEmptyPath   = errors.New("path is empty")
	ErrInvalidPath = errors.New("path contains a null byte")
)

// Invocation is a fully resolved transcoder command. Args are handed to the
// process as a vector and are never interpreted by a shell.
type Invocation struct {
	Program string   `json:"program"`
	Args    []string `json:"args"`
}

// Validate rejects invocations that cannot be spawned safely.
func (inv Invocation) Validate() error {
	if err := validatePath(inv.Program); err != nil {
		return fmt.Errorf("invalid program: %w", err)
	}
	for i, arg := range inv.Args {
		if strings.ContainsRune(arg, '\x00') {
			return fmt.Errorf("invalid argument %d: %w", i, ErrInvalidPath)
		}
	}
	return nil
}

// String renders the invocation for audit logs, quoting arguments that
// contain whitespace or quotes.
func (inv Invocation) String() string {
	parts := make([]string, 0, len(inv.Args)+1)
	parts = append(parts, quoteArg(inv.Program))
	for _, arg := range inv.Args {
		parts = append(parts, quoteArg(arg))
	}
	return strings.Join(parts, " ")
}

func quoteArg(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n\"'\\$`") {
		return strconv.Quote(s)
	}
	return s
}

func validatePath(p string) error {
	if p == "" {
		return ErrEmptyPath
	}
	if strings.ContainsRune(p, '\x00') {
		return ErrInvalidPath
	}
	return nil
}
