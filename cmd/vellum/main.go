// Package main is the Vellum CLI: a terminal face over the agent runtime.
//
// Start a one-shot agent turn:
//
//	vellum chat "explain the panic in internal/parser"
//
// Inspect sessions and snapshots:
//
//	vellum sessions list
//	vellum snapshot take -m "before refactor"
//
// Configuration lives in ~/.vellum/config.yaml; provider API keys come
// from the environment (ANTHROPIC_API_KEY, OPENAI_API_KEY, ...).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

// Exit codes: 0 success, 1 general error, 2 usage error, 130 user
// interruption.
const (
	exitOK        = 0
	exitError     = 1
	exitUsage     = 2
	exitInterrupt = 130
)

// usageError tags argument and flag mistakes so they map to exit code 2.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := buildRootCmd()
	root.SetContext(ctx)
	err := root.Execute()
	stop()
	os.Exit(exitCode(ctx, err))
}

func exitCode(ctx context.Context, err error) int {
	if err == nil {
		return exitOK
	}
	fmt.Fprintln(os.Stderr, "vellum:", err)

	var usage *usageError
	switch {
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		return exitInterrupt
	case errors.As(err, &usage):
		return exitUsage
	case strings.HasPrefix(err.Error(), "unknown command"):
		return exitUsage
	default:
		return exitError
	}
}
