package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/vertextoedge/dupecache/internal/domain"
)

const version = "0.3.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error onto the process exit status
func exitCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrConfigInvalid),
		errors.Is(err, domain.ErrNotConfirmed), errors.Is(err, domain.ErrUnknownAlgo):
		return 2
	case errors.Is(err, errDiscrepancies):
		return 3
	default:
		return 1
	}
}
