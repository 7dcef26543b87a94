package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/mailkeep/imap2gmail/cmd/imap2gmail/cmd"
)

const (
	exitCodeError       = 1
	exitCodeConfig      = 2
	exitCodeInterrupted = 130 // 128 + SIGINT, mirrors shell convention
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	if isSignalCanceled(err, ctx) {
		return exitCodeInterrupted
	}
	if cmd.IsConfigError(err) {
		return exitCodeConfig
	}
	return exitCodeError
}

func isSignalCanceled(err error, ctx context.Context) bool {
	return errors.Is(err, context.Canceled) && ctx.Err() == context.Canceled
}
