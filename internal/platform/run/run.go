// Package run drives a service or command until it finishes or the process is
// signalled.
package run

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const defaultGrace = 10 * time.Second

type Runner struct {
	Logger *zap.Logger
	// Grace bounds how long start may take to return after a signal.
	Grace time.Duration
}

func New(log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{Logger: log, Grace: defaultGrace}
}

// WithSignals runs start with a context cancelled on SIGINT or SIGTERM and
// returns the process exit code.
func (r *Runner) WithSignals(start func(ctx context.Context) error) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return r.Run(ctx, start)
}

// Run is WithSignals with a caller supplied context.
func (r *Runner) Run(ctx context.Context, start func(ctx context.Context) error) int {
	errCh := make(chan error, 1)
	go func() {
		errCh <- start(ctx)
	}()

	select {
	case err := <-errCh:
		return r.code(err)
	case <-ctx.Done():
		r.Logger.Info("shutdown signal received")
	}

	select {
	case err := <-errCh:
		return r.code(err)
	case <-time.After(r.Grace):
		r.Logger.Warn("shutdown timed out", zap.Duration("grace", r.Grace))
		return 1
	}
}

func (r *Runner) code(err error) int {
	if err == nil || errors.Is(err, http.ErrServerClosed) || errors.Is(err, context.Canceled) {
		return 0
	}
	r.Logger.Error("exited with error", zap.Error(err))
	return 1
}

// Graceful calls shutdown with a fresh deadline, for use once ctx is done.
func Graceful(shutdown func(context.Context) error) error {
	c, cancel := context.WithTimeout(context.Background(), defaultGrace)
	defer cancel()
	return shutdown(c)
}

func Exit(code int) {
	os.Exit(code)
}
