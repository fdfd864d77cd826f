// Command progress-sync keeps a device's lesson progress in step with the
// progress API.
//
//	progress-sync [global flags] pull
//	progress-sync [global flags] status [lessonId] [--total n]
//	progress-sync [global flags] play <lessonId> --duration s [--rate r] [--from s]
//	progress-sync [global flags] complete <lessonId> [seconds]
//	progress-sync [global flags] reset
//
// Global flags may also be given as PROGRESS_* environment variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/example/lesson-progress/internal/platform/logging"
	"github.com/example/lesson-progress/internal/platform/run"
	"github.com/example/lesson-progress/services/progress-sync/internal/config"
)

func main() {
	fs := config.FlagSet("progress-sync")
	cfg, args, err := config.Load(fs, os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		run.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		run.Exit(2)
	}
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: progress-sync [flags] pull|status|play|complete|reset")
		fs.PrintDefaults()
		run.Exit(2)
	}

	log, err := logging.NewService("progress-sync", cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	usage := false
	code := run.New(log).WithSignals(func(ctx context.Context) error {
		a, err := newApp(ctx, cfg, log, os.Stdout)
		if err != nil {
			return err
		}
		defer a.Close()
		err = a.dispatch(ctx, args)
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprintln(os.Stderr, ue)
			usage = true
			return nil
		}
		return err
	})
	if usage {
		code = 2
	}
	_ = log.Sync()
	run.Exit(code)
}
