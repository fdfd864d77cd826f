package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/example/lesson-progress/services/progress-sync/internal/heartbeat"
	"github.com/example/lesson-progress/services/progress-sync/internal/playback"
)

var errPullFailed = errors.New("pull failed, local progress unchanged")

type usageError string

func (e usageError) Error() string { return string(e) }

func (a *app) dispatch(ctx context.Context, args []string) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "pull":
		return a.pull(ctx)
	case "status":
		return a.status(rest)
	case "play":
		return a.play(ctx, rest)
	case "complete":
		return a.complete(ctx, rest)
	case "reset":
		a.store.Reset()
		fmt.Fprintln(a.out, "local progress cleared")
		return nil
	default:
		return usageError(fmt.Sprintf("unknown command %q", cmd))
	}
}

func (a *app) pull(ctx context.Context) error {
	if !a.engine.PullAndMerge(ctx) {
		return errPullFailed
	}
	snap := a.store.Snapshot()
	fmt.Fprintf(a.out, "merged: %d lessons, %d completed\n", len(snap.LessonProgress), len(snap.CompletedLessonIDs))
	return nil
}

func (a *app) status(args []string) error {
	fs := pflag.NewFlagSet("status", pflag.ContinueOnError)
	total := fs.Int("total", 0, "lessons in the course, for the completion percentage")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}

	if id := strings.TrimSpace(fs.Arg(0)); id != "" {
		rec, ok := a.store.Progress(id)
		if !ok {
			fmt.Fprintf(a.out, "%s: not started\n", id)
			return nil
		}
		b, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, string(b))
		return nil
	}

	snap := a.store.Snapshot()
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LESSON\tSTATE\tPOSITION")
	for _, id := range snap.LessonIDs() {
		rec := snap.LessonProgress[id]
		fmt.Fprintf(tw, "%s\t%s\t%.0fs\n", id, rec.State, rec.LastPositionSeconds)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "completed: %d", a.store.CompletedCount())
	if *total > 0 {
		fmt.Fprintf(a.out, "/%d (%.0f%%)", *total, 100*a.store.Percentage(*total))
	}
	fmt.Fprintln(a.out)
	return nil
}

// play simulates a player: the position advances by step*rate every step
// until the end of the media or until ctx is cancelled.
func (a *app) play(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("play", pflag.ContinueOnError)
	duration := fs.Float64("duration", 0, "media length in seconds (required)")
	rate := fs.Float64("rate", 1, "playback speed multiplier")
	from := fs.Float64("from", -1, "start position in seconds; default resumes from the stored position")
	step := fs.Duration("step", time.Second, "how often the simulated player reports its position")
	interval := fs.Duration("heartbeat", heartbeat.Interval, "heartbeat interval")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	id := strings.TrimSpace(fs.Arg(0))
	switch {
	case id == "":
		return usageError("play: lesson id required")
	case *duration <= 0 || math.IsInf(*duration, 0) || math.IsNaN(*duration):
		return usageError("play: --duration must be > 0")
	case *rate <= 0 || *step <= 0:
		return usageError("play: --rate and --step must be > 0")
	}

	if !a.engine.PullAndMerge(ctx) {
		a.log.Warn("starting playback from local progress only")
	}

	sched := heartbeat.New(id, a.engine, heartbeat.WithInterval(*interval), heartbeat.WithLogger(a.log))
	sess := playback.New(id, *duration, a.store, sched, playback.WithLogger(a.log))
	pos := sess.Open(ctx)
	if *from >= 0 {
		pos = math.Min(*from, *duration)
		sess.Observe(ctx, pos)
	}
	fmt.Fprintf(a.out, "playing %s from %.0fs of %.0fs\n", id, pos, *duration)

	ticker := time.NewTicker(*step)
	defer ticker.Stop()
	advance := step.Seconds() * *rate

	for {
		select {
		case <-ctx.Done():
			sess.Close()
			fmt.Fprintf(a.out, "stopped %s at %.0fs\n", id, sess.Position())
			return nil
		case <-ticker.C:
			pos += advance
			if pos >= *duration {
				sess.Observe(ctx, *duration)
				sess.End(ctx)
				sess.Close()
				fmt.Fprintf(a.out, "finished %s\n", id)
				return nil
			}
			sess.Observe(ctx, pos)
			a.log.Debug("playback position", zap.String("lesson_id", id), zap.Float64("position", pos))
		}
	}
}

func (a *app) complete(ctx context.Context, args []string) error {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return usageError("complete: lesson id required")
	}
	id := strings.TrimSpace(args[0])

	rec, _ := a.store.Progress(id)
	secs := rec.LastPositionSeconds
	if len(args) > 1 {
		v, err := strconv.ParseFloat(args[1], 64)
		if err != nil || v < 0 || math.IsInf(v, 0) || math.IsNaN(v) {
			return usageError(fmt.Sprintf("complete: invalid seconds %q", args[1]))
		}
		if v > secs {
			a.store.UpdatePosition(id, v)
			secs = v
		}
	}
	a.store.MarkCompleted(id)
	a.engine.PushCompletion(ctx, id, int(secs))
	fmt.Fprintf(a.out, "completed %s at %.0fs\n", id, secs)
	return nil
}
