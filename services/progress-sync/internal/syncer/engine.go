// Package syncer reconciles the local progress store with the progress API.
//
// Every remote-facing call is best effort: failures are reported to observers
// and otherwise swallowed, and nothing is retried.
package syncer

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/example/lesson-progress/services/progress-sync/internal/model"
	"github.com/example/lesson-progress/services/progress-sync/internal/remote"
)

// Remote is the subset of remote.Client the engine needs.
type Remote interface {
	FetchAll(ctx context.Context) ([]remote.Row, error)
	Push(ctx context.Context, lessonID string, secondsWatched int, completed *bool) error
}

// Store is the subset of store.Store the engine needs.
type Store interface {
	Update(fn func(cur model.Snapshot, now time.Time) model.Snapshot)
}

type Engine struct {
	store     Store
	remote    Remote
	observers []Observer
	log       *zap.Logger
	now       func() time.Time
	pulls     singleflight.Group
}

// Option configures an Engine.
type Option func(*Engine)

func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(st Store, rc Remote, opts ...Option) *Engine {
	e := &Engine{store: st, remote: rc, log: zap.NewNop(), now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// PullAndMerge fetches the server's rows and merges them into the store. On any
// fetch error the store is left exactly as it was. Overlapping calls share one
// fetch and one commit. The result reports whether a merge was committed.
func (e *Engine) PullAndMerge(ctx context.Context) bool {
	v, _, _ := e.pulls.Do("pull", func() (interface{}, error) {
		rows, err := e.remote.FetchAll(ctx)
		e.emit(Event{Op: OpPull, Rows: len(rows), Err: err})
		if err != nil {
			return false, nil
		}
		e.store.Update(func(cur model.Snapshot, now time.Time) model.Snapshot {
			return Merge(cur, rows, now)
		})
		e.log.Debug("remote progress merged", zap.Int("rows", len(rows)))
		return true, nil
	})
	return v.(bool)
}

// PushHeartbeat reports a playback position without a completion flag.
func (e *Engine) PushHeartbeat(ctx context.Context, lessonID string, seconds int) {
	s := max(0, seconds)
	err := e.remote.Push(ctx, lessonID, s, nil)
	e.emit(Event{Op: OpHeartbeat, LessonID: lessonID, Seconds: s, Err: err})
}

// PushCompletion reports that lessonID was finished at seconds.
func (e *Engine) PushCompletion(ctx context.Context, lessonID string, seconds int) {
	s := max(0, seconds)
	completed := true
	err := e.remote.Push(ctx, lessonID, s, &completed)
	e.emit(Event{Op: OpCompletion, LessonID: lessonID, Seconds: s, Err: err})
}

func (e *Engine) emit(ev Event) {
	ev.At = e.now().UTC()
	for _, o := range e.observers {
		o.Observe(ev)
	}
}
