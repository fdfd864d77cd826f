package syncer

import (
	"time"

	"go.uber.org/zap"

	"github.com/example/lesson-progress/internal/platform/events"
	"github.com/example/lesson-progress/services/progress-sync/internal/remote"
)

// Operation names carried by Event.Op.
const (
	OpPull       = "pull"
	OpHeartbeat  = "heartbeat"
	OpCompletion = "completion"
)

// Event describes the outcome of one remote-facing engine call. Err is the
// swallowed error, if any.
type Event struct {
	Op       string
	LessonID string
	Seconds  int
	Rows     int
	Err      error
	At       time.Time
}

// Observer is told about every pull and push. It must not block for long and
// cannot change what the engine returns.
type Observer interface {
	Observe(ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(ev Event) { f(ev) }

// LogObserver writes events to log: successes at debug, failures at warn.
func LogObserver(log *zap.Logger) Observer {
	return ObserverFunc(func(ev Event) {
		fields := []zap.Field{zap.String("op", ev.Op)}
		if ev.LessonID != "" {
			fields = append(fields, zap.String("lesson_id", ev.LessonID), zap.Int("seconds", ev.Seconds))
		}
		if ev.Op == OpPull {
			fields = append(fields, zap.Int("rows", ev.Rows))
		}
		if ev.Err != nil {
			fields = append(fields, zap.String("kind", remote.Kind(ev.Err)), zap.Error(ev.Err))
			log.Warn("progress sync failed", fields...)
			return
		}
		log.Debug("progress sync ok", fields...)
	})
}

// PublishObserver forwards events to NATS. A nil publisher drops them.
func PublishObserver(p *events.Publisher, userID string) Observer {
	return ObserverFunc(func(ev Event) {
		props := map[string]any{"op": ev.Op, "at": ev.At}
		if ev.LessonID != "" {
			props["lesson_id"] = ev.LessonID
			props["seconds_watched"] = ev.Seconds
			props["completed"] = ev.Op == OpCompletion
		}
		if ev.Op == OpPull {
			props["rows"] = ev.Rows
		}

		subject, name := events.SubjectSyncPushed, "sync_pushed"
		switch {
		case ev.Err != nil:
			subject, name = events.SubjectSyncFailed, "sync_failed"
			props["kind"] = remote.Kind(ev.Err)
			props["error"] = ev.Err.Error()
		case ev.Op == OpPull:
			subject, name = events.SubjectSyncPulled, "sync_pulled"
		}
		p.Publish(subject, name, userID, props)
	})
}
