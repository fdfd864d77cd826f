// Package events publishes progress events to NATS JetStream, fire-and-forget.
package events

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	StreamName = "PROGRESS_EVENTS"

	// SubjectProgressUpdated is published by the API after every accepted upsert.
	SubjectProgressUpdated = "progress.updated"
	// SubjectSyncPulled and SubjectSyncPushed are published by sync agents.
	SubjectSyncPulled = "progress.sync.pulled"
	SubjectSyncPushed = "progress.sync.pushed"
	SubjectSyncFailed = "progress.sync.failed"
)

var streamSubjects = []string{"progress.>"}

// Event is the envelope sent to every progress.* subject.
type Event struct {
	EventID    string         `json:"event_id"`
	EventName  string         `json:"event_name"`
	UserID     string         `json:"user_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Properties map[string]any `json:"properties,omitempty"`
}

// AsyncPublisher is the part of nats.JetStreamContext used for publishing.
type AsyncPublisher interface {
	PublishAsync(subj string, data []byte, opts ...nats.PubOpt) (nats.PubAckFuture, error)
}

// Publisher is safe to use as a nil pointer or with a nil JetStream, in which
// case every call is a no-op.
type Publisher struct {
	js  AsyncPublisher
	log *zap.Logger
	now func() time.Time
}

func New(js AsyncPublisher, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{js: js, log: log, now: time.Now}
}

// Connect opens a JetStream context on nc and makes sure the progress stream
// exists.
func Connect(nc *nats.Conn, log *zap.Logger) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	if err := EnsureStream(js); err != nil {
		return nil, err
	}
	return New(js, log), nil
}

// EnsureStream creates the progress stream, or widens its subjects when an
// older definition exists.
func EnsureStream(js nats.JetStreamManager) error {
	info, err := js.StreamInfo(StreamName)
	if err == nil {
		for _, s := range info.Config.Subjects {
			if s == streamSubjects[0] {
				return nil
			}
		}
		cfg := info.Config
		cfg.Subjects = streamSubjects
		_, err = js.UpdateStream(&cfg)
		return err
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: streamSubjects,
		Storage:  nats.FileStorage,
		MaxAge:   7 * 24 * time.Hour,
	})
	return err
}

// Publish sends an event without waiting for the ack. Failures are logged and
// never reach the caller.
func (p *Publisher) Publish(subject, eventName, userID string, props map[string]any) {
	if p == nil || p.js == nil {
		return
	}
	ev := Event{
		EventID:    uuid.NewString(),
		EventName:  eventName,
		UserID:     userID,
		OccurredAt: p.now().UTC(),
		Properties: props,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Warn("events: marshal failed", zap.String("event", eventName), zap.Error(err))
		return
	}
	if _, err := p.js.PublishAsync(subject, data); err != nil {
		p.log.Warn("events: publish failed", zap.String("subject", subject), zap.Error(err))
	}
}
