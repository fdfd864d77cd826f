// Package playback ties one lesson's player position to both the local store
// and the heartbeat reporter.
package playback

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/example/lesson-progress/services/progress-sync/internal/heartbeat"
	"github.com/example/lesson-progress/services/progress-sync/internal/model"
)

const (
	// ResyncThreshold is how far playback must advance past the stored position
	// before the store is written again.
	ResyncThreshold = 10.0
	// CompletionRatio of the duration after which a lesson counts as watched.
	CompletionRatio = 0.95

	resumeMinSeconds  = 5.0
	resumeTailSeconds = 10.0
)

// Store is the part of store.Store a session writes to.
type Store interface {
	Progress(lessonID string) (model.LessonProgress, bool)
	MarkStarted(lessonID string)
	UpdatePosition(lessonID string, pos float64)
	MarkCompleted(lessonID string)
}

// Reporter is the part of heartbeat.Scheduler a session drives.
type Reporter interface {
	Start(ctx context.Context, sample heartbeat.Sampler)
	Stop()
	Complete(ctx context.Context, finalSeconds float64)
}

type Session struct {
	lessonID string
	duration float64
	store    Store
	reporter Reporter
	log      *zap.Logger

	// position is read by the reporter goroutine without taking mu.
	position atomic.Uint64

	mu         sync.Mutex
	lastStored float64
	completed  bool
}

type Option func(*Session)

func WithLogger(log *zap.Logger) Option {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// New creates a session for lessonID. duration is the media length in seconds;
// a non-positive duration disables resume and ratio based completion.
func New(lessonID string, duration float64, st Store, r Reporter, opts ...Option) *Session {
	if math.IsNaN(duration) || duration < 0 {
		duration = 0
	}
	s := &Session{
		lessonID: lessonID,
		duration: duration,
		store:    st,
		reporter: r,
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open marks the lesson started, starts heartbeats and returns the position
// playback should resume from (0 when the stored position is too close to
// either end).
func (s *Session) Open(ctx context.Context) float64 {
	s.store.MarkStarted(s.lessonID)

	s.mu.Lock()
	rec, _ := s.store.Progress(s.lessonID)
	s.lastStored = rec.LastPositionSeconds
	s.completed = rec.State == model.Completed
	resume := 0.0
	if s.duration > 0 && rec.LastPositionSeconds > resumeMinSeconds && rec.LastPositionSeconds < s.duration-resumeTailSeconds {
		resume = rec.LastPositionSeconds
	}
	s.setPosition(resume)
	s.mu.Unlock()

	s.log.Debug("playback opened",
		zap.String("lesson_id", s.lessonID),
		zap.Float64("resume", resume),
		zap.Bool("completed", rec.State == model.Completed),
	)
	s.reporter.Start(ctx, s.Position)
	return resume
}

// Observe records the player's current position.
func (s *Session) Observe(ctx context.Context, pos float64) {
	pos = s.clamp(pos)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.setPosition(pos)
	if pos >= s.lastStored+ResyncThreshold {
		s.store.UpdatePosition(s.lessonID, pos)
		s.lastStored = pos
	}
	if !s.completed && s.duration > 0 && pos/s.duration > CompletionRatio {
		s.completeLocked(ctx, pos)
	}
}

// End is called when playback reaches the end of the media.
func (s *Session) End(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed {
		return
	}
	s.completeLocked(ctx, s.Position())
}

// Close stores the final position, if it moved forward, and stops heartbeats.
func (s *Session) Close() {
	s.mu.Lock()
	pos := s.Position()
	if pos > s.lastStored {
		s.store.UpdatePosition(s.lessonID, pos)
		s.lastStored = pos
	}
	s.mu.Unlock()

	s.reporter.Stop()
	s.log.Debug("playback closed", zap.String("lesson_id", s.lessonID), zap.Float64("position", pos))
}

// Position is the last observed position.
func (s *Session) Position() float64 {
	return math.Float64frombits(s.position.Load())
}

func (s *Session) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

func (s *Session) completeLocked(ctx context.Context, pos float64) {
	s.completed = true
	if pos > s.lastStored {
		s.store.UpdatePosition(s.lessonID, pos)
		s.lastStored = pos
	}
	s.store.MarkCompleted(s.lessonID)
	s.reporter.Complete(ctx, pos)
	s.log.Debug("playback completed", zap.String("lesson_id", s.lessonID), zap.Float64("position", pos))
}

func (s *Session) setPosition(v float64) {
	s.position.Store(math.Float64bits(v))
}

func (s *Session) clamp(pos float64) float64 {
	if math.IsNaN(pos) || pos < 0 {
		return 0
	}
	if s.duration > 0 && pos > s.duration {
		return s.duration
	}
	return pos
}
