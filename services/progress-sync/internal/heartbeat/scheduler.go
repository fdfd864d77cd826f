// Package heartbeat reports live playback position for one lesson while it is
// being watched.
package heartbeat

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Interval between position samples while a session is active.
const Interval = 12 * time.Second

// Pusher delivers reports. Implementations are best effort and do not return
// errors; *syncer.Engine satisfies it.
type Pusher interface {
	PushHeartbeat(ctx context.Context, lessonID string, seconds int)
	PushCompletion(ctx context.Context, lessonID string, seconds int)
}

// Sampler returns the best known playback position in seconds. It is called
// from the scheduler goroutine and must be safe for that.
type Sampler func() float64

// TickerFunc creates a ticker; stop releases it.
type TickerFunc func(d time.Duration) (ticks <-chan time.Time, stop func())

type State int

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// Scheduler is a two-state machine. In Active it owns one goroutine that
// samples on every tick and pushes only when the position moved past the last
// reported value, so heartbeats never go backwards.
type Scheduler struct {
	lessonID  string
	pusher    Pusher
	interval  time.Duration
	newTicker TickerFunc
	log       *zap.Logger

	mu       sync.Mutex
	state    State
	cancel   context.CancelFunc
	done     chan struct{}
	lastSent atomic.Int64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithTicker replaces time.NewTicker, for tests.
func WithTicker(f TickerFunc) Option {
	return func(s *Scheduler) { s.newTicker = f }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

func New(lessonID string, p Pusher, opts ...Option) *Scheduler {
	s := &Scheduler{
		lessonID:  lessonID,
		pusher:    p,
		interval:  Interval,
		newTicker: stdTicker,
		log:       zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func stdTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Start samples once, reports that position immediately and begins ticking.
// Calling Start on an active scheduler stops the previous run first.
func (s *Scheduler) Start(ctx context.Context, sample Sampler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()

	first := clampSeconds(sample())
	s.lastSent.Store(int64(first))

	runCtx, cancel := context.WithCancel(ctx)
	ticks, stopTicker := s.newTicker(s.interval)
	done := make(chan struct{})

	s.cancel = cancel
	s.done = done
	s.state = Active

	s.log.Debug("heartbeat started", zap.String("lesson_id", s.lessonID), zap.Int("seconds", first))
	go s.run(runCtx, sample, first, ticks, stopTicker, done)
}

// run owns the tick loop. Cancelling ctx ends the loop but never a push that
// already started; pushes only see the parent's values and deadline.
func (s *Scheduler) run(ctx context.Context, sample Sampler, first int, ticks <-chan time.Time, stopTicker func(), done chan struct{}) {
	defer close(done)
	defer stopTicker()

	pushCtx := context.WithoutCancel(ctx)
	s.pusher.PushHeartbeat(pushCtx, s.lessonID, first)
	last := first

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			cur := clampSeconds(sample())
			if cur <= last {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			last = cur
			s.lastSent.Store(int64(cur))
			s.pusher.PushHeartbeat(pushCtx, s.lessonID, cur)
		}
	}
}

// Stop cancels the ticking goroutine and waits for it to exit, letting a push
// already in flight finish. Nothing new is pushed. Stop on an idle scheduler is
// a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopLocked() {
		s.log.Debug("heartbeat stopped", zap.String("lesson_id", s.lessonID))
	}
}

// Complete stops ticking and then always sends a completion report for
// finalSeconds, regardless of what was last reported. No heartbeat can follow
// it for this run. The lock is released before the completion is sent.
func (s *Scheduler) Complete(ctx context.Context, finalSeconds float64) {
	s.mu.Lock()
	s.stopLocked()
	s.mu.Unlock()

	final := clampSeconds(finalSeconds)
	s.log.Debug("heartbeat completed", zap.String("lesson_id", s.lessonID), zap.Int("seconds", final))
	s.pusher.PushCompletion(ctx, s.lessonID, final)
}

// State reports Active while the ticking goroutine is running.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Active {
		select {
		case <-s.done:
			// parent context ended the run
			return Idle
		default:
		}
	}
	return s.state
}

// LastSent is the highest position reported by the current or last run.
func (s *Scheduler) LastSent() int {
	return int(s.lastSent.Load())
}

// stopLocked must hold s.mu. It reports whether a run was stopped.
func (s *Scheduler) stopLocked() bool {
	if s.state != Active {
		return false
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	s.state = Idle
	return true
}

// clampSeconds truncates to whole seconds; negative and non-finite samples
// count as 0.
func clampSeconds(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0
	}
	if v >= math.MaxInt32 {
		return math.MaxInt32
	}
	return int(v)
}
