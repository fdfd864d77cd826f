package heartbeat

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"
)

type report struct {
	LessonID   string
	Seconds    int
	Completion bool
}

type recordingPusher struct {
	ch chan report
}

func newRecordingPusher() *recordingPusher {
	return &recordingPusher{ch: make(chan report, 100)}
}

func (p *recordingPusher) PushHeartbeat(_ context.Context, lessonID string, seconds int) {
	p.ch <- report{LessonID: lessonID, Seconds: seconds}
}

func (p *recordingPusher) PushCompletion(_ context.Context, lessonID string, seconds int) {
	p.ch <- report{LessonID: lessonID, Seconds: seconds, Completion: true}
}

func (p *recordingPusher) next(t *testing.T) report {
	t.Helper()
	select {
	case r := <-p.ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a push")
		return report{}
	}
}

func (p *recordingPusher) expectNone(t *testing.T) {
	t.Helper()
	select {
	case r := <-p.ch:
		t.Fatalf("unexpected push %+v", r)
	case <-time.After(30 * time.Millisecond):
	}
}

// manualTicker hands out a fresh tick channel per Start and records stops.
type manualTicker struct {
	mu      sync.Mutex
	ticks   chan time.Time
	stopped int
}

func (m *manualTicker) new(time.Duration) (<-chan time.Time, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks = make(chan time.Time)
	return m.ticks, func() {
		m.mu.Lock()
		m.stopped++
		m.mu.Unlock()
	}
}

func (m *manualTicker) tick(t *testing.T) {
	t.Helper()
	m.mu.Lock()
	ch := m.ticks
	m.mu.Unlock()
	select {
	case ch <- time.Now():
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not accept tick")
	}
}

func (m *manualTicker) tickRejected(t *testing.T) {
	t.Helper()
	m.mu.Lock()
	ch := m.ticks
	m.mu.Unlock()
	select {
	case ch <- time.Now():
		t.Fatal("tick consumed by a stopped scheduler")
	case <-time.After(30 * time.Millisecond):
	}
}

// sequence returns each value once, then repeats the last one.
func sequence(vals ...float64) Sampler {
	var mu sync.Mutex
	i := 0
	return func() float64 {
		mu.Lock()
		defer mu.Unlock()
		v := vals[min(i, len(vals)-1)]
		i++
		return v
	}
}

func newTestScheduler() (*Scheduler, *recordingPusher, *manualTicker) {
	p := newRecordingPusher()
	mt := &manualTicker{}
	return New("L1", p, WithTicker(mt.new)), p, mt
}

func TestScheduler_ImmediatePushThenGuardedTicks(t *testing.T) {
	s, p, mt := newTestScheduler()
	defer s.Stop()

	s.Start(context.Background(), sequence(5, 5, 20))

	if r := p.next(t); r.Seconds != 5 || r.Completion || r.LessonID != "L1" {
		t.Fatalf("unexpected first push %+v", r)
	}
	if s.LastSent() != 5 {
		t.Fatalf("expected lastSent 5, got %d", s.LastSent())
	}

	mt.tick(t) // samples 5: not greater, skipped
	mt.tick(t) // samples 20
	if r := p.next(t); r.Seconds != 20 {
		t.Fatalf("expected push(20), got %+v", r)
	}
	if s.LastSent() != 20 {
		t.Fatalf("expected lastSent 20, got %d", s.LastSent())
	}
	p.expectNone(t)
}

func TestScheduler_CompleteBypassesGuard(t *testing.T) {
	s, p, mt := newTestScheduler()

	s.Start(context.Background(), sequence(5, 20))
	p.next(t)
	mt.tick(t)
	p.next(t)

	s.Complete(context.Background(), 35)

	if r := p.next(t); !r.Completion || r.Seconds != 35 {
		t.Fatalf("expected completion(35), got %+v", r)
	}
	if s.State() != Idle {
		t.Fatalf("expected Idle after complete, got %v", s.State())
	}
	mt.tickRejected(t)
	p.expectNone(t)
}

func TestScheduler_CompleteBelowLastSentStillSent(t *testing.T) {
	s, p, _ := newTestScheduler()

	s.Start(context.Background(), sequence(300))
	p.next(t)
	s.Complete(context.Background(), 12)

	if r := p.next(t); !r.Completion || r.Seconds != 12 {
		t.Fatalf("expected completion(12), got %+v", r)
	}
}

func TestScheduler_CompleteWhileIdle(t *testing.T) {
	s, p, _ := newTestScheduler()

	s.Complete(context.Background(), -4)

	if r := p.next(t); !r.Completion || r.Seconds != 0 {
		t.Fatalf("expected clamped completion(0), got %+v", r)
	}
}

func TestScheduler_BackwardSeekSuppressesUntilHighWaterMark(t *testing.T) {
	s, p, mt := newTestScheduler()
	defer s.Stop()

	s.Start(context.Background(), sequence(100, 40, 60, 100, 101))
	p.next(t)

	for i := 0; i < 4; i++ {
		mt.tick(t)
	}
	if r := p.next(t); r.Seconds != 101 {
		t.Fatalf("expected push(101) after passing the mark, got %+v", r)
	}
	p.expectNone(t)
}

func TestScheduler_StopPushesNothing(t *testing.T) {
	s, p, mt := newTestScheduler()

	s.Start(context.Background(), sequence(7, 50))
	p.next(t)
	s.Stop()

	if s.State() != Idle {
		t.Fatalf("expected Idle, got %v", s.State())
	}
	mt.tickRejected(t)
	p.expectNone(t)

	s.Stop()
	if mt.stopped != 1 {
		t.Fatalf("expected ticker stopped once, got %d", mt.stopped)
	}
}

func TestScheduler_RestartResetsLastSent(t *testing.T) {
	s, p, mt := newTestScheduler()
	defer s.Stop()

	s.Start(context.Background(), sequence(50))
	p.next(t)

	s.Start(context.Background(), sequence(10, 11))
	if r := p.next(t); r.Seconds != 10 {
		t.Fatalf("expected restart push(10), got %+v", r)
	}
	if s.LastSent() != 10 {
		t.Fatalf("expected lastSent reset to 10, got %d", s.LastSent())
	}
	mt.tick(t)
	if r := p.next(t); r.Seconds != 11 {
		t.Fatalf("expected push(11), got %+v", r)
	}
	if s.State() != Active {
		t.Fatalf("expected Active, got %v", s.State())
	}
}

func TestScheduler_ClampsSamples(t *testing.T) {
	s, p, mt := newTestScheduler()
	defer s.Stop()

	s.Start(context.Background(), sequence(-3, math.NaN(), 2.9))
	if r := p.next(t); r.Seconds != 0 {
		t.Fatalf("expected 0 for negative sample, got %+v", r)
	}
	mt.tick(t) // NaN -> 0, skipped
	mt.tick(t)
	if r := p.next(t); r.Seconds != 2 {
		t.Fatalf("expected truncated 2, got %+v", r)
	}
}

func TestScheduler_ParentCancelEndsRun(t *testing.T) {
	s, p, _ := newTestScheduler()
	ctx, cancel := context.WithCancel(context.Background())

	s.Start(ctx, sequence(1))
	p.next(t)
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for s.State() != Idle {
		if time.Now().After(deadline) {
			t.Fatal("scheduler still active after parent cancel")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestScheduler_HeartbeatsNeverDecrease(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	vals := make([]float64, 200)
	for i := range vals {
		vals[i] = float64(r.Intn(120)) - 10
	}

	s, p, mt := newTestScheduler()
	s.Start(context.Background(), sequence(vals...))
	for i := 1; i < len(vals); i++ {
		mt.tick(t)
	}
	s.Complete(context.Background(), 3)

	last := -1
	for {
		rep := p.next(t)
		if rep.Completion {
			break
		}
		if rep.Seconds < last {
			t.Fatalf("heartbeat went backwards: %d after %d", rep.Seconds, last)
		}
		last = rep.Seconds
	}
}

func TestScheduler_RealTicker(t *testing.T) {
	p := newRecordingPusher()
	var mu sync.Mutex
	pos := 0.0
	s := New("L1", p, WithInterval(5*time.Millisecond))

	s.Start(context.Background(), func() float64 {
		mu.Lock()
		defer mu.Unlock()
		pos += 1
		return pos
	})
	for i := 0; i < 3; i++ {
		p.next(t)
	}
	s.Stop()
}

// gatedPusher blocks each push until the gate opens, or until the push's own
// context is cancelled, and records which happened.
type gatedPusher struct {
	entered chan report
	gate    chan struct{}

	mu       sync.Mutex
	results  []report
	canceled []report
}

func newGatedPusher() *gatedPusher {
	return &gatedPusher{entered: make(chan report, 10), gate: make(chan struct{})}
}

func (p *gatedPusher) push(ctx context.Context, r report) {
	p.mu.Lock()
	gate := p.gate
	p.mu.Unlock()

	p.entered <- r
	select {
	case <-ctx.Done():
		p.mu.Lock()
		p.canceled = append(p.canceled, r)
		p.mu.Unlock()
	case <-gate:
		p.mu.Lock()
		p.results = append(p.results, r)
		p.mu.Unlock()
	}
}

func (p *gatedPusher) PushHeartbeat(ctx context.Context, lessonID string, seconds int) {
	p.push(ctx, report{LessonID: lessonID, Seconds: seconds})
}

func (p *gatedPusher) PushCompletion(ctx context.Context, lessonID string, seconds int) {
	p.push(ctx, report{LessonID: lessonID, Seconds: seconds, Completion: true})
}

func (p *gatedPusher) waitEntered(t *testing.T) report {
	t.Helper()
	select {
	case r := <-p.entered:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("push never started")
		return report{}
	}
}

func TestScheduler_CompleteDoesNotCancelInFlightHeartbeat(t *testing.T) {
	p := newGatedPusher()
	s := New("L1", p, WithTicker((&manualTicker{}).new))

	s.Start(context.Background(), sequence(5))
	p.waitEntered(t)

	done := make(chan struct{})
	go func() {
		s.Complete(context.Background(), 35)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	close(p.gate)

	if r := p.waitEntered(t); !r.Completion || r.Seconds != 35 {
		t.Fatalf("expected completion(35) after the heartbeat, got %+v", r)
	}
	<-done

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.canceled) != 0 {
		t.Fatalf("pushes cancelled by the scheduler: %+v", p.canceled)
	}
	if len(p.results) != 2 || p.results[0].Seconds != 5 || !p.results[1].Completion {
		t.Fatalf("expected heartbeat(5) then completion(35), got %+v", p.results)
	}
}

func TestScheduler_StopLetsInFlightTickFinish(t *testing.T) {
	p := newGatedPusher()
	mt := &manualTicker{}
	s := New("L1", p, WithTicker(mt.new))

	close(p.gate)
	s.Start(context.Background(), sequence(5, 30))
	defer s.Stop()
	p.waitEntered(t)

	// reopen the gate for the tick push so Stop races it
	p.mu.Lock()
	p.gate = make(chan struct{})
	gate := p.gate
	p.mu.Unlock()
	mt.tick(t)
	p.waitEntered(t)

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	time.Sleep(20 * time.Millisecond)
	close(gate)
	<-stopped

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.canceled) != 0 || len(p.results) != 2 || p.results[1].Seconds != 30 {
		t.Fatalf("tick heartbeat lost: results=%+v canceled=%+v", p.results, p.canceled)
	}
}

func TestScheduler_StateNotBlockedByCompletionPush(t *testing.T) {
	p := newGatedPusher()
	s := New("L1", p)

	go s.Complete(context.Background(), 40)
	p.waitEntered(t)
	defer close(p.gate)

	got := make(chan State, 1)
	go func() { got <- s.State() }()
	select {
	case st := <-got:
		if st != Idle {
			t.Fatalf("expected Idle, got %v", st)
		}
	case <-time.After(time.Second):
		t.Fatal("State blocked while the completion was in flight")
	}
}
