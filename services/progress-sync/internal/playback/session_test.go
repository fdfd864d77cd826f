package playback

import (
	"context"
	"sync"
	"testing"

	"github.com/example/lesson-progress/services/progress-sync/internal/heartbeat"
	"github.com/example/lesson-progress/services/progress-sync/internal/model"
	"github.com/example/lesson-progress/services/progress-sync/internal/store"
)

type fakeReporter struct {
	mu        sync.Mutex
	sample    heartbeat.Sampler
	starts    int
	stops     int
	completes []float64
}

func (f *fakeReporter) Start(_ context.Context, sample heartbeat.Sampler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sample = sample
	f.starts++
}

func (f *fakeReporter) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeReporter) Complete(_ context.Context, final float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completes = append(f.completes, final)
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), store.NewMemoryPersister())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return st
}

func TestOpen_MarksStartedAndStartsReporter(t *testing.T) {
	st := openStore(t)
	r := &fakeReporter{}
	s := New("L1", 600, st, r)

	if resume := s.Open(context.Background()); resume != 0 {
		t.Fatalf("expected resume 0 for a new lesson, got %v", resume)
	}
	rec, ok := st.Progress("L1")
	if !ok || rec.State != model.InProgress {
		t.Fatalf("expected in-progress record, got %+v ok=%v", rec, ok)
	}
	if r.starts != 1 || r.sample == nil {
		t.Fatalf("reporter not started: %+v", r)
	}
}

func TestOpen_ResumeWindow(t *testing.T) {
	cases := []struct {
		name   string
		stored float64
		want   float64
	}{
		{"too early", 5, 0},
		{"inside", 120, 120},
		{"near end", 591, 0},
		{"just inside end", 589, 589},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := openStore(t)
			st.UpdatePosition("L1", tc.stored)
			r := &fakeReporter{}
			s := New("L1", 600, st, r)

			if got := s.Open(context.Background()); got != tc.want {
				t.Fatalf("expected resume %v, got %v", tc.want, got)
			}
			if r.sample() != tc.want {
				t.Fatalf("sampler should start at resume position, got %v", r.sample())
			}
		})
	}
}

func TestObserve_WritesOnlyPastThreshold(t *testing.T) {
	st := openStore(t)
	s := New("L1", 600, st, &fakeReporter{})
	s.Open(context.Background())

	s.Observe(context.Background(), 9)
	if rec, _ := st.Progress("L1"); rec.LastPositionSeconds != 0 {
		t.Fatalf("wrote before threshold: %v", rec.LastPositionSeconds)
	}
	s.Observe(context.Background(), 10)
	if rec, _ := st.Progress("L1"); rec.LastPositionSeconds != 10 {
		t.Fatalf("expected 10, got %v", rec.LastPositionSeconds)
	}
	s.Observe(context.Background(), 15)
	if rec, _ := st.Progress("L1"); rec.LastPositionSeconds != 10 {
		t.Fatalf("wrote before next threshold: %v", rec.LastPositionSeconds)
	}
	if s.Position() != 15 {
		t.Fatalf("expected sampled position 15, got %v", s.Position())
	}
}

func TestObserve_BackwardSeekNeverRegressesStore(t *testing.T) {
	st := openStore(t)
	s := New("L1", 600, st, &fakeReporter{})
	s.Open(context.Background())

	s.Observe(context.Background(), 200)
	s.Observe(context.Background(), 30)
	s.Close()

	if rec, _ := st.Progress("L1"); rec.LastPositionSeconds != 200 {
		t.Fatalf("store regressed to %v", rec.LastPositionSeconds)
	}
}

func TestObserve_CompletesPastRatio(t *testing.T) {
	st := openStore(t)
	r := &fakeReporter{}
	s := New("L1", 100, st, r)
	s.Open(context.Background())

	s.Observe(context.Background(), 95)
	if s.Completed() {
		t.Fatal("exactly 95% must not complete")
	}
	s.Observe(context.Background(), 96)
	s.Observe(context.Background(), 99)

	if !s.Completed() || !st.IsCompleted("L1") {
		t.Fatal("expected lesson completed")
	}
	if len(r.completes) != 1 || r.completes[0] != 96 {
		t.Fatalf("expected one completion at 96, got %v", r.completes)
	}
}

func TestEnd_CompletesOnce(t *testing.T) {
	st := openStore(t)
	r := &fakeReporter{}
	s := New("L1", 0, st, r)
	s.Open(context.Background())

	s.Observe(context.Background(), 42)
	s.End(context.Background())
	s.End(context.Background())

	if !st.IsCompleted("L1") {
		t.Fatal("expected completed")
	}
	if rec, _ := st.Progress("L1"); rec.LastPositionSeconds != 42 {
		t.Fatalf("expected final position stored, got %v", rec.LastPositionSeconds)
	}
	if len(r.completes) != 1 {
		t.Fatalf("expected one completion, got %v", r.completes)
	}
}

func TestOpen_AlreadyCompletedDoesNotCompleteAgain(t *testing.T) {
	st := openStore(t)
	st.MarkCompleted("L1")
	r := &fakeReporter{}
	s := New("L1", 100, st, r)
	s.Open(context.Background())

	s.Observe(context.Background(), 99)

	if len(r.completes) != 0 {
		t.Fatalf("unexpected completion: %v", r.completes)
	}
	if rec, _ := st.Progress("L1"); rec.State != model.Completed {
		t.Fatalf("completion reverted: %+v", rec)
	}
}

func TestClose_StoresFinalPositionAndStops(t *testing.T) {
	st := openStore(t)
	r := &fakeReporter{}
	s := New("L1", 600, st, r)
	s.Open(context.Background())

	s.Observe(context.Background(), 14)
	s.Close()

	if rec, _ := st.Progress("L1"); rec.LastPositionSeconds != 14 {
		t.Fatalf("expected final 14, got %v", rec.LastPositionSeconds)
	}
	if r.stops != 1 {
		t.Fatalf("expected reporter stopped, got %d", r.stops)
	}
}

func TestObserve_ClampsToDuration(t *testing.T) {
	st := openStore(t)
	s := New("L1", 50, st, &fakeReporter{})
	s.Open(context.Background())

	s.Observe(context.Background(), -3)
	if s.Position() != 0 {
		t.Fatalf("expected 0, got %v", s.Position())
	}
	s.Observe(context.Background(), 80)
	if s.Position() != 50 {
		t.Fatalf("expected clamp to duration, got %v", s.Position())
	}
}
