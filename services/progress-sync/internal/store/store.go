// Package store owns the local progress snapshot for one user on one device.
//
// Writers are serialized by a mutex and every mutation is persisted before the
// call returns. Readers load an immutable snapshot pointer and never block.
package store

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/example/lesson-progress/services/progress-sync/internal/model"
)

const persistTimeout = 5 * time.Second

// Persister is the durable home of the snapshot. Load reports found=false when
// nothing has been saved yet.
type Persister interface {
	Save(ctx context.Context, s model.Snapshot) error
	Load(ctx context.Context) (snap model.Snapshot, found bool, err error)
}

// Store is the single read/write path for lesson progress.
type Store struct {
	mu      sync.Mutex
	cur     atomic.Pointer[model.Snapshot]
	persist Persister
	log     *zap.Logger
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

func WithLogger(log *zap.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open loads the persisted snapshot (or starts empty when none exists).
func Open(ctx context.Context, p Persister, opts ...Option) (*Store, error) {
	if p == nil {
		p = NewMemoryPersister()
	}
	s := &Store{persist: p, log: zap.NewNop(), now: time.Now}
	for _, o := range opts {
		o(s)
	}

	snap, found, err := p.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !found {
		snap = model.NewSnapshot()
	}
	snap.Normalize()
	s.cur.Store(&snap)
	s.log.Debug("progress store opened",
		zap.Bool("found", found),
		zap.Int("lessons", len(snap.LessonProgress)),
		zap.Int("completed", len(snap.CompletedLessonIDs)))
	return s, nil
}

// Snapshot returns the current snapshot. Callers must not modify it; use Clone.
func (s *Store) Snapshot() model.Snapshot {
	return *s.cur.Load()
}

// Progress returns the record for lessonID, if one exists.
func (s *Store) Progress(lessonID string) (model.LessonProgress, bool) {
	p, ok := s.Snapshot().LessonProgress[lessonID]
	return p, ok
}

func (s *Store) IsCompleted(lessonID string) bool {
	return s.Snapshot().IsCompleted(lessonID)
}

// CompletedCount is the number of completed lessons.
func (s *Store) CompletedCount() int {
	return len(s.Snapshot().CompletedLessonIDs)
}

// Percentage returns completed/total in [0,1]; 0 when total is not positive.
func (s *Store) Percentage(total int) float64 {
	if total <= 0 {
		return 0
	}
	v := float64(s.CompletedCount()) / float64(total)
	if v > 1 {
		return 1
	}
	return v
}

// MarkStarted creates an in-progress record at position 0. Existing records are
// left untouched and nothing is written.
func (s *Store) MarkStarted(lessonID string) {
	s.mutate("mark_started", lessonID, func(snap *model.Snapshot, now time.Time) bool {
		if _, ok := snap.LessonProgress[lessonID]; ok {
			return false
		}
		snap.LessonProgress[lessonID] = model.LessonProgress{
			LessonID:  lessonID,
			State:     model.InProgress,
			StartedAt: model.Time(now),
		}
		return true
	})
}

// UpdatePosition records pos as the lesson's position. The value is stored as
// given; callers are responsible for not moving it backwards. A completed lesson
// stays completed.
func (s *Store) UpdatePosition(lessonID string, pos float64) {
	s.mutate("update_position", lessonID, func(snap *model.Snapshot, now time.Time) bool {
		p := snap.LessonProgress[lessonID]
		p.LessonID = lessonID
		p.LastPositionSeconds = pos
		if p.State != model.Completed {
			p.State = model.InProgress
		}
		if p.StartedAt == nil {
			p.StartedAt = model.Time(now)
		}
		snap.LessonProgress[lessonID] = p
		return true
	})
}

// MarkCompleted moves the lesson to Completed. CompletedAt is only set on the
// first transition.
func (s *Store) MarkCompleted(lessonID string) {
	s.mutate("mark_completed", lessonID, func(snap *model.Snapshot, now time.Time) bool {
		p := snap.LessonProgress[lessonID]
		p.LessonID = lessonID
		p.State = model.Completed
		if p.CompletedAt == nil {
			p.CompletedAt = model.Time(now)
		}
		snap.LessonProgress[lessonID] = p
		snap.CompletedLessonIDs[lessonID] = struct{}{}
		return true
	})
}

// Overwrite replaces the whole snapshot and persists it.
func (s *Store) Overwrite(snap model.Snapshot) {
	next := snap.Clone()
	next.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.commit("overwrite", next)
}

// Update applies fn to a private copy of the current snapshot and commits the
// result, all while holding the writer lock, so no other mutation can interleave
// between the read and the write.
func (s *Store) Update(fn func(cur model.Snapshot, now time.Time) model.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := fn(s.cur.Load().Clone(), s.now())
	next.Normalize()
	s.commit("update", next)
}

// Reset clears every record and persists the empty snapshot.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commit("reset", model.NewSnapshot())
}

func (s *Store) mutate(op, lessonID string, fn func(snap *model.Snapshot, now time.Time) bool) {
	if strings.TrimSpace(lessonID) == "" {
		s.log.Warn("progress store: empty lesson id", zap.String("op", op))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cur.Load().Clone()
	if !fn(&next, s.now()) {
		return
	}
	s.commit(op, next)
}

// commit publishes next and writes it through. Must hold s.mu. A failed write
// is logged; the in-memory snapshot stays authoritative for this session.
func (s *Store) commit(op string, next model.Snapshot) {
	s.cur.Store(&next)

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.persist.Save(ctx, next); err != nil {
		s.log.Warn("progress store: persist failed", zap.String("op", op), zap.Error(err))
	}
}
