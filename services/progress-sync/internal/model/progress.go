// Package model holds the lesson progress types shared by the store, the sync
// engine and the persistence backends.
package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// LessonState is the lifecycle position of a single lesson.
type LessonState int

const (
	NotStarted LessonState = iota
	InProgress
	Completed
)

func (s LessonState) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case InProgress:
		return "in_progress"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("LessonState(%d)", int(s))
	}
}

func (s LessonState) MarshalJSON() ([]byte, error) {
	switch s {
	case NotStarted, InProgress, Completed:
		return json.Marshal(s.String())
	default:
		return nil, fmt.Errorf("model: unknown lesson state %d", int(s))
	}
}

func (s *LessonState) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v {
	case "not_started", "":
		*s = NotStarted
	case "in_progress":
		*s = InProgress
	case "completed":
		*s = Completed
	default:
		return fmt.Errorf("model: unknown lesson state %q", v)
	}
	return nil
}

// LessonProgress is the local record for one lesson. LastPositionSeconds is the
// furthest point reached, not the current playhead.
type LessonProgress struct {
	LessonID            string      `json:"lesson_id"`
	State               LessonState `json:"state"`
	LastPositionSeconds float64     `json:"last_position_seconds"`
	StartedAt           *time.Time  `json:"started_at,omitempty"`
	CompletedAt         *time.Time  `json:"completed_at,omitempty"`
}

// Snapshot is the aggregate unit that is persisted and replaced as a whole.
//
// A Snapshot handed out by the store must be treated as read-only; use Clone
// before modifying it.
type Snapshot struct {
	CompletedLessonIDs map[string]struct{}
	LessonProgress     map[string]LessonProgress
}

// NewSnapshot returns an empty snapshot with initialised maps.
func NewSnapshot() Snapshot {
	return Snapshot{
		CompletedLessonIDs: make(map[string]struct{}),
		LessonProgress:     make(map[string]LessonProgress),
	}
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		CompletedLessonIDs: make(map[string]struct{}, len(s.CompletedLessonIDs)),
		LessonProgress:     make(map[string]LessonProgress, len(s.LessonProgress)),
	}
	for id := range s.CompletedLessonIDs {
		out.CompletedLessonIDs[id] = struct{}{}
	}
	for id, p := range s.LessonProgress {
		out.LessonProgress[id] = p.clone()
	}
	return out
}

// IsCompleted reports whether lessonID is in the completed set.
func (s Snapshot) IsCompleted(lessonID string) bool {
	_, ok := s.CompletedLessonIDs[lessonID]
	return ok
}

// CompletedIDs returns the completed lesson ids in sorted order.
func (s Snapshot) CompletedIDs() []string {
	ids := make([]string, 0, len(s.CompletedLessonIDs))
	for id := range s.CompletedLessonIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LessonIDs returns every lesson id with a record, sorted.
func (s Snapshot) LessonIDs() []string {
	ids := make([]string, 0, len(s.LessonProgress))
	for id := range s.LessonProgress {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Normalize rebuilds CompletedLessonIDs from record states so that the two views
// cannot disagree. Completed ids without a record get a Completed record.
func (s *Snapshot) Normalize() {
	if s.LessonProgress == nil {
		s.LessonProgress = make(map[string]LessonProgress)
	}
	for id := range s.CompletedLessonIDs {
		p, ok := s.LessonProgress[id]
		if !ok {
			p = LessonProgress{LessonID: id}
		}
		p.State = Completed
		s.LessonProgress[id] = p
	}
	s.CompletedLessonIDs = make(map[string]struct{})
	for id, p := range s.LessonProgress {
		if p.LessonID == "" {
			p.LessonID = id
			s.LessonProgress[id] = p
		}
		if p.State == Completed {
			s.CompletedLessonIDs[id] = struct{}{}
		}
	}
}

// Equal compares two snapshots field by field, timestamps included.
func (s Snapshot) Equal(o Snapshot) bool {
	if len(s.CompletedLessonIDs) != len(o.CompletedLessonIDs) || len(s.LessonProgress) != len(o.LessonProgress) {
		return false
	}
	for id := range s.CompletedLessonIDs {
		if _, ok := o.CompletedLessonIDs[id]; !ok {
			return false
		}
	}
	for id, a := range s.LessonProgress {
		b, ok := o.LessonProgress[id]
		if !ok || !a.Equal(b) {
			return false
		}
	}
	return true
}

// Equal compares two records, treating timestamps by instant.
func (p LessonProgress) Equal(o LessonProgress) bool {
	return p.LessonID == o.LessonID &&
		p.State == o.State &&
		p.LastPositionSeconds == o.LastPositionSeconds &&
		timeEqual(p.StartedAt, o.StartedAt) &&
		timeEqual(p.CompletedAt, o.CompletedAt)
}

func (p LessonProgress) clone() LessonProgress {
	out := p
	if p.StartedAt != nil {
		t := *p.StartedAt
		out.StartedAt = &t
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

type snapshotJSON struct {
	CompletedLessonIDs []string                  `json:"completed_lesson_ids"`
	LessonProgress     map[string]LessonProgress `json:"lesson_progress"`
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	lp := s.LessonProgress
	if lp == nil {
		lp = map[string]LessonProgress{}
	}
	return json.Marshal(snapshotJSON{CompletedLessonIDs: s.CompletedIDs(), LessonProgress: lp})
}

func (s *Snapshot) UnmarshalJSON(b []byte) error {
	var raw snapshotJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := NewSnapshot()
	for _, id := range raw.CompletedLessonIDs {
		out.CompletedLessonIDs[id] = struct{}{}
	}
	for id, p := range raw.LessonProgress {
		out.LessonProgress[id] = p
	}
	out.Normalize()
	*s = out
	return nil
}

// Time returns a pointer to a UTC copy of t.
func Time(t time.Time) *time.Time {
	u := t.UTC()
	return &u
}
