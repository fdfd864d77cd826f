// Package store keeps each user's lesson progress for the progress API.
package store

import (
	"context"
	"errors"
	"time"
)

var ErrUnavailable = errors.New("progress repository unavailable")

// Record is the server's view of one lesson for one user.
type Record struct {
	UserID         string
	LessonID       string
	SecondsWatched int
	Completed      bool
	UpdatedAt      time.Time
}

// Update is one client report. Completed=nil leaves completion as it is.
type Update struct {
	UserID         string
	LessonID       string
	SecondsWatched int
	Completed      *bool
}

// Repository persists progress. Upsert never lowers SecondsWatched and never
// clears Completed; UpdatedAt moves only when the stored row changed.
type Repository interface {
	Upsert(ctx context.Context, u Update, now time.Time) (rec Record, changed bool, err error)
	// List returns the user's rows, most recently updated first.
	List(ctx context.Context, userID string) ([]Record, error)
	// DeleteUser removes every row of userID and reports how many went.
	DeleteUser(ctx context.Context, userID string) (int, error)
	Ping(ctx context.Context) error
}

// apply folds u into cur. It reports whether anything changed.
func apply(cur Record, u Update, now time.Time) (Record, bool) {
	changed := false
	if u.SecondsWatched > cur.SecondsWatched {
		cur.SecondsWatched = u.SecondsWatched
		changed = true
	}
	if u.Completed != nil && *u.Completed && !cur.Completed {
		cur.Completed = true
		changed = true
	}
	if changed || cur.UpdatedAt.IsZero() {
		cur.UpdatedAt = now.UTC()
		changed = true
	}
	return cur, changed
}
