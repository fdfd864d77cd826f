package syncer

import (
	"math"
	"strings"
	"time"

	"github.com/example/lesson-progress/services/progress-sync/internal/model"
	"github.com/example/lesson-progress/services/progress-sync/internal/remote"
)

// Merge folds server rows into local and returns the result. Only lessons present
// in rows are visited; local-only records pass through unchanged even when the
// server has never heard of them.
//
// Rows without a lesson id are skipped. Per lesson: seconds take the maximum of both sides, completion from either side
// wins and never reverts, and timestamps already set are kept. Running Merge again
// with the same rows yields the same snapshot.
func Merge(local model.Snapshot, rows []remote.Row, now time.Time) model.Snapshot {
	out := local.Clone()

	for _, row := range rows {
		id := row.LessonID
		if strings.TrimSpace(id) == "" {
			continue
		}
		serverSeconds := float64(max(0, row.SecondsWatched))

		rec, ok := out.LessonProgress[id]
		if !ok {
			rec = model.LessonProgress{LessonID: id, State: model.NotStarted}
		}
		localCompleted := rec.State == model.Completed

		merged := rec
		merged.LessonID = id
		merged.LastPositionSeconds = math.Max(rec.LastPositionSeconds, serverSeconds)

		switch {
		case row.Completed || localCompleted:
			merged.State = model.Completed
		case merged.LastPositionSeconds > 0:
			merged.State = model.InProgress
		default:
			merged.State = model.NotStarted
		}

		if merged.State == model.Completed && merged.CompletedAt == nil {
			merged.CompletedAt = model.Time(now)
		}
		if merged.StartedAt == nil && merged.LastPositionSeconds > 0 {
			merged.StartedAt = model.Time(now)
		}

		out.LessonProgress[id] = merged
		if merged.State == model.Completed {
			out.CompletedLessonIDs[id] = struct{}{}
		}
	}
	return out
}
