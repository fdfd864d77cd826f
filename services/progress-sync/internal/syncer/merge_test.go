package syncer

import (
	"math/rand"
	"testing"
	"time"

	"github.com/example/lesson-progress/services/progress-sync/internal/model"
	"github.com/example/lesson-progress/services/progress-sync/internal/remote"
)

var mergeNow = time.Date(2026, 1, 8, 12, 0, 0, 0, time.UTC)

func row(id string, seconds int, completed bool) remote.Row {
	return remote.Row{LessonID: id, SecondsWatched: seconds, Completed: completed}
}

func TestMerge_RemoteAdvancesNotStarted(t *testing.T) {
	local := model.NewSnapshot()
	local.LessonProgress["L1"] = model.LessonProgress{LessonID: "L1", State: model.NotStarted}

	got := Merge(local, []remote.Row{row("L1", 120, false)}, mergeNow)

	rec := got.LessonProgress["L1"]
	if rec.State != model.InProgress || rec.LastPositionSeconds != 120 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.StartedAt == nil || !rec.StartedAt.Equal(mergeNow) {
		t.Fatalf("expected startedAt=now, got %v", rec.StartedAt)
	}
	if rec.CompletedAt != nil {
		t.Fatal("completedAt must stay unset")
	}
}

func TestMerge_LocalAheadIsKept(t *testing.T) {
	started := mergeNow.Add(-time.Hour)
	local := model.NewSnapshot()
	local.LessonProgress["L1"] = model.LessonProgress{LessonID: "L1", State: model.InProgress, LastPositionSeconds: 200, StartedAt: &started}

	got := Merge(local, []remote.Row{row("L1", 50, false)}, mergeNow)

	rec := got.LessonProgress["L1"]
	if rec.LastPositionSeconds != 200 {
		t.Fatalf("position regressed to %v", rec.LastPositionSeconds)
	}
	if rec.State != model.InProgress {
		t.Fatalf("expected InProgress, got %v", rec.State)
	}
	if !rec.StartedAt.Equal(started) {
		t.Fatal("startedAt must be preserved")
	}
}

func TestMerge_RemoteCompletedNewLesson(t *testing.T) {
	got := Merge(model.NewSnapshot(), []remote.Row{row("L2", 10, true)}, mergeNow)

	rec := got.LessonProgress["L2"]
	if rec.State != model.Completed || rec.LastPositionSeconds != 10 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.CompletedAt == nil || !rec.CompletedAt.Equal(mergeNow) {
		t.Fatalf("expected completedAt=now, got %v", rec.CompletedAt)
	}
	if !got.IsCompleted("L2") {
		t.Fatal("expected L2 in completed set")
	}
}

func TestMerge_CompletionIsSticky(t *testing.T) {
	done := mergeNow.Add(-24 * time.Hour)
	local := model.NewSnapshot()
	local.LessonProgress["L1"] = model.LessonProgress{LessonID: "L1", State: model.Completed, LastPositionSeconds: 300, CompletedAt: &done}
	local.CompletedLessonIDs["L1"] = struct{}{}

	got := Merge(local, []remote.Row{row("L1", 0, false)}, mergeNow)

	rec := got.LessonProgress["L1"]
	if rec.State != model.Completed || !got.IsCompleted("L1") {
		t.Fatalf("completion reverted: %+v", rec)
	}
	if !rec.CompletedAt.Equal(done) {
		t.Fatal("completedAt overwritten")
	}
}

func TestMerge_ZeroSecondsStaysNotStarted(t *testing.T) {
	got := Merge(model.NewSnapshot(), []remote.Row{row("L1", 0, false)}, mergeNow)

	rec := got.LessonProgress["L1"]
	if rec.State != model.NotStarted || rec.StartedAt != nil {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestMerge_NegativeServerSecondsClamped(t *testing.T) {
	got := Merge(model.NewSnapshot(), []remote.Row{row("L1", -30, false)}, mergeNow)
	if got.LessonProgress["L1"].LastPositionSeconds != 0 {
		t.Fatalf("expected clamp to 0, got %v", got.LessonProgress["L1"].LastPositionSeconds)
	}
}

func TestMerge_LocalOnlyRecordsUntouched(t *testing.T) {
	local := model.NewSnapshot()
	local.LessonProgress["local-only"] = model.LessonProgress{LessonID: "local-only", State: model.InProgress, LastPositionSeconds: 77}

	got := Merge(local, []remote.Row{row("L1", 5, false)}, mergeNow)

	if !got.LessonProgress["local-only"].Equal(local.LessonProgress["local-only"]) {
		t.Fatalf("local-only record changed: %+v", got.LessonProgress["local-only"])
	}
}

func TestMerge_BlankLessonIDSkipped(t *testing.T) {
	got := Merge(model.NewSnapshot(), []remote.Row{row("L1", 120, true), row("", 3, false), row(" ", 9, true)}, mergeNow)

	if len(got.LessonProgress) != 1 || !got.IsCompleted("L1") {
		t.Fatalf("expected only L1, got %+v", got.LessonProgress)
	}
}

func TestMerge_DoesNotAliasInput(t *testing.T) {
	local := model.NewSnapshot()
	_ = Merge(local, []remote.Row{row("L1", 5, true)}, mergeNow)
	if len(local.LessonProgress) != 0 || len(local.CompletedLessonIDs) != 0 {
		t.Fatal("merge modified its input")
	}
}

// randomSnapshot builds a consistent local snapshot over a small id space so
// that rows and records overlap.
func randomSnapshot(r *rand.Rand) model.Snapshot {
	s := model.NewSnapshot()
	for i := 0; i < 6; i++ {
		if r.Intn(3) == 0 {
			continue
		}
		id := string(rune('A' + i))
		rec := model.LessonProgress{LessonID: id, LastPositionSeconds: float64(r.Intn(400))}
		switch r.Intn(3) {
		case 0:
			rec.State = model.NotStarted
			rec.LastPositionSeconds = 0
		case 1:
			rec.State = model.InProgress
			rec.StartedAt = model.Time(mergeNow.Add(-time.Hour))
		case 2:
			rec.State = model.Completed
			rec.StartedAt = model.Time(mergeNow.Add(-time.Hour))
			rec.CompletedAt = model.Time(mergeNow.Add(-time.Minute))
			s.CompletedLessonIDs[id] = struct{}{}
		}
		s.LessonProgress[id] = rec
	}
	return s
}

func randomRows(r *rand.Rand) []remote.Row {
	var rows []remote.Row
	for i := 0; i < 6; i++ {
		if r.Intn(2) == 0 {
			continue
		}
		rows = append(rows, row(string(rune('A'+i)), r.Intn(400), r.Intn(4) == 0))
	}
	return rows
}

func TestMerge_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		local := randomSnapshot(r)
		rows := randomRows(r)

		once := Merge(local, rows, mergeNow)
		twice := Merge(once, rows, mergeNow.Add(time.Hour))

		if !once.Equal(twice) {
			t.Fatalf("iteration %d: merge not idempotent\nonce  %+v\ntwice %+v", i, once, twice)
		}

		for _, rw := range rows {
			want := float64(rw.SecondsWatched)
			if l, ok := local.LessonProgress[rw.LessonID]; ok && l.LastPositionSeconds > want {
				want = l.LastPositionSeconds
			}
			if got := once.LessonProgress[rw.LessonID].LastPositionSeconds; got != want {
				t.Fatalf("iteration %d: %s seconds=%v want %v", i, rw.LessonID, got, want)
			}
		}

		for id, l := range local.LessonProgress {
			if l.State == model.Completed && once.LessonProgress[id].State != model.Completed {
				t.Fatalf("iteration %d: %s lost completion", i, id)
			}
		}

		for id, rec := range once.LessonProgress {
			if (rec.State == model.Completed) != once.IsCompleted(id) {
				t.Fatalf("iteration %d: completed set disagrees with %s state %v", i, id, rec.State)
			}
		}
		for id := range once.CompletedLessonIDs {
			if _, ok := once.LessonProgress[id]; !ok {
				t.Fatalf("iteration %d: completed id %s has no record", i, id)
			}
		}
	}
}
