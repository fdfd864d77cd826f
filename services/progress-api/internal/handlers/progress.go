package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/example/lesson-progress/internal/platform/api"
	"github.com/example/lesson-progress/internal/platform/auth"
	"github.com/example/lesson-progress/internal/platform/events"
	"github.com/example/lesson-progress/internal/platform/httpserver"
	"github.com/example/lesson-progress/services/progress-api/internal/ratelimit"
	"github.com/example/lesson-progress/services/progress-api/internal/store"
)

const maxLessonIDLen = 200

// Deps are shared by every handler. Events and Limiter may be nil.
type Deps struct {
	Repo    store.Repository
	Events  *events.Publisher
	Limiter *ratelimit.Limiter // throttles progress writes per user
	Log     *zap.Logger
	Now     func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

type progressRow struct {
	LessonID       string `json:"lesson_id"`
	SecondsWatched int    `json:"seconds_watched"`
	Completed      bool   `json:"completed"`
	UpdatedAt      string `json:"updated_at"`
}

type progressListResponse struct {
	Progress []progressRow `json:"progress"`
}

type upsertProgressRequest struct {
	SecondsWatched *int  `json:"seconds_watched" validate:"required,min=0"`
	Completed      *bool `json:"completed"`
}

var validate = validator.New()

func toRow(r store.Record) progressRow {
	return progressRow{
		LessonID:       r.LessonID,
		SecondsWatched: r.SecondsWatched,
		Completed:      r.Completed,
		UpdatedAt:      r.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// ListProgress answers GET /progress with every row of the caller.
func ListProgress(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok || strings.TrimSpace(uid) == "" {
			api.Unauthorized(w, "AUTH_MISSING", "Missing auth", rid)
			return
		}

		recs, err := d.Repo.List(r.Context(), uid)
		if err != nil {
			writeRepoError(w, d.Log, rid, err)
			return
		}
		resp := progressListResponse{Progress: make([]progressRow, 0, len(recs))}
		for _, rec := range recs {
			resp.Progress = append(resp.Progress, toRow(rec))
		}
		api.WriteJSON(w, http.StatusOK, resp)
	}
}

// UpsertProgress answers POST /lessons/{lesson_id}/progress.
func UpsertProgress(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok || strings.TrimSpace(uid) == "" {
			api.Unauthorized(w, "AUTH_MISSING", "Missing auth", rid)
			return
		}

		lessonID, err := pathParam(r, "lesson_id")
		if err != nil || lessonID == "" || len(lessonID) > maxLessonIDLen {
			api.BadRequest(w, "INVALID_LESSON_ID", "Invalid lesson id", rid, nil)
			return
		}

		var req upsertProgressRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
			api.BadRequest(w, "INVALID_JSON", "Invalid JSON", rid, nil)
			return
		}
		if err := validate.Struct(req); err != nil {
			api.BadRequest(w, "INVALID_BODY", "seconds_watched must be a non-negative integer", rid,
				map[string]any{"field": "seconds_watched"})
			return
		}

		rec, changed, err := d.Repo.Upsert(r.Context(), store.Update{
			UserID:         uid,
			LessonID:       lessonID,
			SecondsWatched: *req.SecondsWatched,
			Completed:      req.Completed,
		}, d.now())
		if err != nil {
			writeRepoError(w, d.Log, rid, err)
			return
		}
		if changed {
			d.Events.Publish(events.SubjectProgressUpdated, "progress_updated", uid, map[string]any{
				"lesson_id":       rec.LessonID,
				"seconds_watched": rec.SecondsWatched,
				"completed":       rec.Completed,
				"updated_at":      rec.UpdatedAt.UTC(),
			})
		}
		api.WriteJSON(w, http.StatusOK, toRow(rec))
	}
}

type resetResponse struct {
	UserID  string `json:"user_id"`
	Deleted int    `json:"deleted"`
}

// ResetUserProgress answers DELETE /admin/users/{user_id}/progress.
func ResetUserProgress(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		userID, err := pathParam(r, "user_id")
		if err != nil || userID == "" {
			api.BadRequest(w, "INVALID_USER_ID", "Invalid user id", rid, nil)
			return
		}
		n, err := d.Repo.DeleteUser(r.Context(), userID)
		if err != nil {
			writeRepoError(w, d.Log, rid, err)
			return
		}
		admin, _ := auth.UserIDFromContext(r.Context())
		d.Log.Info("progress reset", zap.String("user_id", userID), zap.String("by", admin), zap.Int("deleted", n))
		api.WriteJSON(w, http.StatusOK, resetResponse{UserID: userID, Deleted: n})
	}
}

// pathParam returns a decoded route parameter. chi matches against RawPath
// when the request needed escaping, so the value may still be escaped.
func pathParam(r *http.Request, name string) (string, error) {
	v := chi.URLParam(r, name)
	if r.URL.RawPath != "" {
		var err error
		if v, err = url.PathUnescape(v); err != nil {
			return "", err
		}
	}
	return strings.TrimSpace(v), nil
}

func writeRepoError(w http.ResponseWriter, log *zap.Logger, rid string, err error) {
	if errors.Is(err, store.ErrUnavailable) {
		log.Warn("progress repository unavailable", zap.String("request_id", rid), zap.Error(err))
		api.Unavailable(w, "UNAVAILABLE", "Progress storage unavailable", rid)
		return
	}
	log.Error("progress repository failed", zap.String("request_id", rid), zap.Error(err))
	api.Internal(w, rid)
}
