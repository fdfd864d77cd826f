// Package handlers serves the lesson progress HTTP API.
package handlers

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/lesson-progress/internal/platform/auth"
)

// Mount registers the progress routes on r. r must already carry the base
// middlewares from httpserver.SetupRouter.
func Mount(r chi.Router, d Deps, verifier auth.JWTVerifier) {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser(verifier))
		r.Get("/progress", ListProgress(d))
		r.With(d.Limiter.Middleware).Post("/lessons/{lesson_id}/progress", UpsertProgress(d))

		r.With(auth.RequireAdmin).Delete("/admin/users/{user_id}/progress", ResetUserProgress(d))
	})
}
