package auth

import (
	"net/http"
	"strings"

	"github.com/example/lesson-progress/internal/platform/api"
	"github.com/example/lesson-progress/internal/platform/httpserver"
)

// RequireAdmin must run after RequireUser; it admits only role=admin.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, _ := RoleFromContext(r.Context())
		if !strings.EqualFold(strings.TrimSpace(role), "admin") {
			api.Forbidden(w, "ADMIN_ONLY", "admin role required", httpserver.RequestIDFromContext(r.Context()))
			return
		}
		next.ServeHTTP(w, r)
	})
}
