package middleware

import (
	"log/slog"
	"net/http"
)

// Recovery converts a panic in a downstream handler into a 500 response
// instead of crashing the process, grounded on the teacher's Recovery
// middleware (api/server/middleware.go).
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic recovered", "error", err, "path", r.URL.Path)
				http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
