package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

type contextKey string

const userIDContextKey contextKey = "user_id"

// Auth reads the caller's identity off X-User-ID, validating its shape
// before trusting it downstream (grounded on the teacher's header-based
// Auth middleware — "suitable for internal VPN deployments", the same
// caveat applies here: this is not an authentication scheme, it trusts
// whatever sits in front of the orchestrator to have authenticated the
// caller).
func Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if userID == "" {
			http.Error(w, "X-User-ID header is required", http.StatusUnauthorized)
			return
		}
		if !isValidUserID(userID) {
			slog.Warn("rejected request with malformed user id", "path", r.URL.Path)
			http.Error(w, "invalid user id format", http.StatusBadRequest)
			return
		}

		ctx := context.WithValue(r.Context(), userIDContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserID returns the caller's identity attached by Auth, or "" if absent.
func UserID(ctx context.Context) string {
	userID, _ := ctx.Value(userIDContextKey).(string)
	return userID
}

func isValidUserID(userID string) bool {
	if userID == "" || len(userID) > 255 {
		return false
	}
	for _, ch := range userID {
		if !((ch >= 'a' && ch <= 'z') ||
			(ch >= 'A' && ch <= 'Z') ||
			(ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '_' || ch == '.' || ch == '@') {
			return false
		}
	}
	return true
}
