package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type ctxKey struct{}

// Middleware rejects requests without a valid bearer credential and stores
// the username on the request context.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			unauthorized(w, "missing bearer token")
			return
		}
		claims, err := m.Verify(raw)
		if err != nil {
			unauthorized(w, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), ctxKey{}, claims.Username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Username returns the authenticated user, if any.
func Username(ctx context.Context) (string, bool) {
	u, ok := ctx.Value(ctxKey{}).(string)
	return u, ok
}

func unauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
