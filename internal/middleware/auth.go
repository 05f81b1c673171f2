package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/roomdesk/api/internal/auth"
)

type contextKey struct{}

// Authenticate requires a valid bearer token and puts the staff member it
// was issued to in the request context.
func Authenticate(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
				return
			}

			staff, err := auth.ValidateToken(jwtSecret, token)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
				return
			}

			next.ServeHTTP(w, r.WithContext(WithStaff(r.Context(), staff)))
		})
	}
}

// Require lets the request through only when allowed accepts the
// authenticated staff member, e.g. Require(auth.Staff.CanHandOver).
func Require(allowed func(auth.Staff) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			staff, ok := StaffFromContext(r.Context())
			if !ok {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
				return
			}
			if !allowed(staff) {
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "insufficient permissions"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func WithStaff(ctx context.Context, staff auth.Staff) context.Context {
	return context.WithValue(ctx, contextKey{}, staff)
}

func StaffFromContext(ctx context.Context) (auth.Staff, bool) {
	staff, ok := ctx.Value(contextKey{}).(auth.Staff)
	return staff, ok
}

// bearerToken returns the token of an "Authorization: Bearer <token>"
// header.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
