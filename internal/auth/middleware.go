package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Middleware rejects requests without a valid bearer token and stores the caller's
// Identity in the request context.
func Middleware(v Verifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			unauthorized(w, "Missing Authorization header")
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			unauthorized(w, "Invalid Authorization format")
			return
		}

		id, err := v.Verify(r.Context(), token)
		if err != nil {
			slog.Debug("rejected bearer token", "path", r.URL.Path, "error", err)
			unauthorized(w, "Invalid token")
			return
		}
		id.ClientID = ClientIDFromRequest(r)

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// ClientIDFromRequest parses the X-Client-Sync-Id header, returning uuid.Nil when it is
// absent or malformed.
func ClientIDFromRequest(r *http.Request) uuid.UUID {
	id, err := uuid.Parse(r.Header.Get(ClientIDHeader))
	if err != nil {
		return uuid.Nil
	}
	return id
}

// BearerToken returns the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		slog.Error("failed to write json response", "error", err)
	}
}
