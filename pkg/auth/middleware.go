package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/samplecove/samplecove/pkg/logger"
	"github.com/samplecove/samplecove/pkg/storage"
)

// Middleware authenticates requests with a Bearer token and injects the
// resolved Identity into the request context.
type Middleware struct {
	tokens *TokenService
	store  storage.Store
}

// NewMiddleware builds the authentication middleware.
func NewMiddleware(tokens *TokenService, store storage.Store) *Middleware {
	return &Middleware{tokens: tokens, store: store}
}

// Handler wraps next with Bearer authentication. A session token is tried
// first, then an API key token; either failure yields 401.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeUnauthorized(w, "missing bearer token")
			return
		}

		user, err := m.tokens.VerifySession(r.Context(), token)
		if err != nil {
			user, err = m.tokens.VerifyAPIKey(r.Context(), token)
		}
		if err != nil {
			writeUnauthorized(w, "invalid or expired token")
			return
		}

		identity, err := ResolveIdentity(r.Context(), m.store, user)
		if err != nil {
			logger.Errorf("resolving identity for %s: %v", user.Login, err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// bearerToken extracts the Bearer token from the Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
