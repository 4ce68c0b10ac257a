package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/daap14/huddle/internal/api/response"
	"github.com/daap14/huddle/internal/auth"
)

// TokenHeader carries the participant token.
const TokenHeader = "X-Participant-Token"

const identityKey contextKey = "identity"

// Authenticator resolves raw participant tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (*auth.Identity, error)
}

// Auth is middleware that extracts the participant token and resolves it to an
// Identity. The token is read from the X-Participant-Token header, falling back
// to the token query parameter for websocket clients that cannot set headers.
// Missing or invalid tokens return 401.
func Auth(authenticator Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := GetRequestID(r.Context())

			raw := r.Header.Get(TokenHeader)
			if raw == "" {
				raw = r.URL.Query().Get("token")
			}
			if raw == "" {
				response.Err(w, http.StatusUnauthorized, "UNAUTHORIZED", "Participant token is required", requestID)
				return
			}

			identity, err := authenticator.Authenticate(r.Context(), raw)
			if err != nil {
				if errors.Is(err, auth.ErrInvalidToken) {
					response.Err(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid participant token", requestID)
					return
				}
				response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Authentication failed", requestID)
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetIdentity retrieves the authenticated Identity from the request context.
func GetIdentity(ctx context.Context) *auth.Identity {
	if id, ok := ctx.Value(identityKey).(*auth.Identity); ok {
		return id
	}
	return nil
}
