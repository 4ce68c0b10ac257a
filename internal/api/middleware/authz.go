package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/daap14/huddle/internal/api/response"
)

// RequireTeamMember returns middleware that rejects identities that do not
// belong to the team named by the given URL parameter.
func RequireTeamMember(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := GetRequestID(r.Context())

			teamID, err := uuid.Parse(chi.URLParam(r, param))
			if err != nil {
				response.Err(w, http.StatusBadRequest, "INVALID_ID", "id must be a valid UUID", requestID)
				return
			}

			identity := GetIdentity(r.Context())
			if identity == nil {
				response.Err(w, http.StatusUnauthorized, "UNAUTHORIZED", "Participant token is required", requestID)
				return
			}

			if identity.TeamID != teamID {
				response.Err(w, http.StatusForbidden, "FORBIDDEN", "Token does not belong to this team", requestID)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
