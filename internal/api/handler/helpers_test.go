package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/daap14/huddle/internal/api/middleware"
	"github.com/daap14/huddle/internal/auth"
)

func makeChiRequest(method, path string, body []byte, routePattern string, params map[string]string) (*http.Request, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()

	if len(params) > 0 {
		rctx := chi.NewRouteContext()
		rctx.RoutePatterns = []string{routePattern}
		for k, v := range params {
			rctx.URLParams.Add(k, v)
		}
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	}

	return req, w
}

// withIdentity runs the request through the Auth middleware so the handler
// sees identity as the authenticated participant.
func withIdentity(h http.HandlerFunc, identity *auth.Identity) http.Handler {
	authenticator := &stubAuthenticator{identity: identity}
	return middleware.Auth(authenticator)(h)
}

type stubAuthenticator struct {
	identity *auth.Identity
}

func (s *stubAuthenticator) Authenticate(context.Context, string) (*auth.Identity, error) {
	if s.identity == nil {
		return nil, auth.ErrInvalidToken
	}
	return s.identity, nil
}

func parseEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var env map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &env)
	require.NoError(t, err, "failed to parse response body")
	return env
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	env := parseEnvelope(t, w)
	errObj, ok := env["error"].(map[string]interface{})
	require.True(t, ok, "expected an error object, got %v", env)
	return errObj["code"].(string)
}
