package response_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daap14/huddle/internal/api/response"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestNewMeta(t *testing.T) {
	t.Parallel()

	meta := response.NewMeta("req-1")
	assert.Equal(t, "req-1", meta.RequestID)
	_, err := time.Parse(time.RFC3339, meta.Timestamp)
	assert.NoError(t, err)

	generated := response.NewMeta("")
	assert.NotEmpty(t, generated.RequestID)
}

func TestSuccess(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()

	response.Success(w, http.StatusCreated, map[string]string{"code": "ABCDEF"}, "req-1")

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	env := decode(t, w)
	assert.Nil(t, env["error"])
	assert.Equal(t, "ABCDEF", env["data"].(map[string]any)["code"])
	assert.Equal(t, "req-1", env["meta"].(map[string]any)["requestId"])
}

func TestSuccessList(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()

	response.SuccessList(w, http.StatusOK, []string{"alice", "bob"}, 2, "req-2")

	env := decode(t, w)
	assert.Len(t, env["data"], 2)
	meta := env["meta"].(map[string]any)
	assert.Equal(t, float64(2), meta["total"])
	assert.Equal(t, "req-2", meta["requestId"])
}

func TestErr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		write   func(w http.ResponseWriter)
		status  int
		code    string
		details bool
	}{
		{
			name:   "plain",
			write:  func(w http.ResponseWriter) { response.Err(w, http.StatusConflict, "DUPLICATE_NAME", "taken", "r") },
			status: http.StatusConflict,
			code:   "DUPLICATE_NAME",
		},
		{
			name: "with details",
			write: func(w http.ResponseWriter) {
				details := []map[string]string{{"field": "name", "message": "name is required"}}
				response.ErrWithDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid", details, "r")
			},
			status:  http.StatusBadRequest,
			code:    "VALIDATION_ERROR",
			details: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := httptest.NewRecorder()

			tt.write(w)

			assert.Equal(t, tt.status, w.Code)
			env := decode(t, w)
			assert.Nil(t, env["data"])
			errObj := env["error"].(map[string]any)
			assert.Equal(t, tt.code, errObj["code"])
			if tt.details {
				assert.NotNil(t, errObj["details"])
			} else {
				assert.NotContains(t, errObj, "details")
			}
		})
	}
}

func TestRetry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		after time.Duration
		want  string
	}{
		{after: 0, want: "1"},
		{after: 300 * time.Millisecond, want: "1"},
		{after: 2 * time.Second, want: "2"},
		{after: 2500 * time.Millisecond, want: "3"},
	}

	for _, tt := range tests {
		w := httptest.NewRecorder()
		response.Retry(w, tt.after, "try again", "r")

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, tt.want, w.Header().Get("Retry-After"), "after %s", tt.after)
		assert.Equal(t, "RETRYABLE", decode(t, w)["error"].(map[string]any)["code"])
	}
}
