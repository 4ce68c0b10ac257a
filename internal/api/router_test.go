package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"sigs.k8s.io/yaml"

	specpkg "github.com/daap14/huddle/api"
	"github.com/daap14/huddle/internal/api"
	"github.com/daap14/huddle/internal/api/middleware"
	"github.com/daap14/huddle/internal/auth"
	"github.com/daap14/huddle/internal/coordinator"
	"github.com/daap14/huddle/internal/feed"
	"github.com/daap14/huddle/internal/team"
)

// openAPISpec is the minimal structure needed to extract paths from the spec.
type openAPISpec struct {
	Paths map[string]map[string]interface{} `json:"paths"`
}

func newTestRouter() (*chi.Mux, *feed.Broker) {
	broker := feed.NewBroker()
	repo := team.NewMemoryRepository(broker)
	authService := auth.NewService(repo, bcrypt.MinCost)
	coord := coordinator.New(repo, authService, time.Second)

	return api.NewRouter(api.RouterDeps{
		Teams:       coord,
		Auth:        authService,
		Feed:        broker,
		Toucher:     coord,
		StoreDriver: "memory",
		Version:     "test",
		OpenAPISpec: specpkg.OpenAPISpec,
	}), broker
}

func TestOpenAPISpec_RoutesCoverAllPaths(t *testing.T) {
	t.Parallel()

	// Parse spec paths from the embedded YAML
	specJSON, err := yaml.YAMLToJSON(specpkg.OpenAPISpec)
	require.NoError(t, err, "embedded spec must convert to JSON")

	var spec openAPISpec
	err = yaml.Unmarshal(specJSON, &spec)
	require.NoError(t, err, "spec JSON must unmarshal")

	specRoutes := extractSpecRoutes(t, spec)
	require.NotEmpty(t, specRoutes, "spec should define at least one route")

	router, _ := newTestRouter()
	chiRoutes := extractChiRoutes(t, router)
	require.NotEmpty(t, chiRoutes, "Chi router should have at least one route")

	// Every spec path+method must have a matching Chi route
	for _, sr := range specRoutes {
		t.Run(fmt.Sprintf("spec_%s_%s_has_Chi_route", sr.method, sr.path), func(t *testing.T) {
			assert.Contains(t, chiRoutes, sr, "spec route %s %s not found in Chi router", sr.method, sr.path)
		})
	}

	// Every Chi route must have a matching spec path+method
	for _, cr := range chiRoutes {
		t.Run(fmt.Sprintf("Chi_%s_%s_has_spec_path", cr.method, cr.path), func(t *testing.T) {
			assert.Contains(t, specRoutes, cr, "Chi route %s %s not found in OpenAPI spec", cr.method, cr.path)
		})
	}
}

type route struct {
	method string
	path   string
}

func sortRoutes(routes []route) {
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].path == routes[j].path {
			return routes[i].method < routes[j].method
		}
		return routes[i].path < routes[j].path
	})
}

func extractSpecRoutes(t *testing.T, spec openAPISpec) []route {
	t.Helper()
	var routes []route
	for path, methods := range spec.Paths {
		for method := range methods {
			routes = append(routes, route{method: strings.ToUpper(method), path: path})
		}
	}
	sortRoutes(routes)
	return routes
}

func extractChiRoutes(t *testing.T, r *chi.Mux) []route {
	t.Helper()
	var routes []route
	walkFunc := func(method, routePath string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		// Chi subroutes produce trailing slashes (e.g. /teams/) while OpenAPI
		// uses /teams.
		normalized := strings.TrimRight(routePath, "/")
		if normalized == "" {
			normalized = "/"
		}
		routes = append(routes, route{method: method, path: normalized})
		return nil
	}
	require.NoError(t, chi.Walk(r, walkFunc), "chi.Walk should not error")
	sortRoutes(routes)
	return routes
}

// --- End-to-end over the in-memory store ---

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code string `json:"code"`
	} `json:"error"`
}

type admission struct {
	Team struct {
		ID     string `json:"id"`
		Code   string `json:"code"`
		Status string `json:"status"`
	} `json:"team"`
	Member struct {
		ID string `json:"id"`
	} `json:"member"`
	Token string `json:"token"`
}

func call(t *testing.T, srv *httptest.Server, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(middleware.TokenHeader, token)
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestRouter_LobbyFlow(t *testing.T) {
	t.Parallel()
	router, _ := newTestRouter()
	srv := httptest.NewServer(router)
	defer srv.Close()

	status, env := call(t, srv, http.MethodPost, "/teams", "", map[string]string{"name": "alice"})
	require.Equal(t, http.StatusCreated, status)
	var leader admission
	require.NoError(t, json.Unmarshal(env.Data, &leader))

	// Watch the lobby.
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/teams/" + leader.Team.ID + "/feed"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{middleware.TokenHeader: {leader.Token}})
	require.NoError(t, err)
	defer conn.Close()
	var msg map[string]string
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "subscribed", msg["type"])

	// Starting alone is refused.
	status, env = call(t, srv, http.MethodPost, "/teams/"+leader.Team.ID+"/start", leader.Token, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "INSUFFICIENT_PLAYERS", env.Error.Code)

	status, env = call(t, srv, http.MethodPost, "/teams/join", "", map[string]string{"code": strings.ToLower(leader.Team.Code), "name": "bob"})
	require.Equal(t, http.StatusOK, status)
	var bob admission
	require.NoError(t, json.Unmarshal(env.Data, &bob))
	assert.Equal(t, leader.Team.ID, bob.Team.ID)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "changed", msg["type"])

	// Duplicate names are refused regardless of case.
	status, env = call(t, srv, http.MethodPost, "/teams/join", "", map[string]string{"code": leader.Team.Code, "name": "BOB"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "DUPLICATE_NAME", env.Error.Code)

	// Only the leader may start.
	status, env = call(t, srv, http.MethodPost, "/teams/"+leader.Team.ID+"/start", bob.Token, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "NOT_LEADER", env.Error.Code)

	status, _ = call(t, srv, http.MethodPost, "/teams/"+leader.Team.ID+"/start", leader.Token, nil)
	require.Equal(t, http.StatusOK, status)

	status, env = call(t, srv, http.MethodGet, "/teams/"+leader.Team.ID, "", nil)
	require.Equal(t, http.StatusOK, status)
	var snap struct {
		Team struct {
			Status string `json:"status"`
		} `json:"team"`
		Members []struct {
			Name string `json:"name"`
		} `json:"members"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Equal(t, "playing", snap.Team.Status)
	require.Len(t, snap.Members, 2)
	assert.Equal(t, "alice", snap.Members[0].Name)
	assert.Equal(t, "bob", snap.Members[1].Name)

	// The code no longer admits anyone.
	status, env = call(t, srv, http.MethodPost, "/teams/join", "", map[string]string{"code": leader.Team.Code, "name": "carol"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "TEAM_NOT_FOUND", env.Error.Code)
}

func TestRouter_TokenOfAnotherTeamIsForbidden(t *testing.T) {
	t.Parallel()
	router, _ := newTestRouter()
	srv := httptest.NewServer(router)
	defer srv.Close()

	_, env := call(t, srv, http.MethodPost, "/teams", "", map[string]string{"name": "alice"})
	var first admission
	require.NoError(t, json.Unmarshal(env.Data, &first))
	_, env = call(t, srv, http.MethodPost, "/teams", "", map[string]string{"name": "zed"})
	var second admission
	require.NoError(t, json.Unmarshal(env.Data, &second))

	status, env := call(t, srv, http.MethodPost, "/teams/"+first.Team.ID+"/start", second.Token, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	status, env = call(t, srv, http.MethodPost, "/teams/"+first.Team.ID+"/start", "hdl_forged-token-value", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)
}

func TestRouter_Health(t *testing.T) {
	t.Parallel()
	router, _ := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
