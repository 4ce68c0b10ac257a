// Package client talks to a huddle server over HTTP and websockets. Error
// codes in responses are mapped back to the sentinel errors of the team and
// coordinator packages so callers can match them with errors.Is.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/daap14/huddle/internal/coordinator"
	"github.com/daap14/huddle/internal/team"
)

// TokenHeader carries the participant token on authenticated requests.
const TokenHeader = "X-Participant-Token"

// maxResponseSize caps decoded response bodies.
const maxResponseSize = 1 << 20

// Client is a huddle API client.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	dialer  *websocket.Dialer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithDialer sets the websocket dialer used by Subscribe.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url must use http or https, got %q", baseURL)
	}

	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: 10 * time.Second},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Create creates a team led by name.
func (c *Client) Create(ctx context.Context, name string) (*coordinator.Admission, error) {
	var out admission
	if err := c.do(ctx, http.MethodPost, "/teams", "", map[string]string{"name": name}, &out); err != nil {
		return nil, err
	}
	return out.decode()
}

// Join joins the waiting team identified by code.
func (c *Client) Join(ctx context.Context, code, name string) (*coordinator.Admission, error) {
	body := map[string]string{"code": code, "name": name}
	var out admission
	if err := c.do(ctx, http.MethodPost, "/teams/join", "", body, &out); err != nil {
		return nil, err
	}
	return out.decode()
}

// Snapshot fetches the team and its ordered members.
func (c *Client) Snapshot(ctx context.Context, teamID uuid.UUID) (*team.Snapshot, error) {
	var out snapshot
	if err := c.do(ctx, http.MethodGet, "/teams/"+teamID.String(), "", nil, &out); err != nil {
		return nil, err
	}
	return out.decode()
}

// Members fetches the ordered member list of a team.
func (c *Client) Members(ctx context.Context, teamID uuid.UUID) ([]team.Member, error) {
	var out []member
	if err := c.do(ctx, http.MethodGet, "/teams/"+teamID.String()+"/members", "", nil, &out); err != nil {
		return nil, err
	}
	return decodeMembers(out), nil
}

// Start moves a waiting team to playing. token must belong to the leader.
func (c *Client) Start(ctx context.Context, teamID uuid.UUID, token string) (*team.Team, error) {
	return c.transition(ctx, teamID, "start", token)
}

// Finish moves a playing team to finished. token must belong to the leader.
func (c *Client) Finish(ctx context.Context, teamID uuid.UUID, token string) (*team.Team, error) {
	return c.transition(ctx, teamID, "finish", token)
}

func (c *Client) transition(ctx context.Context, teamID uuid.UUID, action, token string) (*team.Team, error) {
	var out teamBody
	if err := c.do(ctx, http.MethodPost, "/teams/"+teamID.String()+"/"+action, token, nil, &out); err != nil {
		return nil, err
	}
	t, err := out.decode()
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(TokenHeader, token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", coordinator.ErrRetryable, method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&env); err != nil {
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %s %s: status %d", coordinator.ErrRetryable, method, path, resp.StatusCode)
		}
		return fmt.Errorf("decoding response (status %d): %w", resp.StatusCode, err)
	}

	if env.Error != nil {
		return env.Error.err()
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decoding response data: %w", err)
	}
	return nil
}

// APIError is a server error with a code no sentinel covers.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

var codeErrors = map[string]error{
	"TEAM_NOT_FOUND":       team.ErrTeamNotFound,
	"DUPLICATE_NAME":       team.ErrDuplicateName,
	"NOT_WAITING":          team.ErrNotWaiting,
	"CREATE_FAILED":        team.ErrCreateFailed,
	"INVALID_NAME":         coordinator.ErrInvalidName,
	"NOT_LEADER":           coordinator.ErrNotLeader,
	"INSUFFICIENT_PLAYERS": coordinator.ErrInsufficientPlayers,
	"RETRYABLE":            coordinator.ErrRetryable,
}

func (e *apiError) err() error {
	if sentinel, ok := codeErrors[e.Code]; ok {
		return fmt.Errorf("%w: %s", sentinel, e.Message)
	}
	return &APIError{Code: e.Code, Message: e.Message}
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
