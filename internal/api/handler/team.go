package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/daap14/huddle/internal/api/middleware"
	"github.com/daap14/huddle/internal/api/response"
	"github.com/daap14/huddle/internal/api/validation"
	"github.com/daap14/huddle/internal/coordinator"
	"github.com/daap14/huddle/internal/team"
)

const timeLayout = time.RFC3339Nano

// TeamService is the lobby logic behind the team endpoints.
type TeamService interface {
	Create(ctx context.Context, leaderName string) (*coordinator.Admission, error)
	Join(ctx context.Context, code, name string) (*coordinator.Admission, error)
	Start(ctx context.Context, teamID uuid.UUID, requesterIsLeader bool) (*team.Team, error)
	Finish(ctx context.Context, teamID uuid.UUID, requesterIsLeader bool) (*team.Team, error)
	Snapshot(ctx context.Context, teamID uuid.UUID) (*team.Snapshot, error)
	ListMembers(ctx context.Context, teamID uuid.UUID) ([]team.Member, error)
}

type createTeamRequest struct {
	Name string `json:"name"`
}

type joinTeamRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type teamResponse struct {
	ID         string  `json:"id"`
	Code       string  `json:"code"`
	LeaderName string  `json:"leaderName"`
	Status     string  `json:"status"`
	CreatedAt  string  `json:"createdAt"`
	StartedAt  *string `json:"startedAt,omitempty"`
	FinishedAt *string `json:"finishedAt,omitempty"`
}

type memberResponse struct {
	ID         string `json:"id"`
	TeamID     string `json:"teamId"`
	Name       string `json:"name"`
	IsLeader   bool   `json:"isLeader"`
	JoinedAt   string `json:"joinedAt"`
	LastActive string `json:"lastActive"`
}

type admissionResponse struct {
	Team   teamResponse   `json:"team"`
	Member memberResponse `json:"member"`
	Token  string         `json:"token"`
}

type snapshotResponse struct {
	Team    teamResponse     `json:"team"`
	Members []memberResponse `json:"members"`
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(timeLayout)
	return &s
}

func toTeamResponse(t *team.Team) teamResponse {
	return teamResponse{
		ID:         t.ID.String(),
		Code:       t.Code,
		LeaderName: t.LeaderName,
		Status:     string(t.Status),
		CreatedAt:  t.CreatedAt.UTC().Format(timeLayout),
		StartedAt:  formatTime(t.StartedAt),
		FinishedAt: formatTime(t.FinishedAt),
	}
}

func toMemberResponse(m *team.Member) memberResponse {
	return memberResponse{
		ID:         m.ID.String(),
		TeamID:     m.TeamID.String(),
		Name:       m.Name,
		IsLeader:   m.IsLeader,
		JoinedAt:   m.JoinedAt.UTC().Format(timeLayout),
		LastActive: m.LastActive.UTC().Format(timeLayout),
	}
}

func toMemberResponses(members []team.Member) []memberResponse {
	items := make([]memberResponse, 0, len(members))
	for i := range members {
		items = append(items, toMemberResponse(&members[i]))
	}
	return items
}

func toAdmissionResponse(a *coordinator.Admission) admissionResponse {
	return admissionResponse{
		Team:   toTeamResponse(&a.Team),
		Member: toMemberResponse(&a.Member),
		Token:  a.Token,
	}
}

// TeamHandler handles the lobby endpoints.
type TeamHandler struct {
	svc TeamService
}

// NewTeamHandler creates a new TeamHandler.
func NewTeamHandler(svc TeamService) *TeamHandler {
	return &TeamHandler{svc: svc}
}

// Create handles POST /teams.
func (h *TeamHandler) Create(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req createTeamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Err(w, http.StatusBadRequest, "INVALID_JSON", "Request body must be valid JSON", requestID)
		return
	}

	fieldErrors := validation.ValidateCreateTeamRequest(validation.CreateTeamRequest{Name: req.Name})
	if len(fieldErrors) > 0 {
		response.ErrWithDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", "Input validation failed", fieldErrors, requestID)
		return
	}

	adm, err := h.svc.Create(r.Context(), req.Name)
	if err != nil {
		writeTeamError(w, err, "create team", requestID)
		return
	}

	response.Success(w, http.StatusCreated, toAdmissionResponse(adm), requestID)
}

// Join handles POST /teams/join.
func (h *TeamHandler) Join(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req joinTeamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Err(w, http.StatusBadRequest, "INVALID_JSON", "Request body must be valid JSON", requestID)
		return
	}

	fieldErrors := validation.ValidateJoinTeamRequest(validation.JoinTeamRequest{Code: req.Code, Name: req.Name})
	if len(fieldErrors) > 0 {
		response.ErrWithDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", "Input validation failed", fieldErrors, requestID)
		return
	}

	adm, err := h.svc.Join(r.Context(), req.Code, req.Name)
	if err != nil {
		writeTeamError(w, err, "join team", requestID)
		return
	}

	response.Success(w, http.StatusOK, toAdmissionResponse(adm), requestID)
}

// GetByID handles GET /teams/{id}.
func (h *TeamHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	id, ok := parseTeamID(w, r, requestID)
	if !ok {
		return
	}

	snap, err := h.svc.Snapshot(r.Context(), id)
	if err != nil {
		writeTeamError(w, err, "get team", requestID)
		return
	}

	response.Success(w, http.StatusOK, snapshotResponse{
		Team:    toTeamResponse(&snap.Team),
		Members: toMemberResponses(snap.Members),
	}, requestID)
}

// ListMembers handles GET /teams/{id}/members.
func (h *TeamHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	id, ok := parseTeamID(w, r, requestID)
	if !ok {
		return
	}

	members, err := h.svc.ListMembers(r.Context(), id)
	if err != nil {
		writeTeamError(w, err, "list members", requestID)
		return
	}

	response.SuccessList(w, http.StatusOK, toMemberResponses(members), len(members), requestID)
}

// Start handles POST /teams/{id}/start.
func (h *TeamHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "start team", h.svc.Start)
}

// Finish handles POST /teams/{id}/finish.
func (h *TeamHandler) Finish(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "finish team", h.svc.Finish)
}

func (h *TeamHandler) transition(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	fn func(ctx context.Context, teamID uuid.UUID, requesterIsLeader bool) (*team.Team, error),
) {
	requestID := middleware.GetRequestID(r.Context())

	id, ok := parseTeamID(w, r, requestID)
	if !ok {
		return
	}

	identity := middleware.GetIdentity(r.Context())
	if identity == nil {
		response.Err(w, http.StatusUnauthorized, "UNAUTHORIZED", "Participant token is required", requestID)
		return
	}

	t, err := fn(r.Context(), id, identity.IsLeader)
	if err != nil {
		writeTeamError(w, err, op, requestID)
		return
	}

	response.Success(w, http.StatusOK, toTeamResponse(t), requestID)
}

func parseTeamID(w http.ResponseWriter, r *http.Request, requestID string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Err(w, http.StatusBadRequest, "INVALID_ID", "id must be a valid UUID", requestID)
		return uuid.Nil, false
	}
	return id, true
}

// writeTeamError maps lobby errors to HTTP responses. ErrRetryable is checked
// first since it wraps the underlying cause.
func writeTeamError(w http.ResponseWriter, err error, op, requestID string) {
	switch {
	case errors.Is(err, coordinator.ErrRetryable):
		slog.Warn("transient failure", "op", op, "error", err, "requestId", requestID)
		response.Retry(w, time.Second, "Temporarily unavailable, please retry", requestID)
	case errors.Is(err, coordinator.ErrInvalidName):
		response.Err(w, http.StatusBadRequest, "INVALID_NAME", err.Error(), requestID)
	case errors.Is(err, team.ErrTeamNotFound):
		response.Err(w, http.StatusNotFound, "TEAM_NOT_FOUND", "Team not found", requestID)
	case errors.Is(err, team.ErrDuplicateName):
		response.Err(w, http.StatusConflict, "DUPLICATE_NAME", "That name is already taken in this team", requestID)
	case errors.Is(err, team.ErrNotWaiting):
		response.Err(w, http.StatusConflict, "NOT_WAITING", "Team is not in the required status", requestID)
	case errors.Is(err, coordinator.ErrNotLeader):
		response.Err(w, http.StatusForbidden, "NOT_LEADER", "Only the team leader can do this", requestID)
	case errors.Is(err, coordinator.ErrInsufficientPlayers):
		response.Err(w, http.StatusConflict, "INSUFFICIENT_PLAYERS", "At least two players are required", requestID)
	case errors.Is(err, team.ErrCreateFailed), errors.Is(err, team.ErrCodeSpaceExhausted):
		slog.Error("failed to create team", "error", err, "requestId", requestID)
		response.Err(w, http.StatusInternalServerError, "CREATE_FAILED", "Failed to create team", requestID)
	default:
		slog.Error("failed to "+op, "error", err, "requestId", requestID)
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to "+op, requestID)
	}
}
