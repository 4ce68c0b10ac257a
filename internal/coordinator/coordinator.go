// Package coordinator applies the lobby rules on top of the team store: name
// policy, leader-only start, the two-player minimum and operation deadlines.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/daap14/huddle/internal/auth"
	"github.com/daap14/huddle/internal/code"
	"github.com/daap14/huddle/internal/team"
)

// ErrInvalidName is returned when a participant name is empty or too long.
var ErrInvalidName = errors.New("invalid name")

// ErrNotLeader is returned when a non-leader attempts a leader-only transition.
var ErrNotLeader = errors.New("only the team leader can do this")

// ErrInsufficientPlayers is returned when starting a team with fewer than MinPlayers members.
var ErrInsufficientPlayers = errors.New("not enough players to start")

// ErrRetryable wraps timeouts and transient storage failures.
var ErrRetryable = errors.New("temporarily unavailable")

const (
	MaxNameLength = 20
	MinPlayers    = 2
)

// DefaultTimeout bounds every operation when no timeout is configured.
const DefaultTimeout = 5 * time.Second

// TokenIssuer mints participant tokens.
type TokenIssuer interface {
	IssueToken() (auth.Credential, error)
}

// Admission is what a participant receives on create or join. Token is the
// durable handle that identifies the member in later calls.
type Admission struct {
	Team   team.Team
	Member team.Member
	Token  string
}

// Coordinator implements create, join and start over a team.Repository.
type Coordinator struct {
	repo    team.Repository
	tokens  TokenIssuer
	timeout time.Duration
}

// New creates a Coordinator. A non-positive timeout selects DefaultTimeout.
func New(repo team.Repository, tokens TokenIssuer, timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Coordinator{repo: repo, tokens: tokens, timeout: timeout}
}

// NormalizeName trims name and enforces the length policy.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: must not be empty", ErrInvalidName)
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", fmt.Errorf("%w: must be at most %d characters", ErrInvalidName, MaxNameLength)
	}
	return name, nil
}

// Create makes a new waiting team led by leaderName.
func (c *Coordinator) Create(ctx context.Context, leaderName string) (*Admission, error) {
	name, err := NormalizeName(leaderName)
	if err != nil {
		return nil, err
	}

	cred, err := c.tokens.IssueToken()
	if err != nil {
		return nil, fmt.Errorf("%w: issuing token: %w", team.ErrCreateFailed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	t, m, err := c.repo.CreateTeam(ctx, newMember(name, cred))
	if err != nil {
		return nil, classify(ctx, err)
	}

	slog.Info("team created", "teamId", t.ID, "code", t.Code, "leader", m.Name)
	return &Admission{Team: *t, Member: *m, Token: cred.Raw}, nil
}

// Join adds name to the waiting team holding joinCode. Codes are matched
// case-insensitively; malformed codes are reported as ErrTeamNotFound.
func (c *Coordinator) Join(ctx context.Context, joinCode, name string) (*Admission, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}

	joinCode = code.Normalize(joinCode)
	if !code.Valid(joinCode) {
		return nil, team.ErrTeamNotFound
	}

	cred, err := c.tokens.IssueToken()
	if err != nil {
		return nil, fmt.Errorf("issuing token: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	t, m, err := c.repo.JoinTeam(ctx, joinCode, newMember(name, cred))
	if err != nil {
		return nil, classify(ctx, err)
	}

	slog.Info("member joined", "teamId", t.ID, "memberId", m.ID, "name", m.Name)
	return &Admission{Team: *t, Member: *m, Token: cred.Raw}, nil
}

// Start moves a waiting team to playing. The checks run in a fixed order:
// existence, leadership, status, then player count.
func (c *Coordinator) Start(ctx context.Context, teamID uuid.UUID, requesterIsLeader bool) (*team.Team, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	t, err := c.repo.GetTeam(ctx, teamID)
	if err != nil {
		return nil, classify(ctx, err)
	}
	if !requesterIsLeader {
		return nil, ErrNotLeader
	}
	if t.Status != team.StatusWaiting {
		return nil, team.ErrNotWaiting
	}

	// Membership only grows while waiting, so a count that passes here still
	// holds when the status flips.
	n, err := c.repo.CountMembers(ctx, teamID)
	if err != nil {
		return nil, classify(ctx, err)
	}
	if n < MinPlayers {
		return nil, ErrInsufficientPlayers
	}

	started, err := c.repo.StartTeam(ctx, teamID)
	if err != nil {
		return nil, classify(ctx, err)
	}

	slog.Info("team started", "teamId", teamID, "players", n)
	return started, nil
}

// Finish moves a playing team to finished.
func (c *Coordinator) Finish(ctx context.Context, teamID uuid.UUID, requesterIsLeader bool) (*team.Team, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if _, err := c.repo.GetTeam(ctx, teamID); err != nil {
		return nil, classify(ctx, err)
	}
	if !requesterIsLeader {
		return nil, ErrNotLeader
	}

	finished, err := c.repo.FinishTeam(ctx, teamID)
	if err != nil {
		return nil, classify(ctx, err)
	}

	slog.Info("team finished", "teamId", teamID)
	return finished, nil
}

// Snapshot returns the team and its members. Members are read after the team,
// so a snapshot that shows a started team carries its final roster.
func (c *Coordinator) Snapshot(ctx context.Context, teamID uuid.UUID) (*team.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	t, err := c.repo.GetTeam(ctx, teamID)
	if err != nil {
		return nil, classify(ctx, err)
	}

	members, err := c.repo.ListMembers(ctx, teamID)
	if err != nil {
		return nil, classify(ctx, err)
	}

	return &team.Snapshot{Team: *t, Members: members}, nil
}

// ListMembers returns the members of an existing team in join order.
func (c *Coordinator) ListMembers(ctx context.Context, teamID uuid.UUID) ([]team.Member, error) {
	snap, err := c.Snapshot(ctx, teamID)
	if err != nil {
		return nil, err
	}
	return snap.Members, nil
}

// Touch records activity for a member.
func (c *Coordinator) Touch(ctx context.Context, memberID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.repo.TouchMember(ctx, memberID, time.Now().UTC()); err != nil {
		return classify(ctx, err)
	}
	return nil
}

func newMember(name string, cred auth.Credential) team.NewMember {
	return team.NewMember{Name: name, TokenPrefix: cred.Prefix, TokenHash: cred.Hash}
}

func classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || team.IsTransient(err) {
		return fmt.Errorf("%w: %w", ErrRetryable, err)
	}
	return err
}
