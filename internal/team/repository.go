package team

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/daap14/huddle/internal/code"
)

// ErrTeamNotFound is returned when no team matches the id, or no waiting team
// matches the join code.
var ErrTeamNotFound = errors.New("team not found")

// ErrMemberNotFound is returned when a member record is not found.
var ErrMemberNotFound = errors.New("member not found")

// ErrDuplicateName is returned when the name is already taken within the team.
var ErrDuplicateName = errors.New("name already taken in team")

// ErrNotWaiting is returned when a transition requires a status the team is no longer in.
var ErrNotWaiting = errors.New("team is not in the expected status")

// ErrCreateFailed is returned when the team or its leader could not be persisted.
var ErrCreateFailed = errors.New("team creation failed")

// ErrCodeSpaceExhausted is returned when no unused join code was found within the attempt budget.
var ErrCodeSpaceExhausted = errors.New("no unused join code available")

// DefaultCodeAttempts bounds join code generation retries on collision.
const DefaultCodeAttempts = 8

// Repository is the authoritative store of teams and their membership.
type Repository interface {
	// CreateTeam atomically creates a waiting team with a fresh join code and
	// its leader member.
	CreateTeam(ctx context.Context, leader NewMember) (*Team, *Member, error)
	// JoinTeam adds a member to the waiting team holding code.
	JoinTeam(ctx context.Context, code string, member NewMember) (*Team, *Member, error)
	// StartTeam moves a waiting team to playing. Exactly one concurrent caller succeeds.
	StartTeam(ctx context.Context, id uuid.UUID) (*Team, error)
	// FinishTeam moves a playing team to finished.
	FinishTeam(ctx context.Context, id uuid.UUID) (*Team, error)
	GetTeam(ctx context.Context, id uuid.UUID) (*Team, error)
	// ListMembers returns members in join order.
	ListMembers(ctx context.Context, teamID uuid.UUID) ([]Member, error)
	CountMembers(ctx context.Context, teamID uuid.UUID) (int, error)
	FindByTokenPrefix(ctx context.Context, prefix string) ([]Credential, error)
	TouchMember(ctx context.Context, memberID uuid.UUID, at time.Time) error
	// ExpireIdle finishes waiting teams whose members have all been inactive
	// since before cutoff, returning their ids.
	ExpireIdle(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}

// Option configures a Repository.
type Option func(*options)

type options struct {
	generate     code.Generator
	codeAttempts int
}

func defaultOptions() options {
	return options{generate: code.Generate, codeAttempts: DefaultCodeAttempts}
}

// WithCodeGenerator overrides the join code source.
func WithCodeGenerator(g code.Generator) Option {
	return func(o *options) { o.generate = g }
}

// WithCodeAttempts sets the number of codes tried before giving up.
func WithCodeAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.codeAttempts = n
		}
	}
}

// IsTransient reports whether err is a timeout or a failure that is safe to retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return pgconn.Timeout(err) || pgconn.SafeToRetry(err)
}
