package team

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Index names from schema.sql, reported as ConstraintName on unique violations.
const (
	waitingCodeIndex = "teams_waiting_code_key"
	memberNameIndex  = "team_members_team_name_key"
)

const teamColumns = `id, code, leader_name, status, created_at, started_at, finished_at`

const memberColumns = `id, team_id, name, is_leader, joined_at, last_active`

var errCodeTaken = errors.New("join code taken")

// PostgresRepository implements Repository using pgxpool.
type PostgresRepository struct {
	pool *pgxpool.Pool
	opts options
}

// NewRepository creates a new Repository backed by the given connection pool.
func NewRepository(pool *pgxpool.Pool, opts ...Option) Repository {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &PostgresRepository{pool: pool, opts: o}
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CreateTeam inserts a waiting team and its leader in one transaction,
// retrying with a fresh code when the code is held by another waiting team.
func (r *PostgresRepository) CreateTeam(ctx context.Context, leader NewMember) (*Team, *Member, error) {
	for attempt := 1; attempt <= r.opts.codeAttempts; attempt++ {
		t, m, err := r.createWithCode(ctx, r.opts.generate(), leader)
		if errors.Is(err, errCodeTaken) {
			slog.Debug("join code collision", "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		return t, m, nil
	}
	return nil, nil, ErrCodeSpaceExhausted
}

func (r *PostgresRepository) createWithCode(ctx context.Context, code string, leader NewMember) (*Team, *Member, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: beginning transaction: %w", ErrCreateFailed, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO teams (code, leader_name)
		VALUES ($1, $2)
		RETURNING ` + teamColumns

	t, err := scanTeam(tx.QueryRow(ctx, query, code, leader.Name))
	if err != nil {
		if isUniqueViolation(err, waitingCodeIndex) {
			return nil, nil, errCodeTaken
		}
		return nil, nil, fmt.Errorf("%w: inserting team: %w", ErrCreateFailed, err)
	}

	m, err := insertMember(ctx, tx, t.ID, leader, true)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: inserting leader: %w", ErrCreateFailed, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("%w: committing: %w", ErrCreateFailed, err)
	}

	return t, m, nil
}

// JoinTeam adds a member to the waiting team with the given code. The team row
// is share-locked so a concurrent start waits for the join to settle.
func (r *PostgresRepository) JoinTeam(ctx context.Context, code string, member NewMember) (*Team, *Member, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		SELECT ` + teamColumns + `
		FROM teams
		WHERE code = $1 AND status = 'waiting'
		FOR SHARE`

	t, err := scanTeam(tx.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrTeamNotFound
		}
		return nil, nil, fmt.Errorf("locking team: %w", err)
	}

	m, err := insertMember(ctx, tx, t.ID, member, false)
	if err != nil {
		if isUniqueViolation(err, memberNameIndex) {
			return nil, nil, ErrDuplicateName
		}
		return nil, nil, fmt.Errorf("inserting member: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("committing join: %w", err)
	}

	return t, m, nil
}

// StartTeam moves a waiting team to playing.
func (r *PostgresRepository) StartTeam(ctx context.Context, id uuid.UUID) (*Team, error) {
	query := `
		UPDATE teams
		SET status = 'playing', started_at = NOW()
		WHERE id = $1 AND status = 'waiting'
		RETURNING ` + teamColumns

	return r.transition(ctx, query, id)
}

// FinishTeam moves a playing team to finished.
func (r *PostgresRepository) FinishTeam(ctx context.Context, id uuid.UUID) (*Team, error) {
	query := `
		UPDATE teams
		SET status = 'finished', finished_at = NOW()
		WHERE id = $1 AND status = 'playing'
		RETURNING ` + teamColumns

	return r.transition(ctx, query, id)
}

func (r *PostgresRepository) transition(ctx context.Context, query string, id uuid.UUID) (*Team, error) {
	t, err := scanTeam(r.pool.QueryRow(ctx, query, id))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("updating team status: %w", err)
	}

	if _, err := r.GetTeam(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrNotWaiting
}

// GetTeam retrieves a single team by its UUID.
func (r *PostgresRepository) GetTeam(ctx context.Context, id uuid.UUID) (*Team, error) {
	query := `
		SELECT ` + teamColumns + `
		FROM teams
		WHERE id = $1`

	t, err := scanTeam(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTeamNotFound
		}
		return nil, fmt.Errorf("querying team: %w", err)
	}

	return t, nil
}

// ListMembers retrieves the members of a team in join order.
func (r *PostgresRepository) ListMembers(ctx context.Context, teamID uuid.UUID) ([]Member, error) {
	query := `
		SELECT ` + memberColumns + `
		FROM team_members
		WHERE team_id = $1
		ORDER BY joined_at ASC, is_leader DESC, id ASC`

	rows, err := r.pool.Query(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	defer rows.Close()

	members := []Member{}
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.TeamID, &m.Name, &m.IsLeader, &m.JoinedAt, &m.LastActive); err != nil {
			return nil, fmt.Errorf("scanning member row: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating member rows: %w", err)
	}

	return members, nil
}

// CountMembers returns the number of members in a team.
func (r *PostgresRepository) CountMembers(ctx context.Context, teamID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM team_members WHERE team_id = $1`, teamID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting members: %w", err)
	}
	return n, nil
}

// FindByTokenPrefix returns the credentials whose token starts with prefix.
func (r *PostgresRepository) FindByTokenPrefix(ctx context.Context, prefix string) ([]Credential, error) {
	query := `
		SELECT id, team_id, name, is_leader, token_hash
		FROM team_members
		WHERE token_prefix = $1`

	rows, err := r.pool.Query(ctx, query, prefix)
	if err != nil {
		return nil, fmt.Errorf("querying credentials by prefix: %w", err)
	}
	defer rows.Close()

	var creds []Credential
	for rows.Next() {
		var c Credential
		if err := rows.Scan(&c.MemberID, &c.TeamID, &c.Name, &c.IsLeader, &c.TokenHash); err != nil {
			return nil, fmt.Errorf("scanning credential row: %w", err)
		}
		creds = append(creds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating credential rows: %w", err)
	}

	return creds, nil
}

// TouchMember records activity for a member. Timestamps never move backwards.
func (r *PostgresRepository) TouchMember(ctx context.Context, memberID uuid.UUID, at time.Time) error {
	query := `
		UPDATE team_members
		SET last_active = GREATEST(last_active, $2)
		WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, memberID, at)
	if err != nil {
		return fmt.Errorf("touching member: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// ExpireIdle finishes waiting teams with no member active since cutoff.
func (r *PostgresRepository) ExpireIdle(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	query := `
		UPDATE teams t
		SET status = 'finished', finished_at = NOW()
		WHERE t.status = 'waiting'
		  AND NOT EXISTS (
			SELECT 1 FROM team_members m
			WHERE m.team_id = t.id AND m.last_active >= $1
		  )
		RETURNING t.id`

	rows, err := r.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("expiring idle teams: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning expired team id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating expired teams: %w", err)
	}

	return ids, nil
}

func insertMember(ctx context.Context, q querier, teamID uuid.UUID, nm NewMember, leader bool) (*Member, error) {
	query := `
		INSERT INTO team_members (team_id, name, is_leader, token_prefix, token_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + memberColumns

	var m Member
	err := q.QueryRow(ctx, query, teamID, nm.Name, leader, nm.TokenPrefix, nm.TokenHash).
		Scan(&m.ID, &m.TeamID, &m.Name, &m.IsLeader, &m.JoinedAt, &m.LastActive)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func scanTeam(row pgx.Row) (*Team, error) {
	var (
		t      Team
		status string
	)
	err := row.Scan(&t.ID, &t.Code, &t.LeaderName, &status, &t.CreatedAt, &t.StartedAt, &t.FinishedAt)
	if err != nil {
		return nil, err
	}
	t.Status = Status(status)
	return &t, nil
}

func isUniqueViolation(err error, index string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == index
}
