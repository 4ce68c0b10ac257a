package team

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/daap14/huddle/internal/feed"
)

type memberRecord struct {
	Member
	tokenPrefix string
	tokenHash   string
}

// MemoryRepository is an in-process Repository. Every mutation publishes the
// same change events the PostgreSQL triggers emit.
type MemoryRepository struct {
	mu      sync.Mutex
	teams   map[uuid.UUID]*Team
	members map[uuid.UUID][]*memberRecord
	byID    map[uuid.UUID]*memberRecord
	waiting map[string]uuid.UUID

	publisher feed.Publisher
	opts      options
	now       func() time.Time
}

// NewMemoryRepository creates an empty MemoryRepository. publisher may be nil.
func NewMemoryRepository(publisher feed.Publisher, opts ...Option) *MemoryRepository {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &MemoryRepository{
		teams:     make(map[uuid.UUID]*Team),
		members:   make(map[uuid.UUID][]*memberRecord),
		byID:      make(map[uuid.UUID]*memberRecord),
		waiting:   make(map[string]uuid.UUID),
		publisher: publisher,
		opts:      o,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepository) CreateTeam(ctx context.Context, leader NewMember) (*Team, *Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	code, ok := r.allocateCode()
	if !ok {
		r.mu.Unlock()
		return nil, nil, ErrCodeSpaceExhausted
	}

	now := r.now()
	t := &Team{
		ID:         uuid.New(),
		Code:       code,
		LeaderName: leader.Name,
		Status:     StatusWaiting,
		CreatedAt:  now,
	}
	r.teams[t.ID] = t
	r.waiting[code] = t.ID
	m := r.addMember(t.ID, leader, true, now)

	team, member := copyTeam(t), m.Member
	r.mu.Unlock()

	r.publish(t.ID, feed.KindMemberAdded)
	return team, &member, nil
}

// allocateCode must be called with r.mu held.
func (r *MemoryRepository) allocateCode() (string, bool) {
	for attempt := 0; attempt < r.opts.codeAttempts; attempt++ {
		c := r.opts.generate()
		if _, taken := r.waiting[c]; !taken {
			return c, true
		}
	}
	return "", false
}

// addMember must be called with r.mu held.
func (r *MemoryRepository) addMember(teamID uuid.UUID, nm NewMember, leader bool, now time.Time) *memberRecord {
	m := &memberRecord{
		Member: Member{
			ID:         uuid.New(),
			TeamID:     teamID,
			Name:       nm.Name,
			IsLeader:   leader,
			JoinedAt:   now,
			LastActive: now,
		},
		tokenPrefix: nm.TokenPrefix,
		tokenHash:   nm.TokenHash,
	}
	r.members[teamID] = append(r.members[teamID], m)
	r.byID[m.ID] = m
	return m
}

func (r *MemoryRepository) JoinTeam(ctx context.Context, code string, nm NewMember) (*Team, *Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	id, ok := r.waiting[code]
	if !ok {
		r.mu.Unlock()
		return nil, nil, ErrTeamNotFound
	}
	for _, existing := range r.members[id] {
		if strings.EqualFold(existing.Name, nm.Name) {
			r.mu.Unlock()
			return nil, nil, ErrDuplicateName
		}
	}

	m := r.addMember(id, nm, false, r.now())
	team, member := copyTeam(r.teams[id]), m.Member
	r.mu.Unlock()

	r.publish(id, feed.KindMemberAdded)
	return team, &member, nil
}

func (r *MemoryRepository) StartTeam(ctx context.Context, id uuid.UUID) (*Team, error) {
	return r.transition(ctx, id, StatusWaiting, StatusPlaying)
}

func (r *MemoryRepository) FinishTeam(ctx context.Context, id uuid.UUID) (*Team, error) {
	return r.transition(ctx, id, StatusPlaying, StatusFinished)
}

func (r *MemoryRepository) transition(ctx context.Context, id uuid.UUID, from, to Status) (*Team, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	t, ok := r.teams[id]
	if !ok {
		r.mu.Unlock()
		return nil, ErrTeamNotFound
	}
	if t.Status != from {
		r.mu.Unlock()
		return nil, ErrNotWaiting
	}
	r.setStatus(t, to, r.now())
	team := copyTeam(t)
	r.mu.Unlock()

	r.publish(id, feed.KindTeamUpdated)
	return team, nil
}

// setStatus must be called with r.mu held.
func (r *MemoryRepository) setStatus(t *Team, to Status, now time.Time) {
	if t.Status == StatusWaiting {
		delete(r.waiting, t.Code)
	}
	t.Status = to
	switch to {
	case StatusPlaying:
		t.StartedAt = &now
	case StatusFinished:
		t.FinishedAt = &now
	}
}

func (r *MemoryRepository) GetTeam(ctx context.Context, id uuid.UUID) (*Team, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.teams[id]
	if !ok {
		return nil, ErrTeamNotFound
	}
	return copyTeam(t), nil
}

func (r *MemoryRepository) ListMembers(ctx context.Context, teamID uuid.UUID) ([]Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	records := r.members[teamID]
	members := make([]Member, 0, len(records))
	for _, m := range records {
		members = append(members, m.Member)
	}
	return members, nil
}

func (r *MemoryRepository) CountMembers(ctx context.Context, teamID uuid.UUID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members[teamID]), nil
}

func (r *MemoryRepository) FindByTokenPrefix(ctx context.Context, prefix string) ([]Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var creds []Credential
	for _, m := range r.byID {
		if m.tokenPrefix != prefix {
			continue
		}
		creds = append(creds, Credential{
			MemberID:  m.ID,
			TeamID:    m.TeamID,
			Name:      m.Name,
			IsLeader:  m.IsLeader,
			TokenHash: m.tokenHash,
		})
	}
	return creds, nil
}

func (r *MemoryRepository) TouchMember(ctx context.Context, memberID uuid.UUID, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.byID[memberID]
	if !ok {
		return ErrMemberNotFound
	}
	if at.After(m.LastActive) {
		m.LastActive = at
	}
	return nil
}

func (r *MemoryRepository) ExpireIdle(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	now := r.now()
	var expired []uuid.UUID
	for _, id := range r.waiting {
		if r.activeSince(id, cutoff) {
			continue
		}
		expired = append(expired, id)
	}
	for _, id := range expired {
		r.setStatus(r.teams[id], StatusFinished, now)
	}
	r.mu.Unlock()

	for _, id := range expired {
		r.publish(id, feed.KindTeamUpdated)
	}
	return expired, nil
}

// activeSince must be called with r.mu held.
func (r *MemoryRepository) activeSince(teamID uuid.UUID, cutoff time.Time) bool {
	for _, m := range r.members[teamID] {
		if !m.LastActive.Before(cutoff) {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) publish(teamID uuid.UUID, kind feed.Kind) {
	if r.publisher == nil {
		return
	}
	r.publisher.Publish(feed.Event{TeamID: teamID, Kind: kind})
}

func copyTeam(t *Team) *Team {
	c := *t
	if t.StartedAt != nil {
		at := *t.StartedAt
		c.StartedAt = &at
	}
	if t.FinishedAt != nil {
		at := *t.FinishedAt
		c.FinishedAt = &at
	}
	return &c
}
