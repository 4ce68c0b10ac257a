package team

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a team.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

// Team represents a row in the teams table.
type Team struct {
	ID         uuid.UUID
	Code       string
	LeaderName string
	Status     Status
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Member represents a row in the team_members table.
type Member struct {
	ID         uuid.UUID
	TeamID     uuid.UUID
	Name       string
	IsLeader   bool
	JoinedAt   time.Time
	LastActive time.Time
}

// NewMember carries the fields needed to add a member. The token fields are
// produced by the auth package; the raw token is never stored.
type NewMember struct {
	Name        string
	TokenPrefix string
	TokenHash   string
}

// Credential is the stored side of a participant token.
type Credential struct {
	MemberID  uuid.UUID
	TeamID    uuid.UUID
	Name      string
	IsLeader  bool
	TokenHash string
}

// Snapshot is a consistent view of a team and its members.
type Snapshot struct {
	Team    Team
	Members []Member
}

// Member looks up a member of the snapshot by id.
func (s Snapshot) Member(id uuid.UUID) (Member, bool) {
	for _, m := range s.Members {
		if m.ID == id {
			return m, true
		}
	}
	return Member{}, false
}
