package client

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/daap14/huddle/internal/coordinator"
	"github.com/daap14/huddle/internal/team"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *apiError       `json:"error"`
}

type teamBody struct {
	ID         uuid.UUID  `json:"id"`
	Code       string     `json:"code"`
	LeaderName string     `json:"leaderName"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt"`
}

type member struct {
	ID         uuid.UUID `json:"id"`
	TeamID     uuid.UUID `json:"teamId"`
	Name       string    `json:"name"`
	IsLeader   bool      `json:"isLeader"`
	JoinedAt   time.Time `json:"joinedAt"`
	LastActive time.Time `json:"lastActive"`
}

type admission struct {
	Team   teamBody `json:"team"`
	Member member   `json:"member"`
	Token  string   `json:"token"`
}

type snapshot struct {
	Team    teamBody `json:"team"`
	Members []member `json:"members"`
}

func (b teamBody) decode() (team.Team, error) {
	status := team.Status(b.Status)
	switch status {
	case team.StatusWaiting, team.StatusPlaying, team.StatusFinished:
	default:
		return team.Team{}, fmt.Errorf("unknown team status %q", b.Status)
	}
	return team.Team{
		ID:         b.ID,
		Code:       b.Code,
		LeaderName: b.LeaderName,
		Status:     status,
		CreatedAt:  b.CreatedAt,
		StartedAt:  b.StartedAt,
		FinishedAt: b.FinishedAt,
	}, nil
}

func (m member) decode() team.Member {
	return team.Member{
		ID:         m.ID,
		TeamID:     m.TeamID,
		Name:       m.Name,
		IsLeader:   m.IsLeader,
		JoinedAt:   m.JoinedAt,
		LastActive: m.LastActive,
	}
}

func decodeMembers(in []member) []team.Member {
	out := make([]team.Member, 0, len(in))
	for _, m := range in {
		out = append(out, m.decode())
	}
	return out
}

func (a admission) decode() (*coordinator.Admission, error) {
	t, err := a.Team.decode()
	if err != nil {
		return nil, err
	}
	if a.Token == "" {
		return nil, fmt.Errorf("admission carries no token")
	}
	return &coordinator.Admission{Team: t, Member: a.Member.decode(), Token: a.Token}, nil
}

func (s snapshot) decode() (*team.Snapshot, error) {
	t, err := s.Team.decode()
	if err != nil {
		return nil, err
	}
	return &team.Snapshot{Team: t, Members: decodeMembers(s.Members)}, nil
}
