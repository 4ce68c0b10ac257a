package lobby

import (
	"github.com/google/uuid"

	"github.com/daap14/huddle/internal/team"
)

// State is the screen a participant is on.
type State int

const (
	StateMenu State = iota
	StateCreating
	StateJoining
	StateLobby
	StateStarted
)

func (s State) String() string {
	switch s {
	case StateMenu:
		return "menu"
	case StateCreating:
		return "creating"
	case StateJoining:
		return "joining"
	case StateLobby:
		return "lobby"
	case StateStarted:
		return "started"
	default:
		return "unknown"
	}
}

// View is what a Renderer draws. Team and Members are set only in the lobby
// and started states. Err holds the failure that led to the current state,
// if any.
type View struct {
	State   State
	Team    team.Team
	Members []team.Member
	Self    team.Member
	Err     error
}

// CanStart reports whether the local participant may start the team now.
func (v View) CanStart() bool {
	return v.State == StateLobby && v.Self.IsLeader && v.Team.Status == team.StatusWaiting && len(v.Members) >= 2
}

// Handoff identifies the local participant to the session that takes over
// once the team is playing.
type Handoff struct {
	TeamID   uuid.UUID
	MemberID uuid.UUID
	Name     string
	IsLeader bool
}

// Renderer draws views. Render is called with the machine's lock held and
// must not call back into the Machine.
type Renderer interface {
	Render(View)
}

// SessionStarter takes over once the team is playing. StartSession is
// called at most once per Machine, under the same rules as Render.
type SessionStarter interface {
	StartSession(Handoff)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(View)

// Render calls f(v).
func (f RendererFunc) Render(v View) { f(v) }

// StarterFunc adapts a function to SessionStarter.
type StarterFunc func(Handoff)

// StartSession calls f(h).
func (f StarterFunc) StartSession(h Handoff) { f(h) }
