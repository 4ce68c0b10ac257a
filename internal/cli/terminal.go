package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/skip2/go-qrcode"

	"github.com/daap14/huddle/internal/coordinator"
	"github.com/daap14/huddle/internal/lobby"
	"github.com/daap14/huddle/internal/team"
)

// terminal draws lobby views as plain text.
type terminal struct {
	out     io.Writer
	shared  string
	inLobby bool

	// lost receives the error that sent the participant back to the menu.
	lost chan error
}

func newTerminal(out io.Writer) *terminal {
	return &terminal{out: out, lost: make(chan error, 1)}
}

func (t *terminal) Render(v lobby.View) {
	switch v.State {
	case lobby.StateMenu:
		if t.inLobby && v.Err != nil {
			fmt.Fprintf(t.out, "Left the lobby: %s\n", describe(v.Err))
			select {
			case t.lost <- v.Err:
			default:
			}
		}
		t.inLobby = false
	case lobby.StateCreating:
		fmt.Fprintln(t.out, "Creating team...")
	case lobby.StateJoining:
		fmt.Fprintln(t.out, "Joining team...")
	case lobby.StateLobby:
		t.inLobby = true
		t.drawLobby(v)
	case lobby.StateStarted:
		fmt.Fprintf(t.out, "Team %s is playing!\n", v.Team.Code)
	}
}

func (t *terminal) drawLobby(v lobby.View) {
	if t.shared != v.Team.Code {
		t.shared = v.Team.Code
		t.drawCode(v.Team.Code)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\nTeam %s (%s), %d player(s):\n", v.Team.Code, v.Team.Status, len(v.Members))
	for _, m := range v.Members {
		b.WriteString("  - ")
		b.WriteString(m.Name)
		if m.IsLeader {
			b.WriteString(" [leader]")
		}
		if m.ID == v.Self.ID {
			b.WriteString(" (you)")
		}
		b.WriteString("\n")
	}

	switch {
	case v.Err != nil:
		fmt.Fprintf(&b, "! %s\n", describe(v.Err))
	case v.CanStart():
		b.WriteString("Type 'start' to begin, or 'quit' to leave.\n")
	case v.Self.IsLeader:
		fmt.Fprintf(&b, "Waiting for at least %d players...\n", coordinator.MinPlayers)
	default:
		b.WriteString("Waiting for the leader to start...\n")
	}

	_, _ = io.WriteString(t.out, b.String())
}

func (t *terminal) drawCode(code string) {
	fmt.Fprintf(t.out, "Share this code with your team: %s\n", code)

	q, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		slog.Debug("qr code unavailable", "error", err)
		return
	}
	_, _ = io.WriteString(t.out, q.ToSmallString(false))
}

// describe turns lobby errors into something a player can act on.
func describe(err error) string {
	switch {
	case errors.Is(err, team.ErrTeamNotFound):
		return "no waiting team has that code"
	case errors.Is(err, team.ErrDuplicateName):
		return "that name is already taken in this team"
	case errors.Is(err, team.ErrNotWaiting):
		return "the team is no longer waiting"
	case errors.Is(err, coordinator.ErrInvalidName):
		return fmt.Sprintf("names must be 1 to %d characters", coordinator.MaxNameLength)
	case errors.Is(err, coordinator.ErrNotLeader):
		return "only the leader can start the team"
	case errors.Is(err, coordinator.ErrInsufficientPlayers):
		return fmt.Sprintf("at least %d players are needed", coordinator.MinPlayers)
	case errors.Is(err, coordinator.ErrRetryable):
		return "the server is unreachable, retrying"
	case errors.Is(err, lobby.ErrLobbyClosed):
		return "the lobby was closed"
	case errors.Is(err, lobby.ErrSelfMissing):
		return "you are no longer listed in this team"
	case errors.Is(err, lobby.ErrInvalidTransition):
		return "not possible right now"
	default:
		return err.Error()
	}
}

func setupLogger(w io.Writer, verbose bool) {
	if w == nil {
		w = os.Stderr
	}
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}
