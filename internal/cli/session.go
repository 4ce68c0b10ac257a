package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/daap14/huddle/internal/coordinator"
	"github.com/daap14/huddle/internal/lobby"
)

// run drives one lobby from admission until the team starts, the
// participant quits, or the lobby is lost.
func run(cmd *cobra.Command, cfg *Config, in io.Reader, out io.Writer, admit func(*lobby.Machine) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	c, err := newClient(cfg)
	if err != nil {
		return err
	}

	term := newTerminal(out)
	started := make(chan lobby.Handoff, 1)
	m := lobby.New(c, term, lobby.StarterFunc(func(h lobby.Handoff) {
		started <- h
	}))
	defer m.Close()

	if err := admit(m); err != nil {
		return fmt.Errorf("could not enter the lobby: %s", describe(err))
	}

	lines := readLines(in)
	for {
		select {
		case <-ctx.Done():
			return nil
		case h := <-started:
			fmt.Fprintf(out, "\nSession starting for %s in team %s.\n", h.Name, h.TeamID)
			return nil
		case err := <-term.lost:
			return err
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if quit := handleLine(ctx, m, out, line); quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, m *lobby.Machine, out io.Writer, line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "":
	case "start":
		err := m.Start(ctx)
		if err != nil {
			slog.Debug("start failed", "error", err)
		}
		// Other failures show up in the next lobby view.
		if errors.Is(err, coordinator.ErrNotLeader) || errors.Is(err, lobby.ErrInvalidTransition) {
			fmt.Fprintf(out, "cannot start: %s\n", describe(err))
		}
	case "quit", "exit", "leave":
		if err := m.Leave(); err != nil && !errors.Is(err, lobby.ErrInvalidTransition) {
			slog.Debug("leave failed", "error", err)
		}
		return true
	default:
		fmt.Fprintln(out, "commands: start, quit")
	}
	return false
}

// readLines forwards lines from in until EOF.
func readLines(in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}
