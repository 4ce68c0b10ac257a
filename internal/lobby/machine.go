// Package lobby drives one participant's view of a team lobby: from the
// menu, through creating or joining a team, to the moment the team starts
// playing and control passes to the session.
package lobby

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/daap14/huddle/internal/coordinator"
	"github.com/daap14/huddle/internal/feed"
	"github.com/daap14/huddle/internal/team"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrSelfMissing       = errors.New("own member record missing from team")
	ErrLobbyClosed       = errors.New("team finished before it started")
	ErrClosed            = errors.New("lobby closed")
)

const (
	minResubscribe = 250 * time.Millisecond
	maxResubscribe = 10 * time.Second
)

// Backend is the lobby service as seen by one participant.
//
// Subscribe must close the returned channel once ctx is done or the stream
// ends.
type Backend interface {
	Create(ctx context.Context, name string) (*coordinator.Admission, error)
	Join(ctx context.Context, code, name string) (*coordinator.Admission, error)
	Start(ctx context.Context, teamID uuid.UUID, token string) (*team.Team, error)
	Snapshot(ctx context.Context, teamID uuid.UUID) (*team.Snapshot, error)
	Subscribe(ctx context.Context, teamID uuid.UUID, token string) (<-chan feed.Event, error)
}

// Machine is the lobby state machine of one participant. While in the lobby
// it holds one change-feed subscription for the team and one goroutine that
// pulls a fresh snapshot on every notification.
type Machine struct {
	backend  Backend
	renderer Renderer
	starter  SessionStarter

	mu        sync.Mutex
	state     State
	busy      bool
	closed    bool
	handedOff bool
	err       error
	admission coordinator.Admission
	snapshot  team.Snapshot

	// gen changes whenever the subscription is replaced or released, so
	// results that belong to an older one are dropped.
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Machine in the menu state and renders it.
func New(backend Backend, renderer Renderer, starter SessionStarter) *Machine {
	m := &Machine{backend: backend, renderer: renderer, starter: starter}
	m.mu.Lock()
	m.render()
	m.mu.Unlock()
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// View returns the current view.
func (m *Machine) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view()
}

// ChooseCreate moves from the menu to the create form.
func (m *Machine) ChooseCreate() error {
	return m.move(StateMenu, StateCreating)
}

// ChooseJoin moves from the menu to the join form.
func (m *Machine) ChooseJoin() error {
	return m.move(StateMenu, StateJoining)
}

// Back returns from a form to the menu.
func (m *Machine) Back() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(StateCreating, StateJoining); err != nil {
		return err
	}
	m.state = StateMenu
	m.err = nil
	m.render()
	return nil
}

// Create creates a team led by name and enters its lobby. On failure the
// machine returns to the menu with the error in its view.
func (m *Machine) Create(ctx context.Context, name string) error {
	return m.admit(ctx, StateCreating, func(ctx context.Context) (*coordinator.Admission, error) {
		return m.backend.Create(ctx, name)
	})
}

// Join joins the team holding code and enters its lobby. On failure the
// machine returns to the menu with the error in its view.
func (m *Machine) Join(ctx context.Context, code, name string) error {
	return m.admit(ctx, StateJoining, func(ctx context.Context) (*coordinator.Admission, error) {
		return m.backend.Join(ctx, code, name)
	})
}

// Start asks the server to start the team. The machine moves to Started only
// once a snapshot shows the team playing, which Start pulls right away on
// success.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if err := m.check(StateLobby); err != nil {
		m.mu.Unlock()
		return err
	}
	if !m.admission.Member.IsLeader {
		m.mu.Unlock()
		return coordinator.ErrNotLeader
	}
	m.busy = true
	gen, adm := m.gen, m.admission
	m.mu.Unlock()

	_, err := m.backend.Start(ctx, adm.Team.ID, adm.Token)

	m.mu.Lock()
	m.busy = false
	m.mu.Unlock()

	switch {
	case err == nil, errors.Is(err, team.ErrNotWaiting):
		m.reconcile(ctx, gen, adm.Team.ID)
	default:
		m.fail(gen, err)
	}
	return err
}

// Leave leaves the lobby view and returns to the menu. The membership itself
// stays on the server. The subscription is released before Leave returns.
func (m *Machine) Leave() error {
	m.mu.Lock()
	if err := m.check(StateLobby); err != nil {
		m.mu.Unlock()
		return err
	}
	m.state = StateMenu
	m.err = nil
	done := m.release()
	m.render()
	m.mu.Unlock()

	wait(done)
	return nil
}

// Close releases the subscription, if any. Every later operation returns
// ErrClosed. Close is idempotent.
func (m *Machine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	done := m.release()
	m.mu.Unlock()

	wait(done)
}

func (m *Machine) move(from, to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(from); err != nil {
		return fmt.Errorf("%w: %s to %s", err, m.state, to)
	}
	m.state = to
	m.err = nil
	m.render()
	return nil
}

// check reports whether an operation allowed in states may run now.
func (m *Machine) check(states ...State) error {
	if m.closed {
		return ErrClosed
	}
	if m.busy || !slices.Contains(states, m.state) {
		return ErrInvalidTransition
	}
	return nil
}

func (m *Machine) admit(ctx context.Context, from State, call func(context.Context) (*coordinator.Admission, error)) error {
	m.mu.Lock()
	if err := m.check(from); err != nil {
		m.mu.Unlock()
		return err
	}
	m.busy = true
	m.mu.Unlock()

	adm, err := call(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy = false

	if m.closed {
		return ErrClosed
	}
	if err != nil {
		m.state = StateMenu
		m.err = err
		m.render()
		return err
	}

	m.enter(*adm)
	return nil
}

// enter moves to the lobby of adm's team and starts following it.
func (m *Machine) enter(adm coordinator.Admission) {
	m.gen++
	m.state = StateLobby
	m.err = nil
	m.admission = adm
	m.snapshot = team.Snapshot{Team: adm.Team, Members: []team.Member{adm.Member}}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.follow(ctx, m.gen, adm, m.done)

	m.render()
}

// release stops following the current team and returns a channel that is
// closed once the follower has exited.
func (m *Machine) release() <-chan struct{} {
	m.gen++
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	done := m.done
	m.cancel, m.done = nil, nil
	return done
}

func wait(done <-chan struct{}) {
	if done != nil {
		<-done
	}
}

// follow keeps one subscription to the team open, resubscribing after drops,
// and reconciles on each notification.
func (m *Machine) follow(ctx context.Context, gen uint64, adm coordinator.Admission, done chan<- struct{}) {
	defer close(done)

	teamID := adm.Team.ID
	backoff := minResubscribe
	for ctx.Err() == nil {
		events, err := m.backend.Subscribe(ctx, teamID, adm.Token)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, coordinator.ErrRetryable) {
				m.abandon(gen, err)
				return
			}
			slog.Warn("lobby feed unavailable, retrying", "teamId", teamID, "error", err, "backoff", backoff)
			m.fail(gen, err)
			if !sleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, maxResubscribe)
			continue
		}

		// Pull once after subscribing so nothing between admission and now is missed.
		m.reconcile(ctx, gen, teamID)

	drain:
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-events:
				if !ok {
					break drain
				}
				backoff = minResubscribe
				m.reconcile(ctx, gen, teamID)
			}
		}

		// A dropped stream waits before resubscribing, like a failed subscribe.
		slog.Warn("lobby feed dropped, resubscribing", "teamId", teamID, "backoff", backoff)
		if !sleep(ctx, backoff) {
			return
		}
		backoff = min(backoff*2, maxResubscribe)
	}
}

func (m *Machine) reconcile(ctx context.Context, gen uint64, teamID uuid.UUID) {
	snap, err := m.backend.Snapshot(ctx, teamID)
	if err != nil {
		if ctx.Err() == nil {
			m.fail(gen, err)
		}
		return
	}
	m.apply(gen, snap)
}

func (m *Machine) apply(gen uint64, snap *team.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.state != StateLobby || m.closed {
		return
	}

	self, ok := snap.Member(m.admission.Member.ID)
	if !ok {
		m.leaveWith(ErrSelfMissing)
		return
	}

	m.snapshot = team.Snapshot{Team: snap.Team, Members: slices.Clone(snap.Members)}
	m.err = nil

	switch snap.Team.Status {
	case team.StatusPlaying:
		m.state = StateStarted
		m.release()
		m.render()
		if !m.handedOff && m.starter != nil {
			m.handedOff = true
			slog.Info("team started, handing off", "teamId", snap.Team.ID, "memberId", self.ID)
			m.starter.StartSession(Handoff{
				TeamID:   snap.Team.ID,
				MemberID: self.ID,
				Name:     self.Name,
				IsLeader: self.IsLeader,
			})
		}
	case team.StatusFinished:
		m.leaveWith(ErrLobbyClosed)
	default:
		m.render()
	}
}

// fail records a non-fatal error against the current lobby.
func (m *Machine) fail(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.state != StateLobby || m.closed {
		return
	}
	m.err = err
	m.render()
}

// abandon returns to the menu after an error the lobby cannot recover from.
func (m *Machine) abandon(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.state != StateLobby || m.closed {
		return
	}
	m.leaveWith(err)
}

// leaveWith is called by the follower itself, so it must not wait for it.
func (m *Machine) leaveWith(err error) {
	m.state = StateMenu
	m.err = err
	m.release()
	m.render()
}

func (m *Machine) view() View {
	v := View{State: m.state, Err: m.err}
	if m.state == StateLobby || m.state == StateStarted {
		v.Team = m.snapshot.Team
		v.Members = slices.Clone(m.snapshot.Members)
		v.Self, _ = m.snapshot.Member(m.admission.Member.ID)
	}
	return v
}

func (m *Machine) render() {
	if m.renderer != nil {
		m.renderer.Render(m.view())
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
