package feed

import (
	"sync"

	"github.com/google/uuid"
)

// Kind names the row-level change behind an Event.
type Kind string

const (
	KindMemberAdded Kind = "member_added"
	KindTeamUpdated Kind = "team_updated"
	// KindResync is sent when upstream notifications may have been lost.
	KindResync Kind = "resync"
)

// Event signals that something changed for a team. It carries no state: the
// receiver is expected to pull a fresh snapshot.
type Event struct {
	TeamID uuid.UUID `json:"team_id"`
	Kind   Kind      `json:"kind"`
}

// Publisher accepts change events.
type Publisher interface {
	Publish(ev Event)
}

// Broker fans events out to the subscriptions of the event's team.
//
// Each subscription has a single-slot buffer. When the slot is already full the
// new event is dropped: the pending one already tells the subscriber to
// refetch, so delivery stays at-least-once per change while slow subscribers
// never block publishers.
type Broker struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[*Subscription]struct{}
}

// NewBroker creates an empty Broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[uuid.UUID]map[*Subscription]struct{})}
}

// Subscribe registers a new subscription for teamID.
func (b *Broker) Subscribe(teamID uuid.UUID) *Subscription {
	s := &Subscription{
		broker: b,
		teamID: teamID,
		ch:     make(chan Event, 1),
	}

	b.mu.Lock()
	set, ok := b.subs[teamID]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[teamID] = set
	}
	set[s] = struct{}{}
	b.mu.Unlock()

	return s
}

// Publish delivers ev to every subscription of ev.TeamID.
func (b *Broker) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for s := range b.subs[ev.TeamID] {
		s.offer(ev)
	}
}

// Resync signals every subscription of every team.
func (b *Broker) Resync() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for teamID, set := range b.subs {
		for s := range set {
			s.offer(Event{TeamID: teamID, Kind: KindResync})
		}
	}
}

// Subscribers returns the number of open subscriptions for teamID.
func (b *Broker) Subscribers(teamID uuid.UUID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[teamID])
}

func (b *Broker) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.subs[s.teamID]
	if !ok {
		return
	}
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(b.subs, s.teamID)
	}
	// Drop a pending signal so nothing is received after Close returns.
	select {
	case <-s.ch:
	default:
	}
	close(s.ch)
}

// Subscription is a handle on one team's change stream.
type Subscription struct {
	broker *Broker
	teamID uuid.UUID
	ch     chan Event
	once   sync.Once
}

// TeamID returns the team this subscription observes.
func (s *Subscription) TeamID() uuid.UUID { return s.teamID }

// Events returns the delivery channel. It is closed by Close.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Close unsubscribes. It is safe to call more than once; once it returns no
// further events are delivered.
func (s *Subscription) Close() {
	s.once.Do(func() { s.broker.remove(s) })
}

// offer must be called with the broker lock held.
func (s *Subscription) offer(ev Event) {
	select {
	case s.ch <- ev:
	default:
	}
}
