package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Channel is the PostgreSQL notification channel written by the schema triggers.
const Channel = "team_changes"

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// Listener bridges PostgreSQL LISTEN/NOTIFY into a Broker.
type Listener struct {
	connString string
	broker     *Broker
}

// NewListener creates a Listener that opens its own connection from connString.
func NewListener(connString string, broker *Broker) *Listener {
	return &Listener{connString: connString, broker: broker}
}

// Start listens until ctx is cancelled, reconnecting with exponential backoff.
// Subscribers are resynced after every (re)connect since notifications sent
// while disconnected are lost.
func (l *Listener) Start(ctx context.Context) {
	slog.Info("feed listener started", "channel", Channel)
	backoff := minBackoff

	for {
		err := l.listen(ctx, func() { backoff = minBackoff })
		if ctx.Err() != nil {
			slog.Info("feed listener stopped")
			return
		}

		slog.Warn("feed listener disconnected", "error", err, "retryIn", backoff.String())
		select {
		case <-ctx.Done():
			slog.Info("feed listener stopped")
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (l *Listener) listen(ctx context.Context, onConnected func()) error {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{Channel}.Sanitize()); err != nil {
		return fmt.Errorf("subscribing to %s: %w", Channel, err)
	}

	onConnected()
	l.broker.Resync()

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("waiting for notification: %w", err)
		}

		ev, err := ParsePayload(n.Payload)
		if err != nil {
			slog.Warn("feed listener: dropping malformed notification", "payload", n.Payload, "error", err)
			continue
		}
		l.broker.Publish(ev)
	}
}

// ParsePayload decodes a trigger payload of the form {"team_id": "...", "kind": "..."}.
func ParsePayload(payload string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Event{}, fmt.Errorf("decoding payload: %w", err)
	}
	if ev.TeamID == uuid.Nil {
		return Event{}, fmt.Errorf("payload has no team_id")
	}
	switch ev.Kind {
	case KindMemberAdded, KindTeamUpdated:
	default:
		return Event{}, fmt.Errorf("unknown kind %q", ev.Kind)
	}
	return ev, nil
}
