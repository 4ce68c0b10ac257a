package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/daap14/huddle/internal/coordinator"
	"github.com/daap14/huddle/internal/feed"
)

const (
	// pongWait is how long the client waits for any frame before giving up.
	// The server pings well within this window.
	pongWait = 75 * time.Second

	writeWait = 10 * time.Second
)

type feedMessage struct {
	Type   string `json:"type"`
	TeamID string `json:"teamId"`
	Kind   string `json:"kind"`
}

// Subscribe opens the change feed of a team. The returned channel receives a
// feed.KindResync event once the server confirms the subscription and one
// event per change after that. Events may be coalesced: a slow reader sees
// at least one event after any burst of changes. The channel is closed when
// ctx is done or the connection drops.
func (c *Client) Subscribe(ctx context.Context, teamID uuid.UUID, token string) (<-chan feed.Event, error) {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/teams/" + teamID.String() + "/feed"

	header := http.Header{}
	header.Set(TokenHeader, token)

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode < http.StatusInternalServerError {
			defer resp.Body.Close()
			var env envelope
			if decodeErr := json.NewDecoder(resp.Body).Decode(&env); decodeErr == nil && env.Error != nil {
				return nil, env.Error.err()
			}
			return nil, fmt.Errorf("subscribing: status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: subscribing: %v", coordinator.ErrRetryable, err)
	}

	events := make(chan feed.Event, 1)
	go c.readFeed(ctx, conn, teamID, events)
	return events, nil
}

func (c *Client) readFeed(ctx context.Context, conn *websocket.Conn, teamID uuid.UUID, events chan feed.Event) {
	defer close(events)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(writeWait)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			conn.Close()
		case <-stop:
			conn.Close()
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		var msg feedMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("feed connection closed", "teamId", teamID, "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var ev feed.Event
		switch msg.Type {
		case "subscribed":
			ev = feed.Event{TeamID: teamID, Kind: feed.KindResync}
		case "changed":
			ev = feed.Event{TeamID: teamID, Kind: feed.Kind(msg.Kind)}
		default:
			continue
		}

		select {
		case events <- ev:
		default:
			// A change is already pending; the reader pulls a full snapshot anyway.
		}
	}
}
