package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/daap14/huddle/internal/api/middleware"
	"github.com/daap14/huddle/internal/api/response"
	"github.com/daap14/huddle/internal/feed"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// DefaultTouchInterval throttles activity writes per connection.
const DefaultTouchInterval = 30 * time.Second

// Subscriber opens change subscriptions for a team.
type Subscriber interface {
	Subscribe(teamID uuid.UUID) *feed.Subscription
}

// Toucher records member activity.
type Toucher interface {
	Touch(ctx context.Context, memberID uuid.UUID) error
}

type feedMessage struct {
	Type   string `json:"type"`
	TeamID string `json:"teamId"`
	Kind   string `json:"kind,omitempty"`
}

// FeedHandler streams change notifications for one team over a websocket.
// Messages carry no lobby state; clients refetch GET /teams/{id} on each one.
type FeedHandler struct {
	subscriber    Subscriber
	toucher       Toucher
	upgrader      websocket.Upgrader
	touchInterval time.Duration
}

// NewFeedHandler creates a new FeedHandler. An empty allowedOrigins accepts any origin.
func NewFeedHandler(subscriber Subscriber, toucher Toucher, allowedOrigins []string) *FeedHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return &FeedHandler{
		subscriber: subscriber,
		toucher:    toucher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
		},
		touchInterval: DefaultTouchInterval,
	}
}

// ServeHTTP handles GET /teams/{id}/feed. It expects Auth and RequireTeamMember
// to have run.
func (h *FeedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	id, ok := parseTeamID(w, r, requestID)
	if !ok {
		return
	}

	identity := middleware.GetIdentity(r.Context())
	if identity == nil {
		response.Err(w, http.StatusUnauthorized, "UNAUTHORIZED", "Participant token is required", requestID)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		middleware.Logger(r.Context()).Warn("feed: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Subscribe before the greeting so no change after it can be missed.
	sub := h.subscriber.Subscribe(id)
	defer sub.Close()

	log := middleware.Logger(r.Context()).With("teamId", id, "memberId", identity.MemberID)
	log.Info("feed: client subscribed")
	defer log.Info("feed: client unsubscribed")

	touch := h.throttledTouch(identity.MemberID)
	touch()

	done := make(chan struct{})
	go h.readPump(conn, touch, done)

	h.writePump(r.Context(), conn, id, sub, done)
}

// readPump discards client frames, using them and pongs as liveness signals.
func (h *FeedHandler) readPump(conn *websocket.Conn, touch func(), done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		touch()
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("feed: read error", "error", err)
			}
			return
		}
		touch()
	}
}

func (h *FeedHandler) writePump(ctx context.Context, conn *websocket.Conn, teamID uuid.UUID, sub *feed.Subscription, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	if err := writeJSON(conn, feedMessage{Type: "subscribed", TeamID: teamID.String()}); err != nil {
		return
	}

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			msg := feedMessage{Type: "changed", TeamID: teamID.String(), Kind: string(ev.Kind)}
			if err := writeJSON(conn, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}

func writeJSON(conn *websocket.Conn, msg feedMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

func (h *FeedHandler) throttledTouch(memberID uuid.UUID) func() {
	var (
		mu   sync.Mutex
		last time.Time
	)
	return func() {
		mu.Lock()
		now := time.Now()
		if !last.IsZero() && now.Sub(last) < h.touchInterval {
			mu.Unlock()
			return
		}
		last = now
		mu.Unlock()

		if err := h.toucher.Touch(context.Background(), memberID); err != nil {
			slog.Warn("feed: failed to record activity", "memberId", memberID, "error", err)
		}
	}
}
