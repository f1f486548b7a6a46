package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10 // must stay below pongWait

	maxMessageSize = 4096
	sendBufferSize = 256
)

// Channels are the bus channels the hub relays.
var Channels = []string{
	domain.ChannelTransfers,
	domain.ChannelSettlements,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin policy is enforced by the CORS and auth middleware in front.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Envelope is every frame the hub writes: type "status" once on connect,
// then type "event" for each relayed bus message.
type Envelope struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Hub fans transfer and settlement events out to websocket clients.
// A client connecting with ?user_id= only sees that user's transfers and
// one connecting with ?league_id= only that league's settlements.
type Hub struct {
	bus       domain.SignalBus
	logger    *slog.Logger
	mode      string
	startedAt time.Time

	register   chan *client
	unregister chan *client
	events     chan event
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// event is a framed bus message plus the owner ids used for filtering.
type event struct {
	channel  string
	userID   string
	leagueID string
	frame    []byte
}

// NewHub creates a hub bridging bus to websocket clients. mode is reported
// to clients on connect.
func NewHub(bus domain.SignalBus, mode string, logger *slog.Logger) *Hub {
	mode = strings.TrimSpace(strings.ToLower(mode))
	if mode == "" {
		mode = "unknown"
	}
	return &Hub{
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws")),
		mode:       mode,
		startedAt:  time.Now().UTC(),
		register:   make(chan *client),
		unregister: make(chan *client),
		events:     make(chan event, sendBufferSize),
		done:       make(chan struct{}),
		clients:    make(map[*client]struct{}),
	}
}

// Run relays bus events until ctx is cancelled, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for _, ch := range Channels {
		go h.relay(ctx, ch)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected",
				slog.Int("clients", n),
				slog.String("user_id", c.userID),
				slog.String("league_id", c.leagueID),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("clients", n))

		case ev := <-h.events:
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(ev) {
					continue
				}
				select {
				case c.send <- ev.frame:
				default:
					h.logger.Warn("ws: dropping event for slow client", slog.String("channel", ev.channel))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// relay forwards one bus channel into the hub loop.
func (h *Hub) relay(ctx context.Context, channel string) {
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws: bus subscription closed", slog.String("channel", channel))
				return
			}
			ev, err := frameEvent(channel, data)
			if err != nil {
				h.logger.Warn("ws: dropping non-JSON payload", slog.String("channel", channel))
				continue
			}
			select {
			case h.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func frameEvent(channel string, data []byte) (event, error) {
	var owner struct {
		UserID   string `json:"userId"`
		LeagueID string `json:"leagueId"`
	}
	if err := json.Unmarshal(data, &owner); err != nil {
		return event{}, err
	}
	frame, err := json.Marshal(Envelope{Type: "event", Channel: channel, Payload: data})
	if err != nil {
		return event{}, err
	}
	return event{channel: channel, userID: owner.UserID, leagueID: owner.LeagueID, frame: frame}, nil
}

// HandleWS upgrades the request and registers the client, subscribed to
// every relayed channel.
// GET /ws?user_id=&league_id=
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		subs:     make(map[string]bool, len(Channels)),
		userID:   r.URL.Query().Get("user_id"),
		leagueID: r.URL.Query().Get("league_id"),
	}
	for _, ch := range Channels {
		c.subs[ch] = true
	}
	c.sendStatus()

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

type client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	userID   string
	leagueID string

	mu   sync.RWMutex
	subs map[string]bool
}

// subscribeMsg changes a client's channels.
type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// wants reports whether ev passes the client's channel and owner filters.
// Events without an owner id reach every subscriber of the channel.
func (c *client) wants(ev event) bool {
	if !c.isSubscribed(ev.channel) {
		return false
	}
	if c.userID != "" && ev.userID != "" && ev.userID != c.userID {
		return false
	}
	if c.leagueID != "" && ev.leagueID != "" && ev.leagueID != c.leagueID {
		return false
	}
	return true
}

func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[channel]
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
}

func (c *client) sendStatus() {
	payload, err := json.Marshal(map[string]any{
		"mode":           c.hub.mode,
		"uptime_seconds": int64(time.Since(c.hub.startedAt).Seconds()),
		"channels":       Channels,
	})
	if err != nil {
		return
	}
	frame, err := json.Marshal(Envelope{Type: "status", Payload: payload})
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
