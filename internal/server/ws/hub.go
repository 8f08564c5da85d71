// Package ws pushes live events and price snapshots to dashboard clients
// over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/alanyoungcy/arbcore/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Topics a client can subscribe to.
const (
	TopicEvents = "events"
	TopicPrices = "prices"
)

var allTopics = []string{TopicEvents, TopicPrices}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// envelope is the frame sent to clients.
type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type broadcastMsg struct {
	topic string
	data  []byte
}

// Config captures runtime metadata for the status frame sent on connect.
type Config struct {
	Mode          string
	StartedAt     time.Time
	PriceInterval time.Duration
}

// Hub fans events out to connected clients. Events arrive either directly,
// with the hub registered as an event sink, or from the signal bus when one
// is attached so every instance's events reach every dashboard.
type Hub struct {
	cfg        Config
	logger     *slog.Logger
	bus        domain.SignalBus
	busChannel string
	prices     func() any

	clients    map[*client]struct{}
	mu         sync.RWMutex
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	done       chan struct{}
}

// NewHub creates a Hub.
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	return &Hub{
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "ws_hub")),
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// WithBus feeds the hub from a pub/sub channel instead of direct events.
func (h *Hub) WithBus(bus domain.SignalBus, channel string) *Hub {
	h.bus = bus
	h.busChannel = channel
	return h
}

// WithPrices pushes snapshot() to price subscribers every PriceInterval.
func (h *Hub) WithPrices(snapshot func() any) *Hub {
	h.prices = snapshot
	return h
}

func (h *Hub) Name() string { return "ws" }

// Handle broadcasts ev. With a bus attached it does nothing, since the bus
// subscription delivers the same event.
func (h *Hub) Handle(ctx context.Context, ev domain.Event) error {
	if h.bus != nil {
		return nil
	}
	data, err := json.Marshal(envelope{Type: "event", Payload: ev})
	if err != nil {
		return err
	}
	h.enqueue(ctx, broadcastMsg{topic: TopicEvents, data: data})
	return nil
}

func (h *Hub) enqueue(ctx context.Context, msg broadcastMsg) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	case <-ctx.Done():
	}
}

// Run serves registrations and broadcasts until ctx ends.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	if h.bus != nil {
		go h.subscribe(ctx)
	}
	if h.prices != nil && h.cfg.PriceInterval > 0 {
		go h.pushPrices(ctx)
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
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", n))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(msg.topic) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("dropping message for slow client", slog.String("topic", msg.topic))
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) subscribe(ctx context.Context) {
	msgs, err := h.bus.Subscribe(ctx, h.busChannel)
	if err != nil {
		h.logger.Error("event bus subscribe failed",
			slog.String("channel", h.busChannel),
			slog.String("error", err.Error()),
		)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-msgs:
			if !ok {
				h.logger.Warn("event bus subscription closed", slog.String("channel", h.busChannel))
				return
			}
			data, err := json.Marshal(envelope{Type: "event", Payload: json.RawMessage(payload)})
			if err != nil {
				continue
			}
			h.enqueue(ctx, broadcastMsg{topic: TopicEvents, data: data})
		}
	}
}

func (h *Hub) pushPrices(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.PriceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if h.clientCount() == 0 {
				continue
			}
			data, err := json.Marshal(envelope{Type: "prices", Payload: h.prices()})
			if err != nil {
				continue
			}
			h.enqueue(ctx, broadcastMsg{topic: TopicPrices, data: data})
		}
	}
}

// HandleWS upgrades the request and registers the client, subscribed to
// every topic until it says otherwise.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool, len(allTopics)),
	}
	for _, t := range allTopics {
		c.subs[t] = true
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

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
