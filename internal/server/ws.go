package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/cameramouse/internal/app"
	"github.com/ayusman/cameramouse/internal/supervisor"
)

const (
	// hubBuffer is the number of pending status messages kept for slow
	// clients before new ones are dropped.
	hubBuffer    = 32
	writeTimeout = 2 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

type eventMessage struct {
	Kind      string     `json:"kind"`
	From      string     `json:"from"`
	To        string     `json:"to"`
	Point     *app.Point `json:"point"`
	Remaining *int       `json:"remaining,omitempty"`
	At        int64      `json:"at"`
}

// statusMessage is sent to websocket clients. Event is nil for the initial
// message sent on connect.
type statusMessage struct {
	Event  *eventMessage `json:"event"`
	Status app.Status    `json:"status"`
}

// StatusHub broadcasts supervisor events and status to websocket clients.
type StatusHub struct {
	status  func() app.Status
	logger  *slog.Logger
	updates chan []byte
	done    chan struct{}
	once    sync.Once

	mu      sync.RWMutex
	clients map[*websocket.Conn]bool
}

// NewStatusHub creates a hub. status supplies the message sent to new
// clients.
func NewStatusHub(status func() app.Status, logger *slog.Logger) *StatusHub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &StatusHub{
		status:  status,
		logger:  logger,
		updates: make(chan []byte, hubBuffer),
		done:    make(chan struct{}),
		clients: make(map[*websocket.Conn]bool),
	}
	go h.broadcast()
	return h
}

// Publish queues ev for broadcast. It never blocks, so it is safe to use as
// an app.Subscriber on the control loop.
func (h *StatusHub) Publish(ev supervisor.Event, st app.Status) {
	msg, err := json.Marshal(statusMessage{
		Event: &eventMessage{
			Kind:      string(ev.Kind),
			From:      ev.From.String(),
			To:        ev.To.String(),
			Point:     pointOf(ev),
			Remaining: remainingOf(ev),
			At:        ev.At.UnixMilli(),
		},
		Status: st,
	})
	if err != nil {
		h.logger.Warn("failed to encode status message", "error", err)
		return
	}

	select {
	case h.updates <- msg:
	default:
		h.logger.Debug("status message dropped", "kind", ev.Kind)
	}
}

func remainingOf(ev supervisor.Event) *int {
	if n, ok := ev.Countdown(); ok {
		return &n
	}
	return nil
}

func pointOf(ev supervisor.Event) *app.Point {
	if ev.Point.IsEmpty() {
		return nil
	}
	return &app.Point{X: ev.Point.X, Y: ev.Point.Y}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *StatusHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade error", "error", err)
		return
	}
	defer conn.Close()

	if h.status != nil {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(statusMessage{Status: h.status()}); err != nil {
			return
		}
	}

	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		return
	default:
	}
	h.clients[conn] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// broadcast sends queued messages to all connected clients.
func (h *StatusHub) broadcast() {
	for {
		select {
		case <-h.done:
			return
		case msg := <-h.updates:
			h.mu.RLock()
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					// The reader loop removes the client once Close unblocks it.
					conn.Close()
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Clients returns the number of connected clients.
func (h *StatusHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects all clients and stops broadcasting.
func (h *StatusHub) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		close(h.done)
		for conn := range h.clients {
			conn.Close()
		}
		h.mu.Unlock()
	})
}
