// Package hub is the notification fan-out: it keeps the set of connected UI
// sessions per user and pushes JSON events to them over WebSocket. Delivery
// is at-most-once per session; a send error drops the session.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 64
)

// Session is one connected UI client for one user.
type Session struct {
	hub    *Hub
	conn   *websocket.Conn
	userID uuid.UUID
	send   chan []byte

	mu     sync.Mutex
	closed bool
}

// Hub routes events to sessions. Broadcasts to different users never
// synchronize with each other beyond the registry lock; writes to one
// session are serialized by its send channel.
type Hub struct {
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]map[*Session]struct{}
}

// New creates an empty hub.
func New(logger *slog.Logger) *Hub {
	return &Hub{
		logger:   logger.With("component", "hub"),
		sessions: make(map[uuid.UUID]map[*Session]struct{}),
	}
}

// Attach registers a connection for a user and starts its pumps. The
// returned session lives until the peer disconnects or a send fails.
func (h *Hub) Attach(userID uuid.UUID, conn *websocket.Conn) *Session {
	s := &Session{
		hub:    h,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, sendBufferSize),
	}

	h.mu.Lock()
	if h.sessions[userID] == nil {
		h.sessions[userID] = make(map[*Session]struct{})
	}
	h.sessions[userID][s] = struct{}{}
	h.mu.Unlock()

	go s.writePump()
	go s.readPump()

	h.logger.Debug("session attached", "user_id", userID)
	return s
}

// Detach removes a session from the registry and closes its connection.
// Idempotent; safe to race with enqueue.
func (h *Hub) Detach(s *Session) {
	h.mu.Lock()
	if set, ok := h.sessions[s.userID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.sessions, s.userID)
		}
	}
	h.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
	_ = s.conn.Close()
}

// Notify pushes one event to every session of one user.
func (h *Hub) Notify(userID uuid.UUID, event string, payload map[string]any) {
	data, err := encodeEvent(event, payload)
	if err != nil {
		h.logger.Error("encode event failed", "event", event, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions[userID]))
	for s := range h.sessions[userID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		s.enqueue(data)
	}
}

// Broadcast pushes one event to every connected session.
func (h *Hub) Broadcast(event string, payload map[string]any) {
	data, err := encodeEvent(event, payload)
	if err != nil {
		h.logger.Error("encode event failed", "event", event, "error", err)
		return
	}

	h.mu.RLock()
	var targets []*Session
	for _, set := range h.sessions {
		for s := range set {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range targets {
		s.enqueue(data)
	}
}

// SessionCount reports the number of live sessions across all users.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.sessions {
		n += len(set)
	}
	return n
}

// Heartbeat pushes a ping event to every session on each interval until the
// context is cancelled.
func (h *Hub) Heartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			h.Broadcast(EventPing, map[string]any{"time": t.UTC().Format(time.RFC3339)})
		}
	}
}

func encodeEvent(event string, payload map[string]any) ([]byte, error) {
	msg := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		msg[k] = v
	}
	msg["type"] = event
	return json.Marshal(msg)
}

// enqueue hands the frame to the session's writer without blocking. A full
// buffer means the peer stopped reading; the session is dropped. The closed
// flag is checked under the session lock so the send never races a close.
func (s *Session) enqueue(data []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	select {
	case s.send <- data:
		s.mu.Unlock()
	default:
		s.mu.Unlock()
		s.hub.logger.Warn("session send buffer full, dropping session", "user_id", s.userID)
		go s.hub.Detach(s)
	}
}

func (s *Session) writePump() {
	for data := range s.send {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.hub.logger.Debug("session write failed", "user_id", s.userID, "error", err)
			s.hub.Detach(s)
			return
		}
	}
}

// readPump drains inbound frames. Client messages are ignored; reading only
// detects the peer closing. No read deadline: clients are passive listeners
// and the application-level ping keeps intermediaries from idling out.
func (s *Session) readPump() {
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			s.hub.Detach(s)
			return
		}
	}
}
