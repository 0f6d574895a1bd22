package api

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The UI runs on a different origin in development; auth is the token.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebSocket upgrades /ws?token=… and attaches the session to the hub.
// The token travels in the query string because browsers cannot set headers
// on WebSocket dials.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		writeDetail(w, http.StatusUnauthorized, "missing token")
		return
	}
	userID, err := s.parseToken(raw)
	if err != nil {
		writeDetail(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the failure response.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	s.hub.Attach(userID, conn)
}
