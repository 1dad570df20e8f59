package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// Envelope wraps every message pushed to dashboard clients.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// stream pushes every new snapshot to a WebSocket client. A client that falls
// behind skips intermediate snapshots.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	clientID := uuid.NewString()
	logger := s.logger.With("client_id", clientID)
	logger.Info("stream client connected", "remote", r.RemoteAddr)
	defer logger.Info("stream client disconnected")

	updates, unsubscribe := s.sim.Subscribe()
	defer unsubscribe()

	// clients only send control frames; reading keeps pongs and close frames flowing
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-s.ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeWait))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case snap, ok := <-updates:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(Envelope{Type: "snapshot", Payload: snap}); err != nil {
				logger.Debug("stream write failed", "err", err)
				return
			}
		}
	}
}
