package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"transcodeserver/internal/progressbus"
	"transcodeserver/pkg/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket upgrades to /ws/progress and runs the read/write pumps
// for one subscriber, grounded on jontk-slurm-client's
// pkg/streaming/websocket.go HandleWebSocket/keepAlive split, adapted to
// ws_poc's ping/pong-driven liveness check and the progress bus's
// priority/normal dual-queue subscriber instead of a single stream channel.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub, ok := s.bus.Register()
	if !ok {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections"))
		return
	}
	defer s.bus.Unregister(sub)

	done := make(chan struct{})
	go s.readPump(conn, sub, done)
	s.writePump(conn, sub, done)
}

func (s *Server) readPump(conn *websocket.Conn, sub *progressbus.Subscriber, done chan struct{}) {
	defer close(done)

	conn.SetReadDeadline(time.Now().Add(progressbus.PongTimeout()))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(progressbus.PongTimeout()))
		return nil
	})

	for {
		var msg models.ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "subscribe":
			sub.Subscribe(msg.JobIDs)
		case "subscribe_all":
			sub.SubscribeAll()
		case "unsubscribe":
			sub.Unsubscribe(msg.JobIDs)
		case "pong":
			// handled via SetPongHandler for control frames; a JSON pong is
			// also accepted from clients that only support text frames.
			conn.SetReadDeadline(time.Now().Add(progressbus.PongTimeout()))
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, sub *progressbus.Subscriber, done chan struct{}) {
	ticker := time.NewTicker(progressbus.PingPeriod())
	defer ticker.Stop()

	priority, normal := sub.Outbox()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case msg := <-priority:
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case msg := <-normal:
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}
