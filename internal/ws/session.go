package ws

import (
	"encoding/json"
	"log"

	"github.com/gorilla/websocket"
)

// subscribeMsg is the only message clients send: which bot and channel
// they want pushed.
type subscribeMsg struct {
	BotID int64  `json:"bot_id"`
	Type  string `json:"type"`
}

// Serve owns one client connection: a writer goroutine drains the send
// buffer while the read loop turns incoming messages into subscriptions.
// Returns when the client disconnects; all of the client's workers are
// detached on the way out.
func (s *Service) Serve(conn *websocket.Conn) {
	c := newClient(conn)
	s.hub.register(c)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for raw := range c.send {
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				log.Printf("[WS] write: %v", err)
				return
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var msg subscribeMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("[WS] bad subscribe message: %v", err)
			continue
		}
		if msg.BotID <= 0 || msg.Type == "" {
			continue
		}
		s.subscribe(c, msg.BotID, msg.Type)
	}

	s.detach(c)
	s.hub.unregister(c)
	<-done
	_ = conn.Close()
}
