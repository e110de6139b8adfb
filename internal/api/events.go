package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	logx "coursecast/pkg/logx"
)

const (
	eventBuffer  = 64
	writeTimeout = 10 * time.Second
)

type eventPayload struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

// handleEvents streams pipeline events over a websocket. The stream is
// best effort: a slow client misses events rather than stalling sends.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ch, unsubscribe := s.bus.Subscribe(eventBuffer)
	defer unsubscribe()

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// Loopback-only server; browser pages on other origins still
		// can't reach it without the bearer token.
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				payload := eventPayload{Type: ev.Type, Time: ev.Time, Data: ev.Data}
				if payload.Time.IsZero() {
					payload.Time = time.Now().UTC()
				}
				if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
					return
				}
				if err := conn.WriteJSON(payload); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	// Block on reads so client disconnects tear the stream down.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("event stream closed", logx.Err(err))
			}
			return
		}
	}
}
