package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atlasframe/registry/internal/events"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
	// wsBuffer bounds the per-client queue; slow consumers are dropped
	// rather than allowed to block event publication.
	wsBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin policy is enforced by the CORS middleware in front.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEventsWS streams registry events to a websocket client as JSON
// messages, one event per message.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	queue := make(chan events.Event, wsBuffer)
	overflow := make(chan struct{}, 1)
	unsubscribe := s.reg.Events().Subscribe(func(e events.Event) {
		select {
		case queue <- e:
		default:
			select {
			case overflow <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	// Reader goroutine: surfaces client disconnects and discards input.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case e := <-queue:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-overflow:
			s.log.Warn("websocket client too slow, closing")
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "event stream overflow"),
				time.Now().Add(wsWriteTimeout))
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
