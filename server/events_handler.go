package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// EventsHandler upgrades to a WebSocket and streams relay events to the
// subscriber as they are published. There is no replay: the stream starts
// with the next event. An optional {tenant} path segment filters the stream
// to one tenant.
func (s *Server) EventsHandler() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			allowed := s.config.GetAllowedOrigins()
			return allowed.IsAllowedOrigin(origin) || allowed.IsAllowedOrigin("*")
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		tenantFilter := r.PathValue("tenant")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		defer conn.Close()

		id, events := s.broker.Subscribe()
		defer s.broker.Unsubscribe(id)

		log.Info().Str("subscriber", id).Str("tenant_filter", tenantFilter).
			Msg("event stream opened")

		// Reader goroutine: the client sends nothing meaningful, but reads
		// must be drained to notice the peer going away.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
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
			case evt, ok := <-events:
				if !ok {
					return
				}
				if tenantFilter != "" && evt.TenantID != tenantFilter {
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(evt); err != nil {
					log.Debug().Str("subscriber", id).Err(err).Msg("event stream write failed")
					return
				}
			case <-ping.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-closed:
				return
			}
		}
	}
}
