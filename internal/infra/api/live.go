package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"thumbnail-service/internal/domain/model"
	"thumbnail-service/internal/infra/logging"
)

const EventJobUpdate = "job-update"

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// Frame is the WebSocket message carrying one job update.
type Frame struct {
	Type string          `json:"type"`
	Data model.JobUpdate `json:"data"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// sessions authenticate with a token, not cookies
	CheckOrigin: func(r *http.Request) bool { return true },
}

// sseWrite writes one event and flushes it.
func sseWrite(w http.ResponseWriter, event string, data []byte) {
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func sendKeepAlive(w http.ResponseWriter) {
	_, _ = fmt.Fprint(w, ": keep-alive\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.With(ctx, s.log)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sub := s.hub.Subscribe(ownerFrom(ctx))
	defer s.hub.Unsubscribe(sub)
	sendKeepAlive(w)
	log.Debug().Msg("event stream opened")

	keepAlive := time.NewTicker(s.keepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("event stream closed")
			return
		case <-keepAlive.C:
			sendKeepAlive(w)
		case u, ok := <-sub.Updates():
			if !ok {
				return
			}
			data, err := json.Marshal(u)
			if err != nil {
				log.Error().Err(err).Msg("failed to encode job update")
				continue
			}
			sseWrite(w, EventJobUpdate, data)
		}
	}
}

func (s *Server) websocket(w http.ResponseWriter, r *http.Request) {
	log := logging.With(r.Context(), s.log)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := s.hub.Subscribe(ownerFrom(r.Context()))
	defer s.hub.Unsubscribe(sub)

	// the read side only serves control frames and notices the close
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case u, ok := <-sub.Updates():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(Frame{Type: EventJobUpdate, Data: u}); err != nil {
				log.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}
