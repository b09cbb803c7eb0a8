package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	streamBuffer    = 16
	streamWriteWait = 5 * time.Second
	streamPingEvery = 30 * time.Second
	streamReadWait  = 2 * streamPingEvery
)

// handleStream upgrades to a websocket and pushes every tick snapshot of the
// game as a JSON text frame. The latest snapshot is sent first.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.streams.Add(1) > maxStreamConns {
		s.streams.Add(-1)
		writeError(w, http.StatusServiceUnavailable, "too many stream connections")
		return
	}
	defer s.streams.Add(-1)

	g := gameFrom(r)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	updates, unsubscribe := g.Subscribe(streamBuffer)
	defer unsubscribe()
	slog.Info("stream client connected", "game", g.ID, "remote", clientIP(r))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader: only control frames are expected; any read error ends the stream.
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamReadWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamReadWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if u, ok := g.Last(); ok {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(u); err != nil {
			return
		}
	}

	ping := time.NewTicker(streamPingEvery)
	defer ping.Stop()
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "game closed"), time.Now().Add(time.Second))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(u); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		case <-ctx.Done():
			slog.Info("stream client disconnected", "game", g.ID)
			return
		}
	}
}
