package http

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"lrnr-quiz-service/internal/app"
	"lrnr-quiz-service/internal/config"
)

// WSHandler streams leaderboard snapshots to websocket clients.
type WSHandler struct {
	leaderboards *app.LeaderboardService
	upgrader     websocket.Upgrader
}

func NewWSHandler(leaderboards *app.LeaderboardService) *WSHandler {
	return &WSHandler{
		leaderboards: leaderboards,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

// ServeLeaderboard upgrades the request and pushes the board named by ?by= on every change.
func (h *WSHandler) ServeLeaderboard(w http.ResponseWriter, r *http.Request) {
	kind, err := app.ParseKind(r.URL.Query().Get("by"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	log := config.WithContext(r.Context()).WithField("board", kind)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()

	updates, cancel, err := h.leaderboards.Subscribe(r.Context(), kind)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorBody]{Type: "error", Payload: errorBody{Error: err.Error()}})
		return
	}
	defer cancel()

	// The client only sends control frames; reading surfaces its close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case lb, ok := <-updates:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(outboundMessage[any]{Type: "leaderboard", Payload: lb}); err != nil {
				log.WithError(err).Debug("ws write failed")
				return
			}
		case <-closed:
			return
		}
	}
}
