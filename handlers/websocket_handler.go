package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/quii/vue-fast-sub001/realtime"
)

type WebSocketHandler struct {
	hub        *realtime.Hub
	dispatcher *realtime.Dispatcher
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// NewWebSocketHandler accepts connections from the allowed origins; "*" or an
// empty list accepts any origin.
func NewWebSocketHandler(hub *realtime.Hub, dispatcher *realtime.Dispatcher, allowedOrigins []string, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	allowAll := len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*")
	return &WebSocketHandler{
		hub:        hub,
		dispatcher: dispatcher,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowAll || origin == "" || slices.Contains(allowedOrigins, origin)
			},
		},
	}
}

// ServeWs upgrades GET /ws. Subscriptions are made over the channel itself.
func (h *WebSocketHandler) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Warn("failed to upgrade websocket connection",
			slog.String("remote", r.RemoteAddr),
			slog.Any("error", err),
		)
		return
	}

	client := realtime.NewClient(h.hub, conn, h.dispatcher, h.logger)
	h.hub.Register <- client

	go client.WritePump()
	go client.ReadPump(context.WithoutCancel(r.Context()))

	h.logger.Debug("websocket connection established", slog.String("remote", r.RemoteAddr))
}
