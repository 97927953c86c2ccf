package collaboration

import (
	"net/http"
	"net/url"
	"strings"

	"collabwrite/internal/middleware"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

/*
WEBSOCKET UPGRADER

The upgrader converts HTTP connections to WebSocket connections.
Authentication happens later: the token travels in join-document, so the
handshake only checks the Origin header against the web client's URL.
*/

// WebSocketHandler upgrades /ws requests and attaches the connection to the hub
type WebSocketHandler struct {
	hub      *Hub
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a handler accepting browser connections from allowedOrigin.
// An empty allowedOrigin accepts any origin.
func NewWebSocketHandler(hub *Hub, allowedOrigin string, log *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigin),
		},
	}
}

func originChecker(allowed string) func(r *http.Request) bool {
	allowed = strings.TrimRight(allowed, "/")
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if allowed == "" || origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Scheme+"://"+u.Host, allowed)
	}
}

// ServeHTTP handles a collaboration socket
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := middleware.StartSpan(r.Context(), "WebSocket.Connect",
		attribute.String("http.remote_addr", r.RemoteAddr),
	)
	defer span.End()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("failed to upgrade websocket", zap.Error(err))
		middleware.AddSpanError(ctx, err)
		return
	}

	client := NewClient(conn, h.hub.opts.SendBuffer)
	if !h.hub.Register(client) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = conn.Close()
		return
	}
	span.SetAttributes(attribute.String("conn.id", client.ID))

	// Separate goroutines so a slow reader never blocks writes
	go client.WritePump()
	go client.ReadPump()

	h.log.Debug("websocket connection established", zap.String("conn_id", client.ID))
}
