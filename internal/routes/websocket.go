package routes

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/evently/collab/internal/hub"
	"github.com/evently/collab/internal/logger"
	"github.com/evently/collab/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // In production, replace with proper origin checking
	},
}

// WebSocketHandler upgrades authenticated connections and hands them to the
// hub.
type WebSocketHandler struct {
	hub *hub.Hub
	log *logger.Logger
}

// NewWebSocketHandler creates a new websocket handler.
func NewWebSocketHandler(h *hub.Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: h, log: logger.New("websocket")}
}

// HandleWebSocket handles incoming websocket connections.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	name := middleware.UserName(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("Error upgrading connection", "error", err)
		return
	}

	h.log.WithUser(userID).Debug("WebSocket connection established")
	hub.NewClient(h.hub, conn, userID, name).Start()
}
