package server

import (
	"net/http"

	"radiotiker/core/events"
	"radiotiker/logger"

	"github.com/gorilla/websocket"
)

// EventsHandler upgrades GET /library/{user_id}/events to a websocket.
type EventsHandler struct {
	hub      *events.Hub
	upgrader websocket.Upgrader
}

func NewEventsHandler(hub *events.Hub) *EventsHandler {
	return &EventsHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromPath(w, r)
	if !ok {
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", logger.String("user", userID), logger.ErrorField(err))
		return
	}

	client := events.NewClient(h.hub, conn, userID)
	h.hub.Register(client)
	go client.WritePump()
	client.ReadPump()
}
