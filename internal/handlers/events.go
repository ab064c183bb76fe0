package handlers

import (
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"github.com/voxpipe/realtime-transcription/internal/notify"
)

// EventsHandler streams pipeline notifications over a WebSocket.
type EventsHandler struct {
	hub *notify.Hub
	log *logrus.Entry
}

// NewEventsHandler creates the event feed handler.
func NewEventsHandler(hub *notify.Hub, log *logrus.Entry) *EventsHandler {
	return &EventsHandler{hub: hub, log: log}
}

// Handle forwards events to the client until it disconnects. An optional
// ?recording_id= query filters to one recording (breaker events always
// pass through).
func (h *EventsHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	filter := c.Query("recording_id")
	id, events := h.hub.Subscribe()
	defer h.hub.Unsubscribe(id)

	h.log.WithField("subscriber", id).Debug("event feed opened")

	// drain client frames so close is noticed
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if filter != "" && event.RecordingID != "" && event.RecordingID != filter {
				continue
			}
			if err := c.WriteJSON(event); err != nil {
				h.log.WithError(err).Debug("event feed write failed")
				return
			}
		}
	}
}
