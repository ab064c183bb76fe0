package handlers

import (
	"encoding/json"
	"fmt"

	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"github.com/voxpipe/realtime-transcription/internal/service"
	"github.com/voxpipe/realtime-transcription/internal/types"
)

// StreamHandler accepts chunked audio over a WebSocket. The client sends a
// JSON text frame describing the next chunk, then a binary frame with its
// bytes; the text frame "END" stops the recording.
type StreamHandler struct {
	svc *service.Service
	log *logrus.Entry
}

// NewStreamHandler creates the chunk streaming handler.
func NewStreamHandler(svc *service.Service, log *logrus.Entry) *StreamHandler {
	return &StreamHandler{svc: svc, log: log}
}

// chunkMeta is the control frame preceding each binary chunk frame.
type chunkMeta struct {
	ID              string  `json:"id"`
	StartOffset     float64 `json:"start_offset"`
	EndOffset       float64 `json:"end_offset"`
	RecordingOffset float64 `json:"recording_offset"`
	IsOverlap       bool    `json:"is_overlap"`
}

// Handle runs one streaming session for the recording in the route param.
func (h *StreamHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	recordingID := c.Params("id")
	log := h.log.WithField("recording_id", recordingID)

	if err := h.svc.StartTranscription(recordingID); err != nil {
		c.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf(`{"error":%q}`, err.Error())))
		return
	}
	log.Info("chunk stream opened")

	var pending *chunkMeta
	for {
		messageType, message, err := c.ReadMessage()
		if err != nil {
			log.WithError(err).Debug("stream read ended")
			break
		}

		if messageType == websocket.TextMessage {
			if string(message) == "END" {
				break
			}
			var meta chunkMeta
			if err := json.Unmarshal(message, &meta); err != nil {
				c.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid chunk metadata"}`))
				continue
			}
			pending = &meta
			continue
		}

		if messageType == websocket.BinaryMessage {
			if pending == nil {
				c.WriteMessage(websocket.TextMessage, []byte(`{"error":"binary frame without metadata"}`))
				continue
			}
			chunk := &types.Chunk{
				ID:              pending.ID,
				Data:            message,
				StartOffset:     pending.StartOffset,
				EndOffset:       pending.EndOffset,
				RecordingOffset: pending.RecordingOffset,
				IsOverlap:       pending.IsOverlap,
			}
			pending = nil

			jobID, err := h.svc.ProcessChunk(recordingID, chunk)
			if err != nil {
				c.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf(`{"error":%q}`, err.Error())))
				continue
			}
			c.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf(`{"job_id":%q,"chunk_id":%q,"status":"queued"}`, jobID, chunk.ID)))
		}
	}

	if err := h.svc.StopTranscription(recordingID); err != nil {
		log.WithError(err).Debug("stop on stream close")
		return
	}
	log.Info("chunk stream closed, transcript finalized")
}
