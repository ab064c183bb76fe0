package handlers

import (
	"encoding/base64"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/voxpipe/realtime-transcription/internal/service"
	"github.com/voxpipe/realtime-transcription/internal/types"
)

// RecordingHandler exposes the per-recording transcription lifecycle.
type RecordingHandler struct {
	svc *service.Service
}

// NewRecordingHandler creates the recording handler.
func NewRecordingHandler(svc *service.Service) *RecordingHandler {
	return &RecordingHandler{svc: svc}
}

// Start begins transcription for a recording.
func (h *RecordingHandler) Start(c *fiber.Ctx) error {
	recordingID := c.Params("id")
	if err := h.svc.StartTranscription(recordingID); err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{
		"recording_id": recordingID,
		"status":       "transcribing",
	})
}

// Stop cancels outstanding jobs and finalizes the recording's transcript.
func (h *RecordingHandler) Stop(c *fiber.Ctx) error {
	recordingID := c.Params("id")
	if err := h.svc.StopTranscription(recordingID); err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{
		"recording_id": recordingID,
		"status":       "stopped",
	})
}

// ChunkRequest is the JSON body for chunk submission.
type ChunkRequest struct {
	ID              string  `json:"id"`
	Data            string  `json:"data"` // base64 audio bytes
	StartOffset     float64 `json:"start_offset"`
	EndOffset       float64 `json:"end_offset"`
	RecordingOffset float64 `json:"recording_offset"`
	IsOverlap       bool    `json:"is_overlap"`
}

// SubmitChunk enqueues one chunk for transcription.
func (h *RecordingHandler) SubmitChunk(c *fiber.Ctx) error {
	recordingID := c.Params("id")

	var req ChunkRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
			"code":  "ERR_INVALID_BODY",
		})
	}

	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Chunk data is not valid base64",
			"code":  "ERR_INVALID_DATA",
		})
	}

	chunk := &types.Chunk{
		ID:              req.ID,
		Data:            data,
		StartOffset:     req.StartOffset,
		EndOffset:       req.EndOffset,
		RecordingOffset: req.RecordingOffset,
		IsOverlap:       req.IsOverlap,
	}

	jobID, err := h.svc.ProcessChunk(recordingID, chunk)
	if err != nil {
		return serviceError(c, err)
	}

	return c.JSON(fiber.Map{
		"job_id":   jobID,
		"chunk_id": chunk.ID,
		"status":   "queued",
	})
}

// Transcript returns the recording's segments in start-time order.
func (h *RecordingHandler) Transcript(c *fiber.Ctx) error {
	recordingID := c.Params("id")
	return c.JSON(fiber.Map{
		"recording_id": recordingID,
		"segments":     h.svc.GetTranscript(recordingID),
	})
}

// MergedText returns the recording's current merged transcript text.
func (h *RecordingHandler) MergedText(c *fiber.Ctx) error {
	recordingID := c.Params("id")
	return c.JSON(fiber.Map{
		"recording_id": recordingID,
		"text":         h.svc.GetMergedText(recordingID),
	})
}

// serviceError maps service sentinel errors to HTTP responses.
func serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrDisabled):
		return c.Status(409).JSON(fiber.Map{"error": err.Error(), "code": "ERR_DISABLED"})
	case errors.Is(err, service.ErrRecordingNotActive):
		return c.Status(404).JSON(fiber.Map{"error": err.Error(), "code": "ERR_NOT_ACTIVE"})
	case errors.Is(err, service.ErrInvalidChunk):
		return c.Status(400).JSON(fiber.Map{"error": err.Error(), "code": "ERR_INVALID_CHUNK"})
	default:
		return c.Status(500).JSON(fiber.Map{"error": err.Error(), "code": "ERR_INTERNAL"})
	}
}
