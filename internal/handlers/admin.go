package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/voxpipe/realtime-transcription/internal/logger"
	"github.com/voxpipe/realtime-transcription/internal/service"
	"github.com/voxpipe/realtime-transcription/internal/types"
)

// AdminHandler exposes config, stats, health, and log access.
type AdminHandler struct {
	svc    *service.Service
	logBuf *logger.Buffer
}

// NewAdminHandler creates the admin handler.
func NewAdminHandler(svc *service.Service, logBuf *logger.Buffer) *AdminHandler {
	return &AdminHandler{svc: svc, logBuf: logBuf}
}

// GetConfig returns the current transcription options.
func (h *AdminHandler) GetConfig(c *fiber.Ctx) error {
	return c.JSON(h.svc.Config())
}

// UpdateConfig applies a partial config update.
func (h *AdminHandler) UpdateConfig(c *fiber.Ctx) error {
	var patch types.ConfigPatch
	if err := c.BodyParser(&patch); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
			"code":  "ERR_INVALID_BODY",
		})
	}
	if patch.ChunkOverlap != nil && patch.ChunkDuration != nil && *patch.ChunkOverlap >= *patch.ChunkDuration {
		return c.Status(400).JSON(fiber.Map{
			"error": "chunk_overlap must be less than chunk_duration",
			"code":  "ERR_INVALID_CONFIG",
		})
	}
	return c.JSON(h.svc.UpdateConfig(patch))
}

// Stats returns the aggregate service counters.
func (h *AdminHandler) Stats(c *fiber.Ctx) error {
	return c.JSON(h.svc.GetStats())
}

// Health returns the memory health report.
func (h *AdminHandler) Health(c *fiber.Ctx) error {
	report := h.svc.HealthReport()
	status := 200
	if !report.Healthy {
		status = 207 // degraded but serving
	}
	return c.Status(status).JSON(report)
}

// Logs returns recent server log lines.
func (h *AdminHandler) Logs(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"logs": h.logBuf.Lines()})
}

// ResetBreaker is the manual circuit breaker override.
func (h *AdminHandler) ResetBreaker(c *fiber.Ctx) error {
	h.svc.ResetBreaker()
	return c.JSON(fiber.Map{"status": "reset"})
}
