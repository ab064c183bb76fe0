package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/voxpipe/realtime-transcription/internal/service"
)

// JobHandler exposes job status and cancellation.
type JobHandler struct {
	svc *service.Service
}

// NewJobHandler creates the job handler.
func NewJobHandler(svc *service.Service) *JobHandler {
	return &JobHandler{svc: svc}
}

// Get returns a job snapshot.
func (h *JobHandler) Get(c *fiber.Ctx) error {
	jobID := c.Params("id")
	job, ok := h.svc.GetJob(jobID)
	if !ok {
		return c.Status(404).JSON(fiber.Map{
			"error": "Job not found",
			"code":  "ERR_JOB_NOT_FOUND",
		})
	}
	return c.JSON(job)
}

// Cancel cancels a job; returns whether the cancellation took effect.
func (h *JobHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("id")
	cancelled := h.svc.CancelJob(jobID)
	if !cancelled {
		return c.Status(409).JSON(fiber.Map{
			"job_id":    jobID,
			"cancelled": false,
			"error":     "Job is unknown or already terminal",
		})
	}
	return c.JSON(fiber.Map{
		"job_id":    jobID,
		"cancelled": true,
	})
}
