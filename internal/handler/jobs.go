package handler

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/sonicgenius/api/internal/analysis"
	"github.com/sonicgenius/api/internal/middleware"
	"github.com/sonicgenius/api/internal/model"
	"github.com/sonicgenius/api/internal/service"
	"github.com/sonicgenius/api/pkg/response"
)

// JobManager queues and tracks asynchronous analyses
type JobManager interface {
	StartText(ctx context.Context, owner, query string) (*model.JobStartResponse, error)
	StartVideo(ctx context.Context, owner, url string) (*model.JobStartResponse, error)
	StartAudio(ctx context.Context, owner string, data []byte, mediaType string) (*model.JobStartResponse, error)
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	GetStatus(ctx context.Context, jobID string) (*model.JobStatusResponse, error)
	GetResult(ctx context.Context, jobID string) (*model.AnalysisResponse, error)
	Cancel(ctx context.Context, jobID string) (*model.JobCancelResponse, error)
}

type JobsHandler struct {
	jobs      JobManager
	validator *validator.Validate
	maxUpload int64
}

func NewJobsHandler(jobs JobManager, v *validator.Validate, maxUpload int64) *JobsHandler {
	return &JobsHandler{
		jobs:      jobs,
		validator: v,
		maxUpload: maxUpload,
	}
}

// Text handles POST /api/jobs/text
func (h *JobsHandler) Text(c *fiber.Ctx) error {
	var req model.TextAnalysisRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.jobs.StartText(c.UserContext(), middleware.GetUserID(c), req.Query)
	return h.started(c, model.ModeText, result, err)
}

// Video handles POST /api/jobs/video
func (h *JobsHandler) Video(c *fiber.Ctx) error {
	var req model.VideoAnalysisRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.jobs.StartVideo(c.UserContext(), middleware.GetUserID(c), req.URL)
	return h.started(c, model.ModeVideo, result, err)
}

// Audio handles POST /api/jobs/audio (multipart, field "file")
func (h *JobsHandler) Audio(c *fiber.Ctx) error {
	up, ok, err := readUpload(c, h.maxUpload)
	if !ok {
		return err
	}

	result, err := h.jobs.StartAudio(c.UserContext(), middleware.GetUserID(c), up.Data, up.MediaType)
	return h.started(c, model.ModeAudio, result, err)
}

func (h *JobsHandler) started(c *fiber.Ctx, mode model.AnalysisMode, result *model.JobStartResponse, err error) error {
	if err != nil {
		if analysis.KindOf(err) != "" {
			return response.AnalysisError(c, err, mode)
		}
		return response.ServiceError(c, err.Error())
	}
	return response.Accepted(c, result)
}

// Status handles GET /api/jobs/status/:jobId
func (h *JobsHandler) Status(c *fiber.Ctx) error {
	jobID, err := h.ownedJob(c)
	if jobID == "" {
		return err
	}

	result, err := h.jobs.GetStatus(c.UserContext(), jobID)
	if err != nil {
		return jobError(c, err)
	}
	return response.OK(c, result)
}

// Result handles GET /api/jobs/result/:jobId
func (h *JobsHandler) Result(c *fiber.Ctx) error {
	jobID, err := h.ownedJob(c)
	if jobID == "" {
		return err
	}

	result, err := h.jobs.GetResult(c.UserContext(), jobID)
	if err != nil {
		return jobError(c, err)
	}
	return response.OK(c, result)
}

// Cancel handles POST /api/jobs/cancel/:jobId
func (h *JobsHandler) Cancel(c *fiber.Ctx) error {
	jobID, err := h.ownedJob(c)
	if jobID == "" {
		return err
	}

	result, err := h.jobs.Cancel(c.UserContext(), jobID)
	if err != nil {
		return jobError(c, err)
	}
	return response.OK(c, result)
}

// ownedJob returns the job id when the caller owns it. Otherwise it writes
// the error response and returns "".
func (h *JobsHandler) ownedJob(c *fiber.Ctx) (string, error) {
	jobID := c.Params("jobId")
	if jobID == "" {
		return "", response.ValidationError(c, "Job ID is required", nil)
	}

	job, err := h.jobs.GetJob(c.UserContext(), jobID)
	if err != nil {
		return "", jobError(c, err)
	}
	if job.Owner != "" && job.Owner != middleware.GetUserID(c) {
		return "", response.NotFound(c, "Job not found")
	}
	return jobID, nil
}

func jobError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrJobNotFound):
		return response.NotFound(c, "Job not found")
	case errors.Is(err, service.ErrJobNotCompleted):
		return response.Conflict(c, "Job not completed yet")
	case errors.Is(err, service.ErrJobFinished):
		return response.Conflict(c, "Job already finished")
	default:
		return response.ServiceError(c, err.Error())
	}
}
