package handler

import (
	"bytes"
	"context"
	"io"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/sonicgenius/api/internal/analysis"
	"github.com/sonicgenius/api/internal/model"
	"github.com/sonicgenius/api/pkg/response"
)

// Analyzer runs synchronous analyses
type Analyzer interface {
	AnalyzeByText(ctx context.Context, query string) (*model.AnalysisResult, error)
	AnalyzeByVideoReference(ctx context.Context, url string) (*model.AnalysisResult, error)
	AnalyzeByAudio(ctx context.Context, r io.Reader, mediaType string) (*model.AnalysisResult, error)
}

type AnalysisHandler struct {
	analyzer  Analyzer
	validator *validator.Validate
	maxUpload int64
}

func NewAnalysisHandler(analyzer Analyzer, v *validator.Validate, maxUpload int64) *AnalysisHandler {
	return &AnalysisHandler{
		analyzer:  analyzer,
		validator: v,
		maxUpload: maxUpload,
	}
}

// Text handles POST /api/analyze/text
func (h *AnalysisHandler) Text(c *fiber.Ctx) error {
	var req model.TextAnalysisRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.analyzer.AnalyzeByText(c.UserContext(), req.Query)
	return h.respond(c, model.ModeText, result, err)
}

// Video handles POST /api/analyze/video
func (h *AnalysisHandler) Video(c *fiber.Ctx) error {
	var req model.VideoAnalysisRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.analyzer.AnalyzeByVideoReference(c.UserContext(), req.URL)
	return h.respond(c, model.ModeVideo, result, err)
}

// Audio handles POST /api/analyze/audio (multipart, field "file")
func (h *AnalysisHandler) Audio(c *fiber.Ctx) error {
	up, ok, err := readUpload(c, h.maxUpload)
	if !ok {
		return err
	}

	result, err := h.analyzer.AnalyzeByAudio(c.UserContext(), bytes.NewReader(up.Data), up.MediaType)
	return h.respond(c, model.ModeAudio, result, err)
}

func (h *AnalysisHandler) respond(c *fiber.Ctx, mode model.AnalysisMode, result *model.AnalysisResult, err error) error {
	if err != nil {
		return response.AnalysisError(c, err, mode)
	}
	return response.OK(c, analysis.NewResponse(mode, result))
}
