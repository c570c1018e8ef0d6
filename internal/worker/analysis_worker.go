package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/sonicgenius/api/internal/analysis"
	"github.com/sonicgenius/api/internal/model"
	"github.com/sonicgenius/api/internal/service"
	"github.com/sonicgenius/api/internal/websocket"
	"github.com/sonicgenius/api/pkg/response"
)

// Analyzer runs a single analysis
type Analyzer interface {
	AnalyzeStaged(ctx context.Context, req analysis.Request, stage service.StageFunc) (*model.AnalysisResult, error)
}

// JobStore is the job bookkeeping the worker needs
type JobStore interface {
	UpdateProgress(ctx context.Context, jobID string, progress int, step string) error
	CompleteJob(ctx context.Context, jobID string, result *model.AnalysisResponse) error
	FailJob(ctx context.Context, jobID, code, message string) error
	LoadAudio(ctx context.Context, payload *model.AnalysisJobPayload, maxBytes int64) ([]byte, error)
	ReleaseAudio(ctx context.Context, payload *model.AnalysisJobPayload)
}

// AnalysisWorker processes analysis jobs
type AnalysisWorker struct {
	jobs     JobStore
	analyzer Analyzer
	hub      websocket.Broadcaster
	maxAudio int64
	logger   zerolog.Logger
}

func NewAnalysisWorker(jobs JobStore, analyzer Analyzer, hub websocket.Broadcaster, maxAudio int64, logger zerolog.Logger) *AnalysisWorker {
	return &AnalysisWorker{
		jobs:     jobs,
		analyzer: analyzer,
		hub:      hub,
		maxAudio: maxAudio,
		logger:   logger.With().Str("component", "worker").Logger(),
	}
}

// ProcessTask handles analysis task processing. Failures are recorded on the
// job and never returned to asynq as retryable.
func (w *AnalysisWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.AnalysisJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w: %w", err, asynq.SkipRetry)
	}

	jobID := payload.JobID
	log := w.logger.With().Str("job_id", jobID).Str("mode", string(payload.Mode)).Logger()
	log.Info().Msg("starting analysis job")

	defer w.jobs.ReleaseAudio(context.WithoutCancel(ctx), &payload)

	// Claim the job. A job canceled while queued is skipped without a model call.
	if err := w.jobs.UpdateProgress(ctx, jobID, 1, service.StagePreparing); err != nil {
		if errors.Is(err, service.ErrJobFinished) || errors.Is(err, service.ErrJobNotFound) {
			log.Info().Err(err).Msg("skipping analysis job")
			return nil
		}
		log.Warn().Err(err).Msg("failed to update progress")
	}

	stage := func(step string, progress int) {
		w.updateProgress(ctx, jobID, progress, step)
	}

	req := analysis.Request{
		Mode:      payload.Mode,
		Query:     payload.Query,
		Reference: payload.URL,
		MediaType: payload.MediaType,
	}

	if payload.Mode == model.ModeAudio {
		stage(service.StagePreparing, 5)
		data, err := w.jobs.LoadAudio(ctx, &payload, w.maxAudio)
		if err != nil {
			w.failJob(ctx, jobID, payload.Mode, err)
			return nil
		}
		req.Audio = data
	}

	result, err := w.analyzer.AnalyzeStaged(ctx, req, stage)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info().Msg("analysis job canceled")
			return nil
		}
		w.failJob(ctx, jobID, payload.Mode, err)
		return nil
	}

	resp := analysis.NewResponse(payload.Mode, result)
	if err := w.jobs.CompleteJob(ctx, jobID, resp); err != nil {
		if errors.Is(err, service.ErrJobFinished) {
			log.Info().Msg("job finished elsewhere, dropping result")
			return nil
		}
		w.failJob(ctx, jobID, payload.Mode, err)
		return err
	}

	w.hub.BroadcastComplete(jobID, resp)
	log.Info().Msg("analysis job completed")
	return nil
}

func (w *AnalysisWorker) updateProgress(ctx context.Context, jobID string, progress int, step string) {
	if err := w.jobs.UpdateProgress(ctx, jobID, progress, step); err != nil {
		w.logger.Warn().Err(err).Str("job_id", jobID).Msg("failed to update progress")
		return
	}
	w.hub.BroadcastProgress(jobID, progress, model.JobStatusRunning, step)
}

func (w *AnalysisWorker) failJob(ctx context.Context, jobID string, mode model.AnalysisMode, cause error) {
	_, code := response.StatusFor(cause)
	message := analysis.Describe(cause, mode)

	w.logger.Warn().Err(cause).Str("job_id", jobID).Str("code", code).Msg("analysis job failed")

	// The task context may already be done.
	if err := w.jobs.FailJob(context.WithoutCancel(ctx), jobID, code, message); err != nil {
		if !errors.Is(err, service.ErrJobFinished) {
			w.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to mark job as failed")
		}
		return
	}
	w.hub.BroadcastError(jobID, code, message)
}
