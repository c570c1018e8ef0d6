package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sonicgenius/api/internal/analysis"
	"github.com/sonicgenius/api/internal/client"
	"github.com/sonicgenius/api/internal/model"
	"github.com/sonicgenius/api/internal/telemetry"
)

const (
	TaskTypeAnalysis = "analysis:process"
	QueueAnalysis    = "analysis"
)

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrJobNotCompleted = errors.New("job not completed")
	ErrJobFinished     = errors.New("job already finished")
)

// Enqueuer is the part of the asynq client the job service needs
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskCanceler stops queued or running tasks
type TaskCanceler interface {
	CancelProcessing(id string) error
	DeleteTask(queue, id string) error
}

// JobOptions tunes a JobService
type JobOptions struct {
	ResultTTL   time.Duration
	TaskTimeout time.Duration
}

// JobService manages asynchronous analysis jobs. Job records live in Redis
// with a TTL; no result outlives it.
type JobService struct {
	redis     redis.UniversalClient
	enqueuer  Enqueuer
	canceler  TaskCanceler
	storage   client.StorageClient
	validator *analysis.Builder
	ttl       time.Duration
	timeout   time.Duration
	logger    zerolog.Logger
}

func NewJobService(redisClient redis.UniversalClient, enqueuer Enqueuer, canceler TaskCanceler, storage client.StorageClient, opts JobOptions, logger zerolog.Logger) *JobService {
	ttl := opts.ResultTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JobService{
		redis:     redisClient,
		enqueuer:  enqueuer,
		canceler:  canceler,
		storage:   storage,
		validator: analysis.NewBuilder(""),
		ttl:       ttl,
		timeout:   opts.TaskTimeout,
		logger:    logger.With().Str("component", "jobs").Logger(),
	}
}

// StartText queues a text analysis
func (s *JobService) StartText(ctx context.Context, owner, query string) (*model.JobStartResponse, error) {
	return s.start(ctx, owner, analysis.Request{Mode: model.ModeText, Query: query})
}

// StartVideo queues a video reference analysis
func (s *JobService) StartVideo(ctx context.Context, owner, url string) (*model.JobStartResponse, error) {
	return s.start(ctx, owner, analysis.Request{Mode: model.ModeVideo, Reference: url})
}

// StartAudio queues an audio analysis. The payload is staged in object
// storage when available, otherwise carried in the task.
func (s *JobService) StartAudio(ctx context.Context, owner string, data []byte, mediaType string) (*model.JobStartResponse, error) {
	return s.start(ctx, owner, analysis.Request{Mode: model.ModeAudio, Audio: data, MediaType: mediaType})
}

func (s *JobService) start(ctx context.Context, owner string, req analysis.Request) (*model.JobStartResponse, error) {
	// Reject bad input before anything is stored or queued.
	if _, err := s.validator.Build(req); err != nil {
		return nil, err
	}

	jobID := uuid.New().String()
	now := time.Now().UTC()

	payload := &model.AnalysisJobPayload{
		JobID:     jobID,
		Mode:      req.Mode,
		Query:     req.Query,
		URL:       req.Reference,
		MediaType: req.MediaType,
	}

	if req.Mode == model.ModeAudio {
		if s.storage != nil {
			key := AudioKey(jobID)
			if err := s.storage.Upload(ctx, key, bytes.NewReader(req.Audio), req.MediaType); err != nil {
				return nil, fmt.Errorf("failed to stage audio: %w", err)
			}
			payload.AudioKey = key
		} else {
			payload.AudioData = req.Audio
		}
	}

	job := &model.Job{
		ID:        jobID,
		Mode:      req.Mode,
		Owner:     owner,
		Status:    model.JobStatusQueued,
		CreatedAt: now,
	}
	if err := s.saveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	task, err := NewAnalysisTask(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	opts := []asynq.Option{
		asynq.Queue(QueueAnalysis),
		asynq.TaskID(jobID),
		asynq.MaxRetry(0),
		asynq.Retention(s.ttl),
	}
	if s.timeout > 0 {
		opts = append(opts, asynq.Timeout(s.timeout))
	}
	if _, err := s.enqueuer.EnqueueContext(ctx, task, opts...); err != nil {
		s.redis.Del(ctx, jobKey(jobID))
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	s.logger.Info().Str("job_id", jobID).Str("mode", string(req.Mode)).Msg("analysis job queued")

	return &model.JobStartResponse{
		JobID:     jobID,
		Status:    model.JobStatusQueued,
		CreatedAt: now,
	}, nil
}

// GetStatus returns the current status of a job
func (s *JobService) GetStatus(ctx context.Context, jobID string) (*model.JobStatusResponse, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return &model.JobStatusResponse{
		JobID:       job.ID,
		Mode:        job.Mode,
		Status:      job.Status,
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}, nil
}

// GetResult returns the analysis of a succeeded job
func (s *JobService) GetResult(ctx context.Context, jobID string) (*model.AnalysisResponse, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status != model.JobStatusSucceeded {
		return nil, ErrJobNotCompleted
	}

	var result model.AnalysisResponse
	if err := json.Unmarshal(job.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}

	return &result, nil
}

// Cancel marks a job canceled and stops its task. A canceled job never
// receives a result.
func (s *JobService) Cancel(ctx context.Context, jobID string) (*model.JobCancelResponse, error) {
	err := s.updateJob(ctx, jobID, func(job *model.Job) error {
		if job.Status.Terminal() {
			return ErrJobFinished
		}
		now := time.Now().UTC()
		job.Status = model.JobStatusCanceled
		job.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.canceler != nil {
		if err := s.canceler.DeleteTask(QueueAnalysis, jobID); err != nil {
			// Already picked up by a worker.
			if err := s.canceler.CancelProcessing(jobID); err != nil {
				s.logger.Warn().Err(err).Str("job_id", jobID).Msg("failed to cancel running task")
			}
		}
	}
	telemetry.JobsTotal.WithLabelValues(s.modeOf(ctx, jobID), string(model.JobStatusCanceled)).Inc()

	return &model.JobCancelResponse{
		Success: true,
		JobID:   jobID,
		Status:  model.JobStatusCanceled,
	}, nil
}

// UpdateProgress records a worker stage. Canceled jobs are left untouched.
func (s *JobService) UpdateProgress(ctx context.Context, jobID string, progress int, step string) error {
	return s.updateJob(ctx, jobID, func(job *model.Job) error {
		if job.Status.Terminal() {
			return ErrJobFinished
		}
		job.Progress = progress
		job.CurrentStep = step
		if job.Status == model.JobStatusQueued {
			now := time.Now().UTC()
			job.Status = model.JobStatusRunning
			job.StartedAt = &now
		}
		return nil
	})
}

// CompleteJob stores the result atomically. It fails with ErrJobFinished
// when the job was canceled meanwhile.
func (s *JobService) CompleteJob(ctx context.Context, jobID string, result *model.AnalysisResponse) error {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return err
	}

	err = s.updateJob(ctx, jobID, func(job *model.Job) error {
		if job.Status.Terminal() {
			return ErrJobFinished
		}
		now := time.Now().UTC()
		job.Status = model.JobStatusSucceeded
		job.Progress = 100
		job.CurrentStep = ""
		job.Result = resultBytes
		job.CompletedAt = &now
		return nil
	})
	if err == nil {
		telemetry.JobsTotal.WithLabelValues(string(result.Mode), string(model.JobStatusSucceeded)).Inc()
	}
	return err
}

// FailJob marks the job failed with a code and message
func (s *JobService) FailJob(ctx context.Context, jobID, code, message string) error {
	var mode model.AnalysisMode
	err := s.updateJob(ctx, jobID, func(job *model.Job) error {
		if job.Status.Terminal() {
			return ErrJobFinished
		}
		now := time.Now().UTC()
		mode = job.Mode
		job.Status = model.JobStatusFailed
		job.Error = &model.JobError{Code: code, Message: message}
		job.CompletedAt = &now
		return nil
	})
	if err == nil {
		telemetry.JobsTotal.WithLabelValues(string(mode), string(model.JobStatusFailed)).Inc()
	}
	return err
}

// LoadAudio returns the audio bytes of a payload, from storage or inline.
// Failures are reported as InputReadFailure.
func (s *JobService) LoadAudio(ctx context.Context, payload *model.AnalysisJobPayload, maxBytes int64) ([]byte, error) {
	if payload.AudioKey == "" {
		return payload.AudioData, nil
	}
	if s.storage == nil {
		return nil, analysis.InputReadError(errors.New("audio staged but storage is not configured"))
	}
	data, _, err := s.storage.Download(ctx, payload.AudioKey, maxBytes)
	if err != nil {
		return nil, analysis.InputReadError(err)
	}
	return data, nil
}

// ReleaseAudio deletes staged audio. Best effort.
func (s *JobService) ReleaseAudio(ctx context.Context, payload *model.AnalysisJobPayload) {
	if payload.AudioKey == "" || s.storage == nil {
		return
	}
	if err := s.storage.Delete(ctx, payload.AudioKey); err != nil {
		s.logger.Warn().Err(err).Str("key", payload.AudioKey).Msg("failed to delete staged audio")
	}
}

// GetJob loads a job record
func (s *JobService) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := s.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Helper methods

func (s *JobService) saveJob(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, jobKey(job.ID), data, s.ttl).Err()
}

// updateJob applies fn under optimistic locking so cancel and completion
// never overwrite each other.
func (s *JobService) updateJob(ctx context.Context, jobID string, fn func(*model.Job) error) error {
	key := jobKey(jobID)
	const maxAttempts = 5

	for i := 0; i < maxAttempts; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrJobNotFound
				}
				return err
			}

			var job model.Job
			if err := json.Unmarshal(data, &job); err != nil {
				return err
			}
			if err := fn(&job); err != nil {
				return err
			}

			updated, err := json.Marshal(&job)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, redis.KeepTTL)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("job %s: too much contention", jobID)
}

func (s *JobService) modeOf(ctx context.Context, jobID string) string {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return "unknown"
	}
	return string(job.Mode)
}

// NewAnalysisTask wraps a payload in an asynq task
func NewAnalysisTask(payload *model.AnalysisJobPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeAnalysis, data), nil
}

// AudioKey is the object storage key for a job's staged audio
func AudioKey(jobID string) string {
	return fmt.Sprintf("uploads/%s", jobID)
}

func jobKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}
