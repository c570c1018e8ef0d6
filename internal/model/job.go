package model

import "time"

// JobStatus is the lifecycle state of an analysis job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Terminal reports whether no further transitions are allowed
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCanceled
}

// Job represents an asynchronous analysis job kept in Redis
type Job struct {
	ID          string       `json:"id"`
	Mode        AnalysisMode `json:"mode"`
	Owner       string       `json:"owner,omitempty"`
	Status      JobStatus    `json:"status"`
	Progress    int          `json:"progress"`
	CurrentStep string       `json:"currentStep,omitempty"`
	Error       *JobError    `json:"error,omitempty"`
	Result      []byte       `json:"result,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	StartedAt   *time.Time   `json:"startedAt,omitempty"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
}

// JobError is the failure recorded on a job
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AnalysisJobPayload is the asynq task payload for an analysis job.
// Audio is either staged in object storage (AudioKey) or carried inline.
type AnalysisJobPayload struct {
	JobID     string       `json:"jobId"`
	Mode      AnalysisMode `json:"mode"`
	Query     string       `json:"query,omitempty"`
	URL       string       `json:"url,omitempty"`
	AudioKey  string       `json:"audioKey,omitempty"`
	AudioData []byte       `json:"audioData,omitempty"`
	MediaType string       `json:"mediaType,omitempty"`
}

// JobStartResponse is returned when a job is accepted
type JobStartResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// JobStatusResponse reports progress of a job
type JobStatusResponse struct {
	JobID       string       `json:"jobId"`
	Mode        AnalysisMode `json:"mode"`
	Status      JobStatus    `json:"status"`
	Progress    int          `json:"progress"`
	CurrentStep string       `json:"currentStep,omitempty"`
	Error       *JobError    `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	StartedAt   *time.Time   `json:"startedAt,omitempty"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
}

// JobCancelResponse is returned by the cancel endpoint
type JobCancelResponse struct {
	Success bool      `json:"success"`
	JobID   string    `json:"jobId"`
	Status  JobStatus `json:"status"`
}
