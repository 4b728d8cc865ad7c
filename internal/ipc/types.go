package ipc

import (
	"time"

	"facet/internal/registry"
)

// timeFormat is used for RFC3339 timestamps in IPC payloads.
const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// JobView describes a reconstruction job in a transport-friendly format.
type JobView struct {
	ID           string   `json:"id"`
	Owner        string   `json:"owner"`
	Status       string   `json:"status"`
	Quality      string   `json:"quality,omitempty"`
	Stage        string   `json:"stage,omitempty"`
	Progress     int      `json:"progress"`
	InputRefs    []string `json:"inputRefs,omitempty"`
	OutputRef    string   `json:"outputRef,omitempty"`
	LogRef       string   `json:"logRef,omitempty"`
	ErrorMessage string   `json:"errorMessage,omitempty"`
	CreatedAt    string   `json:"createdAt,omitempty"`
	StartedAt    string   `json:"startedAt,omitempty"`
	CompletedAt  string   `json:"completedAt,omitempty"`
	UpdatedAt    string   `json:"updatedAt,omitempty"`
}

// FromJob converts a registry job into its IPC view.
func FromJob(job registry.Job) JobView {
	view := JobView{
		ID:           job.ID,
		Owner:        job.Owner,
		Status:       string(job.Status),
		Quality:      string(job.Quality),
		Stage:        job.Stage,
		Progress:     job.Progress,
		InputRefs:    append([]string(nil), job.InputRefs...),
		OutputRef:    job.OutputRef,
		LogRef:       job.LogRef,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    formatTime(job.CreatedAt),
		UpdatedAt:    formatTime(job.UpdatedAt),
	}
	if job.StartedAt != nil {
		view.StartedAt = formatTime(*job.StartedAt)
	}
	if job.CompletedAt != nil {
		view.CompletedAt = formatTime(*job.CompletedAt)
	}
	return view
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(timeFormat)
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon and admission status.
type StatusResponse struct {
	Running     bool           `json:"running"`
	QueuedJobs  int            `json:"queued_jobs"`
	RunningJobs int            `json:"running_jobs"`
	JobCounts   map[string]int `json:"job_counts"`
	JobDBPath   string         `json:"job_db_path"`
	LockPath    string         `json:"lock_path"`
	PID         int            `json:"pid"`
}

// JobCreateRequest registers a new job from a set of image paths.
type JobCreateRequest struct {
	Owner      string   `json:"owner"`
	ImagePaths []string `json:"image_paths"`
}

// JobCreateResponse returns the created job.
type JobCreateResponse struct {
	Job JobView `json:"job"`
}

// ReconstructRequest queues a job for reconstruction.
type ReconstructRequest struct {
	ID      string `json:"id"`
	Quality string `json:"quality"`
}

// ReconstructResponse returns the queued job and a wall-clock estimate.
type ReconstructResponse struct {
	Job           JobView `json:"job"`
	EstimateLower string  `json:"estimate_lower"`
	EstimateUpper string  `json:"estimate_upper"`
}

// JobListRequest filters job listing by status.
type JobListRequest struct {
	Statuses []string `json:"statuses"`
}

// JobListResponse contains job entries.
type JobListResponse struct {
	Jobs []JobView `json:"jobs"`
}

// JobDescribeRequest fetches a single job by id.
type JobDescribeRequest struct {
	ID string `json:"id"`
}

// JobDescribeResponse contains a single job entry.
type JobDescribeResponse struct {
	Job JobView `json:"job"`
}

// CancelRequest cancels a queued or running job.
type CancelRequest struct {
	ID string `json:"id"`
}

// CancelResponse returns the job after cancellation.
type CancelResponse struct {
	Job JobView `json:"job"`
}

// ArtifactRequest resolves the stored model for a completed job.
type ArtifactRequest struct {
	ID string `json:"id"`
}

// ArtifactResponse reports where the model artifact lives on the daemon host.
type ArtifactResponse struct {
	Job           JobView `json:"job"`
	ModelPath     string  `json:"model_path"`
	ModelInfoPath string  `json:"model_info_path"`
}

// SweepRequest triggers an immediate retention sweep.
type SweepRequest struct{}

// SweepResponse reports number of reclaimed jobs.
type SweepResponse struct {
	Removed int `json:"removed"`
}

// LogTailRequest fetches log lines based on offset and follow semantics.
type LogTailRequest struct {
	Offset     int64 `json:"offset"`
	Limit      int   `json:"limit"`
	Follow     bool  `json:"follow"`
	WaitMillis int   `json:"wait_millis"`
}

// LogTailResponse returns log lines and the next offset.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}
