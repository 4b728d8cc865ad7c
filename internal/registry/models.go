package registry

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a reconstruction job.
type Status string

const (
	StatusCreated      Status = "created"
	StatusQueued       Status = "queued"
	StatusInitializing Status = "initializing"
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

// RestartFailureReason is the error message recorded when in-flight jobs are
// failed during cold-start recovery.
const RestartFailureReason = "orchestrator restarted while reconstruction was in flight"

var allStatuses = []Status{
	StatusCreated,
	StatusQueued,
	StatusInitializing,
	StatusRunning,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// transitions encodes the legal state machine edges, the single source of
// truth for the registry's mutation guards. The failed → queued edge backs
// the re-run path permitted by RequestReconstruct; queued → failed covers
// cold-start recovery, where queued jobs cannot be resumed.
var transitions = map[Status][]Status{
	StatusCreated:      {StatusQueued},
	StatusQueued:       {StatusInitializing, StatusFailed, StatusCancelled},
	StatusInitializing: {StatusRunning, StatusFailed, StatusCancelled},
	StatusRunning:      {StatusCompleted, StatusFailed, StatusCancelled},
	StatusFailed:       {StatusQueued},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// Terminal reports whether a status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Active reports whether a status has a supervised process associated.
func (s Status) Active() bool {
	return s == StatusInitializing || s == StatusRunning
}

// Quality selects the reconstruction preset. Fixed at reconstruct-request
// time and immutable thereafter.
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// ParseQuality converts a string into a known Quality.
func ParseQuality(value string) (Quality, bool) {
	switch Quality(strings.ToLower(strings.TrimSpace(value))) {
	case QualityLow:
		return QualityLow, true
	case QualityMedium:
		return QualityMedium, true
	case QualityHigh:
		return QualityHigh, true
	default:
		return "", false
	}
}

// Job represents a reconstruction job persisted in SQLite.
type Job struct {
	ID      string
	Owner   string
	Status  Status
	Quality Quality
	// Stage is the current normalized pipeline stage name; empty until the
	// first progress signal.
	Stage string
	// Progress is 0-100 and non-decreasing for a single reconstruct attempt.
	Progress int
	// InputRefs are image artifact locator strings in upload order.
	InputRefs []string
	// OutputRef is the model artifact locator, set only on completion.
	OutputRef string
	// LogRef is the pipeline log artifact locator, if captured.
	LogRef       string
	ErrorMessage string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	UpdatedAt    time.Time
	// ProcessHandle references the active supervised process. In-memory
	// only; never persisted, since processes do not survive a restart.
	ProcessHandle string
}

// Terminal reports whether the job has reached a final status.
func (j Job) Terminal() bool {
	return j.Status.Terminal()
}

// TerminalAt returns the timestamp the job reached its terminal status, or
// zero when the job is not terminal.
func (j Job) TerminalAt() time.Time {
	if !j.Terminal() || j.CompletedAt == nil {
		return time.Time{}
	}
	return *j.CompletedAt
}

// clone returns a deep copy safe to hand to callers.
func (j Job) clone() Job {
	cp := j
	cp.InputRefs = append([]string(nil), j.InputRefs...)
	if j.StartedAt != nil {
		started := *j.StartedAt
		cp.StartedAt = &started
	}
	if j.CompletedAt != nil {
		completed := *j.CompletedAt
		cp.CompletedAt = &completed
	}
	return cp
}
