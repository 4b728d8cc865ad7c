package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"facet/internal/logging"
	"facet/internal/services"
)

// Registry is the single authoritative map from job id to job record. All
// mutations of one job are serialized through a per-record mutex; unrelated
// jobs never contend. Every mutation is written through to the store.
type Registry struct {
	store  *Store
	logger *slog.Logger

	mu   sync.RWMutex
	jobs map[string]*entry
}

type entry struct {
	mu  sync.Mutex
	job Job
}

// NewRegistry loads persisted jobs into memory, failing any that were
// queued or in flight when the previous process stopped.
func NewRegistry(ctx context.Context, store *Store, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "registry")

	recovered, err := store.FailInterrupted(ctx, RestartFailureReason)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "registry", "recover", "fail interrupted jobs", err)
	}
	if recovered > 0 {
		logger.Warn("failed interrupted jobs from previous run",
			logging.Int64("count", recovered),
			logging.String(logging.FieldEventType, "cold_start_recovery"),
		)
	}

	persisted, err := store.List(ctx)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "registry", "load", "list persisted jobs", err)
	}

	jobs := make(map[string]*entry, len(persisted))
	for _, job := range persisted {
		jobs[job.ID] = &entry{job: *job}
	}

	return &Registry{store: store, logger: logger, jobs: jobs}, nil
}

// Create records a new job under the caller-chosen id. The id comes from
// the caller because input locators embed it before the record exists.
func (r *Registry) Create(ctx context.Context, id, owner string, inputRefs []string) (Job, error) {
	if id == "" {
		return Job{}, services.Wrap(services.ErrValidation, "registry", "create", "job id must not be empty", nil)
	}
	if len(inputRefs) == 0 {
		return Job{}, services.Wrap(services.ErrValidation, "registry", "create", "image set must not be empty", nil)
	}
	seen := make(map[string]struct{}, len(inputRefs))
	for _, ref := range inputRefs {
		if _, dup := seen[ref]; dup {
			return Job{}, services.Wrap(services.ErrValidation, "registry", "create", "duplicate image locator "+ref, nil)
		}
		seen[ref] = struct{}{}
	}

	r.mu.Lock()
	if _, exists := r.jobs[id]; exists {
		r.mu.Unlock()
		return Job{}, services.Wrap(services.ErrConflict, "registry", "create", "job id "+id+" already exists", nil)
	}
	r.mu.Unlock()

	job := Job{
		ID:        id,
		Owner:     owner,
		Status:    StatusCreated,
		InputRefs: append([]string(nil), inputRefs...),
		CreatedAt: time.Now().UTC(),
	}

	if err := r.store.Insert(ctx, &job); err != nil {
		return Job{}, services.Wrap(services.ErrStorage, "registry", "create", "persist job", err)
	}

	r.mu.Lock()
	r.jobs[job.ID] = &entry{job: job}
	r.mu.Unlock()

	r.logger.Info("job created",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldOwner, owner),
		logging.Int("images", len(inputRefs)),
		logging.String(logging.FieldEventType, "job_created"),
	)
	return job.clone(), nil
}

// RequestReconstruct moves a job to queued with the given quality. Permitted
// only from created (first run) or failed (re-run).
func (r *Registry) RequestReconstruct(ctx context.Context, id string, quality Quality) (Job, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Job{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.job.ProcessHandle != "" {
		return Job{}, services.Wrap(services.ErrConflict, "registry", "reconstruct", "reconstruction already in progress", nil)
	}
	if !CanTransition(e.job.Status, StatusQueued) {
		return Job{}, services.Wrap(services.ErrConflict, "registry", "reconstruct",
			"job is "+string(e.job.Status)+", reconstruct requires created or failed", nil)
	}

	e.job.Status = StatusQueued
	e.job.Quality = quality
	e.job.Stage = ""
	e.job.Progress = 0
	e.job.ErrorMessage = ""
	e.job.OutputRef = ""
	e.job.StartedAt = nil
	e.job.CompletedAt = nil

	if err := r.persist(ctx, e); err != nil {
		return Job{}, err
	}
	r.logger.Info("reconstruct requested",
		logging.String(logging.FieldJobID, e.job.ID),
		logging.String("quality", string(quality)),
		logging.String(logging.FieldEventType, "job_queued"),
	)
	return e.job.clone(), nil
}

// MarkInitializing transitions an admitted job out of the queue. Returns a
// conflict when the job was cancelled while waiting.
func (r *Registry) MarkInitializing(ctx context.Context, id string) (Job, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Job{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !CanTransition(e.job.Status, StatusInitializing) {
		return Job{}, services.Wrap(services.ErrConflict, "registry", "admit",
			"job is "+string(e.job.Status)+", expected queued", nil)
	}
	e.job.Status = StatusInitializing
	if err := r.persist(ctx, e); err != nil {
		return Job{}, err
	}
	return e.job.clone(), nil
}

// AttachProcess records the supervised process handle for a job. At most one
// handle may be active per job.
func (r *Registry) AttachProcess(ctx context.Context, id, handle string) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.job.ProcessHandle != "" {
		return services.Wrap(services.ErrConflict, "registry", "attach", "process already active for job", nil)
	}
	if !e.job.Status.Active() {
		return services.Wrap(services.ErrConflict, "registry", "attach",
			"job is "+string(e.job.Status)+", process attach requires initializing or running", nil)
	}
	e.job.ProcessHandle = handle
	return nil
}

// DetachProcess clears the process handle if it matches. Safe to call after
// terminal transitions, which clear the handle themselves.
func (r *Registry) DetachProcess(id, handle string) {
	e, err := r.lookup(id)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.ProcessHandle == handle {
		e.job.ProcessHandle = ""
	}
}

// AttachLog records the pipeline log artifact locator for a job.
func (r *Registry) AttachLog(ctx context.Context, id, logRef string) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.job.LogRef = logRef
	return r.persist(ctx, e)
}

// ApplyProgress updates stage and progress from a pipeline signal. Signals
// for jobs that are not initializing or running are stale and dropped. The
// first signal promotes an initializing job to running. Progress never
// regresses: a smaller value is clamped to the last known value.
func (r *Registry) ApplyProgress(ctx context.Context, id, stage string, progress int) {
	e, err := r.lookup(id)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.job.Status.Active() {
		return
	}
	if e.job.Status == StatusInitializing {
		e.job.Status = StatusRunning
		now := time.Now().UTC()
		if e.job.StartedAt == nil {
			e.job.StartedAt = &now
		}
	}

	if stage != "" {
		e.job.Stage = stage
	}
	if progress > 100 {
		progress = 100
	}
	if progress > e.job.Progress {
		e.job.Progress = progress
	}

	if err := r.persist(ctx, e); err != nil {
		r.logger.Warn("progress persist failed",
			logging.String(logging.FieldJobID, id),
			logging.Error(err),
		)
	}
}

// Complete marks a job completed with its model artifact. No-op when the job
// is already terminal.
func (r *Registry) Complete(ctx context.Context, id, outputRef string) (Job, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Job{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.job.Terminal() {
		return e.job.clone(), nil
	}

	e.job.Status = StatusCompleted
	e.job.OutputRef = outputRef
	e.job.Progress = 100
	e.job.ErrorMessage = ""
	e.job.ProcessHandle = ""
	now := time.Now().UTC()
	e.job.CompletedAt = &now

	if err := r.persist(ctx, e); err != nil {
		return Job{}, err
	}
	r.logger.Info("job completed",
		logging.String(logging.FieldJobID, id),
		logging.String("output_ref", outputRef),
		logging.String(logging.FieldEventType, "job_completed"),
	)
	return e.job.clone(), nil
}

// Fail marks a job failed with a non-empty reason. No-op when the job is
// already terminal.
func (r *Registry) Fail(ctx context.Context, id, reason string) (Job, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Job{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.job.Terminal() {
		return e.job.clone(), nil
	}
	if !CanTransition(e.job.Status, StatusFailed) {
		return Job{}, services.Wrap(services.ErrConflict, "registry", "fail",
			"job is "+string(e.job.Status)+", nothing running to fail", nil)
	}

	if reason == "" {
		reason = "reconstruction failed"
	}
	e.job.Status = StatusFailed
	e.job.ErrorMessage = reason
	e.job.ProcessHandle = ""
	now := time.Now().UTC()
	e.job.CompletedAt = &now

	if err := r.persist(ctx, e); err != nil {
		return Job{}, err
	}
	r.logger.Warn("job failed",
		logging.String(logging.FieldJobID, id),
		logging.String("reason", reason),
		logging.String(logging.FieldEventType, "job_failed"),
	)
	return e.job.clone(), nil
}

// Cancel marks a job cancelled. The transition is recorded immediately;
// process teardown happens asynchronously. Returns false without error when
// the job is already terminal.
func (r *Registry) Cancel(ctx context.Context, id string) (Job, bool, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Job{}, false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.job.Terminal() {
		return e.job.clone(), false, nil
	}
	if !CanTransition(e.job.Status, StatusCancelled) {
		return Job{}, false, services.Wrap(services.ErrConflict, "registry", "cancel",
			"job has no reconstruction to cancel", nil)
	}

	e.job.Status = StatusCancelled
	e.job.ProcessHandle = ""
	now := time.Now().UTC()
	e.job.CompletedAt = &now

	if err := r.persist(ctx, e); err != nil {
		return Job{}, false, err
	}
	r.logger.Info("job cancelled",
		logging.String(logging.FieldJobID, id),
		logging.String(logging.FieldEventType, "job_cancelled"),
	)
	return e.job.clone(), true, nil
}

// Get returns a copy of the job record.
func (r *Registry) Get(id string) (Job, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Job{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.clone(), nil
}

// List returns copies of all job records ordered by creation time.
func (r *Registry) List() []Job {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.jobs))
	for _, e := range r.jobs {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	jobs := make([]Job, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		jobs = append(jobs, e.job.clone())
		e.mu.Unlock()
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs
}

// TerminalBefore returns terminal jobs whose terminal timestamp is older
// than the cutoff, for retention sweeps.
func (r *Registry) TerminalBefore(cutoff time.Time) []Job {
	var matched []Job
	for _, job := range r.List() {
		terminalAt := job.TerminalAt()
		if !terminalAt.IsZero() && terminalAt.Before(cutoff) {
			matched = append(matched, job)
		}
	}
	return matched
}

// Remove deletes a job record from memory and the store. Subsequent lookups
// report not found, indistinguishable from an id that never existed.
func (r *Registry) Remove(ctx context.Context, id string) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := r.store.Remove(ctx, id); err != nil {
		return services.Wrap(services.ErrStorage, "registry", "remove", "delete job record", err)
	}

	r.mu.Lock()
	delete(r.jobs, id)
	r.mu.Unlock()
	return nil
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.jobs[id]
	r.mu.RUnlock()
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "registry", "lookup", "unknown job "+id, nil)
	}
	return e, nil
}

// persist writes the entry's job through to the store. Callers hold e.mu.
func (r *Registry) persist(ctx context.Context, e *entry) error {
	if err := r.store.Update(ctx, &e.job); err != nil {
		return services.Wrap(services.ErrStorage, "registry", "persist", "update job record", err)
	}
	return nil
}
