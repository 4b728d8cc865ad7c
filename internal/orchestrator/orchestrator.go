// Package orchestrator composes the registry, admission control, the
// engine supervisor, storage, and the retention sweeper behind the public
// job lifecycle operations.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"facet/internal/admission"
	"facet/internal/config"
	"facet/internal/logging"
	"facet/internal/pipeline"
	"facet/internal/registry"
	"facet/internal/services"
	"facet/internal/storage"
	"facet/internal/sweeper"
)

// allowedImageExtensions are the upload formats accepted into a job's
// image set.
var allowedImageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tiff": true,
	".bmp":  true,
}

// Estimate is the predicted wall-clock range for a reconstruction.
type Estimate struct {
	Lower time.Duration
	Upper time.Duration
}

func (e Estimate) String() string {
	return fmt.Sprintf("%s-%s", e.Lower, e.Upper)
}

// Orchestrator owns the job lifecycle. One instance serves the daemon.
type Orchestrator struct {
	cfg    *config.Config
	reg    *registry.Registry
	store  *storage.Manager
	sup    *pipeline.Supervisor
	ctrl   *admission.Controller
	sweep  *sweeper.Sweeper
	logger *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New wires an orchestrator over the shared components. Call Start before
// requesting reconstructions.
func New(cfg *config.Config, reg *registry.Registry, store *storage.Manager, client *pipeline.Client, logger *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg,
		reg:     reg,
		store:   store,
		sup:     pipeline.NewSupervisor(cfg, reg, store, client, logger),
		logger:  logging.NewComponentLogger(logger, "orchestrator"),
		cancels: make(map[string]context.CancelFunc),
	}
	o.ctrl = admission.NewController(cfg, o.runJob, logger)
	o.sweep = sweeper.New(cfg, reg, store, logger)
	return o
}

// Start launches the admitter and the retention sweeper under ctx.
func (o *Orchestrator) Start(ctx context.Context) {
	o.ctrl.Start(ctx)
	o.sweep.Start(ctx)
}

// Done blocks until the background loops have exited.
func (o *Orchestrator) Done() {
	<-o.ctrl.Done()
	<-o.sweep.Done()
}

// CreateJob ingests the image files into the local tier and records a new
// job owned by owner. The job sits in created until a reconstruct request.
func (o *Orchestrator) CreateJob(ctx context.Context, owner string, imagePaths []string) (registry.Job, error) {
	if owner = strings.TrimSpace(owner); owner == "" {
		return registry.Job{}, services.Wrap(services.ErrValidation, "orchestrator", "create job", "owner must not be empty", nil)
	}
	if len(imagePaths) == 0 {
		return registry.Job{}, services.Wrap(services.ErrValidation, "orchestrator", "create job", "image set must not be empty", nil)
	}
	for _, p := range imagePaths {
		ext := strings.ToLower(filepath.Ext(p))
		if !allowedImageExtensions[ext] {
			return registry.Job{}, services.Wrap(services.ErrValidation, "orchestrator", "create job", fmt.Sprintf("unsupported image format %q", filepath.Base(p)), nil)
		}
	}

	id := uuid.NewString()
	refs := make([]string, 0, len(imagePaths))
	for i, p := range imagePaths {
		loc, err := o.store.PutFile(ctx, storage.KindImage, storage.ImageKey(id, i, filepath.Ext(p)), p)
		if err != nil {
			_ = o.store.PurgeJob(id)
			return registry.Job{}, err
		}
		refs = append(refs, loc.String())
	}

	job, err := o.reg.Create(ctx, id, owner, refs)
	if err != nil {
		_ = o.store.PurgeJob(id)
		return registry.Job{}, err
	}
	return job, nil
}

// Reconstruct queues a job for processing at the given quality and returns
// the expected processing-time range. Legal from created and, for re-runs,
// from failed.
func (o *Orchestrator) Reconstruct(ctx context.Context, id string, quality registry.Quality) (registry.Job, Estimate, error) {
	job, err := o.reg.RequestReconstruct(ctx, id, quality)
	if err != nil {
		return registry.Job{}, Estimate{}, err
	}
	o.ctrl.Enqueue(job.ID, job.Owner)

	lower, upper := pipeline.EstimateDuration(len(job.InputRefs), quality)
	return job, Estimate{Lower: lower, Upper: upper}, nil
}

// Status returns the current job snapshot.
func (o *Orchestrator) Status(_ context.Context, id string) (registry.Job, error) {
	return o.reg.Get(id)
}

// List returns all known jobs in creation order.
func (o *Orchestrator) List(_ context.Context) []registry.Job {
	return o.reg.List()
}

// Artifact opens the reconstructed model of a completed job.
func (o *Orchestrator) Artifact(ctx context.Context, id string) (io.ReadCloser, registry.Job, error) {
	job, err := o.reg.Get(id)
	if err != nil {
		return nil, registry.Job{}, err
	}
	if job.Status != registry.StatusCompleted {
		return nil, registry.Job{}, services.Wrap(services.ErrNotFound, "orchestrator", "artifact", fmt.Sprintf("job %s is %s, no model artifact until completed", id, job.Status), nil)
	}
	loc, err := storage.ParseLocator(job.OutputRef)
	if err != nil {
		return nil, registry.Job{}, err
	}
	rc, err := o.store.Open(ctx, loc)
	if err != nil {
		return nil, registry.Job{}, err
	}
	return rc, job, nil
}

// ArtifactPath resolves the completed model of a job to a path on the local
// tier, refetching from the remote tier when the local copy is gone.
func (o *Orchestrator) ArtifactPath(ctx context.Context, id string) (string, registry.Job, error) {
	job, err := o.reg.Get(id)
	if err != nil {
		return "", registry.Job{}, err
	}
	if job.Status != registry.StatusCompleted {
		return "", registry.Job{}, services.Wrap(services.ErrNotFound, "orchestrator", "artifact", fmt.Sprintf("job %s is %s, no model artifact until completed", id, job.Status), nil)
	}
	loc, err := storage.ParseLocator(job.OutputRef)
	if err != nil {
		return "", registry.Job{}, err
	}
	local, err := o.store.EnsureLocal(ctx, loc)
	if err != nil {
		return "", registry.Job{}, err
	}
	return local, job, nil
}

// ModelInfoPath returns the local path of a completed job's model sidecar.
func (o *Orchestrator) ModelInfoPath(id string) string {
	return o.store.LocalPath(storage.ModelFileKey(id, "model_info.json"))
}

// Cancel stops a job. Queued jobs are withdrawn before they start; running
// jobs get their engine terminated. Cancelling a terminal job is a no-op.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (registry.Job, error) {
	job, changed, err := o.reg.Cancel(ctx, id)
	if err != nil {
		return registry.Job{}, err
	}
	if !changed {
		return job, nil
	}

	if o.ctrl.Withdraw(id) {
		o.logger.Info("queued job withdrawn", logging.String(logging.FieldJobID, id))
		return job, nil
	}

	o.mu.Lock()
	cancel := o.cancels[id]
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return job, nil
}

// SweepNow runs one retention sweep outside the schedule.
func (o *Orchestrator) SweepNow(ctx context.Context) int {
	return o.sweep.SweepOnce(ctx)
}

// Stats summarizes admission state for status reporting.
func (o *Orchestrator) Stats() admission.Snapshot {
	return o.ctrl.Stats()
}

// runJob is the admission callback: it supervises one job and returns the
// slot when the job reaches a terminal state.
func (o *Orchestrator) runJob(ctx context.Context, jobID string) {
	jobCtx, cancel := context.WithCancel(services.WithJobID(ctx, jobID))
	o.mu.Lock()
	o.cancels[jobID] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.cancels, jobID)
		o.mu.Unlock()
		cancel()
		o.ctrl.Release(jobID)
	}()

	o.sup.Run(jobCtx, jobID)
}
