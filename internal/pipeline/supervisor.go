package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"facet/internal/config"
	"facet/internal/logging"
	"facet/internal/registry"
	"facet/internal/services"
	"facet/internal/stagetrack"
	"facet/internal/storage"
)

// Supervisor runs one admitted job from staging through teardown and
// records the outcome in the registry. Instances are cheap; the
// orchestrator builds one per admission.
type Supervisor struct {
	cfg    *config.Config
	reg    *registry.Registry
	store  *storage.Manager
	client *Client
	logger *slog.Logger
}

// NewSupervisor wires a supervisor over the shared components.
func NewSupervisor(cfg *config.Config, reg *registry.Registry, store *storage.Manager, client *Client, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		cfg:    cfg,
		reg:    reg,
		store:  store,
		client: client,
		logger: logging.NewComponentLogger(logger, "pipeline"),
	}
}

// Run executes the full reconstruction for jobID. Cancelling ctx
// terminates the engine; the registry decides whether that lands as
// cancelled (caller request) or failed (timeout). Run blocks until
// teardown is complete.
func (s *Supervisor) Run(ctx context.Context, jobID string) {
	ctx = services.WithJobID(ctx, jobID)
	log := logging.WithContext(ctx, s.logger)

	job, err := s.reg.MarkInitializing(ctx, jobID)
	if err != nil {
		// Usually a cancellation that won the race to the queued job.
		log.Debug("job not started", logging.Error(err))
		return
	}

	workDir := filepath.Join(s.cfg.Paths.StagingDir, jobID)
	inputDir := filepath.Join(workDir, "input")
	outputDir := filepath.Join(workDir, "output")
	cacheDir := filepath.Join(workDir, "cache")
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Warn("staging cleanup failed", logging.Error(err))
		}
	}()

	// teardownCtx survives cancellation so outcomes and logs still persist.
	teardownCtx := context.WithoutCancel(ctx)

	locs, err := parseInputRefs(job.InputRefs)
	if err != nil {
		s.fail(teardownCtx, log, jobID, err.Error())
		return
	}
	if _, err := s.store.MaterializeLocally(ctx, locs, inputDir); err != nil {
		s.fail(teardownCtx, log, jobID, "stage inputs: "+err.Error())
		return
	}
	for _, dir := range []string{outputDir, cacheDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			s.fail(teardownCtx, log, jobID, "prepare work directory: "+err.Error())
			return
		}
	}

	handle := uuid.NewString()
	if err := s.reg.AttachProcess(ctx, jobID, handle); err != nil {
		log.Debug("job no longer runnable", logging.Error(err))
		return
	}
	defer s.reg.DetachProcess(jobID, handle)

	logPath := filepath.Join(workDir, "pipeline.log")
	logFile, err := os.Create(logPath)
	if err != nil {
		s.fail(teardownCtx, log, jobID, "create pipeline log: "+err.Error())
		return
	}

	timeout := s.timeoutFor(job.Quality)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tracker := stagetrack.New()
	tail := newTailBuffer(s.cfg.Pipeline.OutputTailLines)
	var mu sync.Mutex

	onLine := func(line string) {
		mu.Lock()
		fmt.Fprintln(logFile, line)
		tail.add(line)
		mu.Unlock()
	}
	onSignal := func(sig Signal) {
		mu.Lock()
		var update stagetrack.Update
		var ok bool
		if sig.HasPercent {
			update, ok = tracker.ObservePercent(sig.Stage, sig.Percent)
		} else {
			update, ok = tracker.ObserveStage(sig.Stage)
		}
		mu.Unlock()
		if !ok {
			log.Debug("unrecognized stage", logging.String(logging.FieldStage, sig.Stage))
			return
		}
		s.reg.ApplyProgress(teardownCtx, jobID, update.Stage, update.Progress)
	}

	log.Info("engine starting",
		logging.String("quality", string(job.Quality)),
		logging.Duration("timeout", timeout),
		logging.Int("images", len(locs)))

	runErr := s.client.Reconstruct(runCtx, Request{
		InputDir:  inputDir,
		OutputDir: outputDir,
		CacheDir:  cacheDir,
		Quality:   job.Quality,
	}, onLine, onSignal)
	if err := logFile.Close(); err != nil {
		log.Warn("close pipeline log", logging.Error(err))
	}

	if loc, err := s.store.StoreLog(teardownCtx, jobID, logPath); err != nil {
		log.Warn("persist pipeline log failed", logging.Error(err))
	} else if err := s.reg.AttachLog(teardownCtx, jobID, loc.String()); err != nil {
		log.Warn("attach pipeline log failed", logging.Error(err))
	}

	switch {
	case runErr == nil:
		s.complete(teardownCtx, log, jobID, outputDir)
	case errors.Is(runErr, context.DeadlineExceeded) && ctx.Err() == nil:
		log.Warn("engine exceeded its deadline",
			logging.Duration("timeout", timeout),
			logging.String(logging.FieldErrorHint, "raise the pipeline timeout for this quality or rerun at a lower quality"))
		s.fail(teardownCtx, log, jobID, fmt.Sprintf("reconstruction timed out after %s", timeout))
	case ctx.Err() != nil:
		// Caller cancellation; the registry flipped the job already.
		log.Info("engine terminated on cancellation")
	default:
		s.fail(teardownCtx, log, jobID, failureReason(runErr, tail))
	}
}

func (s *Supervisor) complete(ctx context.Context, log *slog.Logger, jobID, outputDir string) {
	loc, files, err := s.store.CollectModel(ctx, jobID, outputDir)
	if err != nil {
		s.fail(ctx, log, jobID, "collect model: "+err.Error())
		return
	}
	if _, err := s.reg.Complete(ctx, jobID, loc.String()); err != nil {
		log.Warn("completion not recorded", logging.Error(err))
		return
	}
	log.Info("reconstruction completed",
		logging.String("model", loc.String()),
		logging.Int("files", len(files)))
}

func (s *Supervisor) fail(ctx context.Context, log *slog.Logger, jobID, reason string) {
	if _, err := s.reg.Fail(ctx, jobID, reason); err != nil {
		log.Warn("failure not recorded", logging.Error(err))
		return
	}
	log.Error("reconstruction failed", logging.String("reason", reason))
}

func (s *Supervisor) timeoutFor(quality registry.Quality) time.Duration {
	seconds := s.cfg.Pipeline.TimeoutMedium
	switch quality {
	case registry.QualityLow:
		seconds = s.cfg.Pipeline.TimeoutLow
	case registry.QualityHigh:
		seconds = s.cfg.Pipeline.TimeoutHigh
	}
	return time.Duration(seconds) * time.Second
}

func parseInputRefs(refs []string) ([]storage.Locator, error) {
	locs := make([]storage.Locator, 0, len(refs))
	for _, ref := range refs {
		loc, err := storage.ParseLocator(ref)
		if err != nil {
			return nil, fmt.Errorf("input reference %q: %w", ref, err)
		}
		locs = append(locs, loc)
	}
	return locs, nil
}

func failureReason(runErr error, tail *tailBuffer) string {
	reason := "engine failed: " + runErr.Error()
	if diag := tail.String(); diag != "" {
		reason += "\n" + diag
	}
	return reason
}

// tailBuffer keeps the last n output lines for failure diagnostics.
type tailBuffer struct {
	lines []string
	limit int
}

func newTailBuffer(limit int) *tailBuffer {
	if limit < 1 {
		limit = 1
	}
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) add(line string) {
	t.lines = append(t.lines, line)
	if len(t.lines) > t.limit {
		t.lines = t.lines[1:]
	}
}

func (t *tailBuffer) String() string {
	return strings.Join(t.lines, "\n")
}
