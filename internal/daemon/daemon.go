package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"facet/internal/admission"
	"facet/internal/config"
	"facet/internal/logging"
	"facet/internal/orchestrator"
	"facet/internal/registry"
)

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *registry.Store
	orch    *orchestrator.Orchestrator
	logPath string

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Admission    admission.Snapshot
	JobCounts    map[registry.Status]int
	JobDBPath    string
	LockFilePath string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *registry.Store, orch *orchestrator.Orchestrator, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || orch == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, orchestrator, and logger")
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "facetd.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		orch:     orch,
		logPath:  filepath.Join(cfg.Paths.LogDir, "facet.log"),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock and launches the orchestrator loops.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another facet daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.orch.Start(runCtx)

	d.running.Store(true)
	d.logger.Info("facet daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.orch.Done()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("facet daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Orchestrator exposes the job lifecycle surface for control-plane callers.
func (d *Daemon) Orchestrator() *orchestrator.Orchestrator {
	return d.orch
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	counts, err := d.store.Stats(ctx)
	if err != nil {
		d.logger.Warn("job stats unavailable", logging.Error(err))
	}
	return Status{
		Running:      d.running.Load(),
		Admission:    d.orch.Stats(),
		JobCounts:    counts,
		JobDBPath:    d.store.Path(),
		LockFilePath: d.lockPath,
	}
}
