// Package sweeper reclaims terminal jobs after the retention window:
// artifacts first, then the registry record, so a swept id reads as never
// having existed.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"facet/internal/config"
	"facet/internal/logging"
	"facet/internal/registry"
	"facet/internal/storage"
)

// Sweeper periodically removes expired terminal jobs.
type Sweeper struct {
	reg      *registry.Registry
	store    *storage.Manager
	window   time.Duration
	interval time.Duration
	logger   *slog.Logger
	done     chan struct{}
}

// New builds a sweeper from the retention section.
func New(cfg *config.Config, reg *registry.Registry, store *storage.Manager, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		reg:      reg,
		store:    store,
		window:   time.Duration(cfg.Retention.WindowHours) * time.Hour,
		interval: time.Duration(cfg.Retention.SweepIntervalMinutes) * time.Minute,
		logger:   logging.NewComponentLogger(logger, "sweeper"),
		done:     make(chan struct{}),
	}
}

// Start runs periodic sweeps until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.SweepOnce(ctx)
			}
		}
	}()
}

// Done is closed once the sweep loop has exited.
func (s *Sweeper) Done() <-chan struct{} {
	return s.done
}

// SweepOnce reclaims every terminal job older than the retention window
// and reports how many were removed. A job whose artifacts cannot be
// deleted is skipped and retried on the next sweep.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-s.window)
	removed := 0
	for _, job := range s.reg.TerminalBefore(cutoff) {
		if err := s.sweepJob(ctx, job); err != nil {
			s.logger.Warn("sweep skipped job",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("retention sweep removed jobs", logging.Int("removed", removed))
	}
	return removed
}

func (s *Sweeper) sweepJob(ctx context.Context, job registry.Job) error {
	refs := make([]string, 0, len(job.InputRefs)+2)
	refs = append(refs, job.InputRefs...)
	if job.OutputRef != "" {
		refs = append(refs, job.OutputRef)
	}
	if job.LogRef != "" {
		refs = append(refs, job.LogRef)
	}
	for _, ref := range refs {
		loc, err := storage.ParseLocator(ref)
		if err != nil {
			// A malformed ref cannot block reclamation of the rest.
			s.logger.Warn("sweep found malformed locator",
				logging.String(logging.FieldJobID, job.ID),
				logging.String("ref", ref))
			continue
		}
		if err := s.store.Delete(ctx, loc); err != nil {
			return err
		}
	}
	if err := s.store.PurgeJob(job.ID); err != nil {
		return err
	}
	return s.reg.Remove(ctx, job.ID)
}
