// Package admission bounds how many reconstructions run at once. Requests
// wait in submission order and start when both the global and the
// per-owner limits have room.
package admission

import (
	"context"
	"log/slog"
	"sync"

	"facet/internal/config"
	"facet/internal/logging"
)

// AdmitFunc starts the reconstruction for an admitted job. It runs on its
// own goroutine and must call Release when the job finishes.
type AdmitFunc func(ctx context.Context, jobID string)

type waiter struct {
	jobID string
	owner string
}

// Snapshot is a point-in-time view of the controller state.
type Snapshot struct {
	Queued  int
	Running int
}

// Controller admits queued jobs in FIFO order subject to a global cap and
// a per-owner cap. A waiter whose owner is saturated does not block
// admissible waiters behind it.
type Controller struct {
	maxGlobal   int
	maxPerOwner int
	admit       AdmitFunc
	logger      *slog.Logger

	mu       sync.Mutex
	queue    []waiter
	running  map[string]string // job id -> owner
	perOwner map[string]int

	wake chan struct{}
	done chan struct{}
}

// NewController builds a controller with the configured bounds. Start must
// be called before enqueued jobs are admitted.
func NewController(cfg *config.Config, admit AdmitFunc, logger *slog.Logger) *Controller {
	return &Controller{
		maxGlobal:   cfg.Concurrency.MaxGlobal,
		maxPerOwner: cfg.Concurrency.MaxPerOwner,
		admit:       admit,
		logger:      logging.NewComponentLogger(logger, "admission"),
		running:     make(map[string]string),
		perOwner:    make(map[string]int),
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// Start runs the admitter until ctx is cancelled.
func (c *Controller) Start(ctx context.Context) {
	go c.loop(ctx)
}

// Done is closed once the admitter loop has exited.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Enqueue appends a job to the wait queue and nudges the admitter.
func (c *Controller) Enqueue(jobID, owner string) {
	c.mu.Lock()
	c.queue = append(c.queue, waiter{jobID: jobID, owner: owner})
	c.mu.Unlock()
	c.nudge()
}

// Withdraw removes a job that has not been admitted yet. It reports
// whether the job was still waiting; false means the job already started
// (or was never enqueued) and the caller must cancel it instead.
func (c *Controller) Withdraw(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, w := range c.queue {
		if w.jobID == jobID {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return true
		}
	}
	return false
}

// Release returns a job's admission slot and wakes waiters.
func (c *Controller) Release(jobID string) {
	c.mu.Lock()
	owner, ok := c.running[jobID]
	if ok {
		delete(c.running, jobID)
		c.perOwner[owner]--
		if c.perOwner[owner] <= 0 {
			delete(c.perOwner, owner)
		}
	}
	c.mu.Unlock()
	if ok {
		c.nudge()
	}
}

// Stats reports queue depth and running count.
func (c *Controller) Stats() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{Queued: len(c.queue), Running: len(c.running)}
}

func (c *Controller) nudge() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Controller) loop(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.wake:
		}
		for _, jobID := range c.admitReady() {
			go c.admit(ctx, jobID)
		}
	}
}

// admitReady claims slots for every admissible waiter, in queue order,
// under one lock acquisition so the counters and the decision agree.
func (c *Controller) admitReady() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var admitted []string
	remaining := c.queue[:0]
	for _, w := range c.queue {
		if _, active := c.running[w.jobID]; active {
			// A re-enqueued job must wait until its previous run has
			// released the slot, or the two runs would share one entry.
			remaining = append(remaining, w)
			continue
		}
		if len(c.running) >= c.maxGlobal || c.perOwner[w.owner] >= c.maxPerOwner {
			remaining = append(remaining, w)
			continue
		}
		c.running[w.jobID] = w.owner
		c.perOwner[w.owner]++
		admitted = append(admitted, w.jobID)
		c.logger.Debug("job admitted",
			logging.String(logging.FieldJobID, w.jobID),
			logging.String(logging.FieldOwner, w.owner),
			logging.Int("running", len(c.running)))
	}
	c.queue = remaining
	return admitted
}
