// Package admission bounds how many sandboxes run at once. Requests that
// cannot start immediately wait in FIFO order, up to a fixed queue depth and
// a queue timeout.
package admission

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/michaelbrown/runbox/internal/metrics"
)

var (
	ErrQueueFull    = errors.New("execution queue is full")
	ErrQueueTimeout = errors.New("timed out waiting for an execution slot")
)

type Options struct {
	MaxConcurrent int
	QueueDepth    int
	QueueTimeout  time.Duration // zero waits as long as the caller's context allows
}

// Stats is a point-in-time view of the controller.
type Stats struct {
	MaxConcurrent int   `json:"max_concurrent"`
	Active        int64 `json:"active"`
	Queued        int64 `json:"queued"`
	Rejected      int64 `json:"rejected"`
	Completed     int64 `json:"completed"`
	TimedOut      int64 `json:"timed_out"`
}

type Controller struct {
	opts Options
	sem  *semaphore.Weighted

	active    atomic.Int64
	queued    atomic.Int64
	rejected  atomic.Int64
	completed atomic.Int64
	timedOut  atomic.Int64
}

func New(opts Options) *Controller {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	return &Controller{
		opts: opts,
		sem:  semaphore.NewWeighted(int64(opts.MaxConcurrent)),
	}
}

// Acquire returns a slot once one is free. It fails fast with ErrQueueFull
// when QueueDepth requests are already waiting, with ErrQueueTimeout when
// the wait exceeds QueueTimeout, and with the context error when the caller
// gives up first.
func (c *Controller) Acquire(ctx context.Context) (*Slot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.sem.TryAcquire(1) {
		return c.grant(), nil
	}

	if c.queued.Add(1) > int64(c.opts.QueueDepth) {
		c.queued.Add(-1)
		c.reject("queue_full")
		return nil, ErrQueueFull
	}
	metrics.AdmissionQueued.Inc()

	waitCtx := ctx
	if c.opts.QueueTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.opts.QueueTimeout)
		defer cancel()
	}

	start := time.Now()
	err := c.sem.Acquire(waitCtx, 1)
	c.queued.Add(-1)
	metrics.AdmissionQueued.Dec()
	metrics.AdmissionWait.Observe(float64(time.Since(start).Milliseconds()))

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.reject("queue_timeout")
		return nil, ErrQueueTimeout
	}
	return c.grant(), nil
}

func (c *Controller) grant() *Slot {
	c.active.Add(1)
	metrics.AdmissionActive.Inc()
	return &Slot{c: c}
}

func (c *Controller) reject(reason string) {
	c.rejected.Add(1)
	metrics.AdmissionRejected.WithLabelValues(reason).Inc()
}

func (c *Controller) Stats() Stats {
	return Stats{
		MaxConcurrent: c.opts.MaxConcurrent,
		Active:        c.active.Load(),
		Queued:        c.queued.Load(),
		Rejected:      c.rejected.Load(),
		Completed:     c.completed.Load(),
		TimedOut:      c.timedOut.Load(),
	}
}

// Slot is the right to run one sandbox.
type Slot struct {
	c        *Controller
	once     sync.Once
	timedOut atomic.Bool
}

// MarkTimedOut records that the work done under this slot hit its deadline.
func (s *Slot) MarkTimedOut() {
	s.timedOut.Store(true)
}

// Release returns the slot. Calls after the first are no-ops.
func (s *Slot) Release() {
	s.once.Do(func() {
		if s.timedOut.Load() {
			s.c.timedOut.Add(1)
		} else {
			s.c.completed.Add(1)
		}
		s.c.active.Add(-1)
		metrics.AdmissionActive.Dec()
		s.c.sem.Release(1)
	})
}
