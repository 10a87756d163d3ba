// Package task runs long computations on background goroutines with
// progress reporting, cancellation and Prometheus accounting.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Status describes the lifecycle stage of a task.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// ErrClosed is returned by Start once the runner has been closed.
var ErrClosed = errors.New("task: runner closed")

// Progress is a snapshot of a task's advancement. Total == 0 means the
// amount of work is unknown.
type Progress struct {
	Total    int
	Done     int
	Finished bool
}

// Reporter is handed to task functions so they can publish progress.
type Reporter interface {
	SetTotal(n int)
	Advance(n int)
}

// Func is the unit of work executed by a Runner.
type Func func(ctx context.Context, r Reporter) error

// Discard is a Reporter that drops every update.
var Discard Reporter = discard{}

type discard struct{}

func (discard) SetTotal(int) {}
func (discard) Advance(int)  {}

// Handle tracks one started task.
type Handle struct {
	name     string
	progress chan Progress
	done     chan struct{}
	cancel   context.CancelFunc

	mu     sync.Mutex
	state  Progress
	status Status
	err    error
}

// Name returns the name the task was started with.
func (h *Handle) Name() string { return h.name }

// Progress delivers the most recent snapshot; older unread snapshots are replaced.
func (h *Handle) Progress() <-chan Progress { return h.progress }

// Done is closed when the task function has returned.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Cancel asks the task to stop. The task observes it through its context.
func (h *Handle) Cancel() { h.cancel() }

// Status returns the current lifecycle stage.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Snapshot returns the latest progress without consuming the channel.
func (h *Handle) Snapshot() Progress {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Wait blocks until the task finishes or ctx ends, returning the task error.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetTotal records the expected amount of work.
func (h *Handle) SetTotal(n int) {
	h.mu.Lock()
	h.state.Total = n
	h.publishLocked()
	h.mu.Unlock()
}

// Advance marks n more units as done.
func (h *Handle) Advance(n int) {
	h.mu.Lock()
	h.state.Done += n
	h.publishLocked()
	h.mu.Unlock()
}

// publishLocked replaces any unread snapshot with the current state.
func (h *Handle) publishLocked() {
	select {
	case <-h.progress:
	default:
	}
	h.progress <- h.state
}

func (h *Handle) finish(status Status, err error) {
	h.mu.Lock()
	h.status = status
	h.err = err
	h.state.Finished = true
	h.publishLocked()
	h.mu.Unlock()
	close(h.done)
}

// Runner starts tasks and joins them on Close.
type Runner struct {
	logger  *slog.Logger
	metrics *Metrics

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Option customises a Runner.
type Option func(*Runner)

// WithLogger sets the logger used for task lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// NewRunner constructs a Runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start runs fn on a new goroutine. The returned handle is never nil when err is nil.
func (r *Runner) Start(ctx context.Context, name string, fn Func) (*Handle, error) {
	if fn == nil {
		return nil, fmt.Errorf("task %s: nil func", name)
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.wg.Add(1)
	r.mu.Unlock()

	taskCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		name:     name,
		progress: make(chan Progress, 1),
		done:     make(chan struct{}),
		cancel:   cancel,
		status:   StatusRunning,
	}
	r.metrics.started()
	r.logger.Debug("task started", "task", name)
	go func() {
		defer r.wg.Done()
		defer cancel()
		begin := time.Now()
		err := run(taskCtx, fn, h)
		status := StatusSucceeded
		switch {
		case err != nil && errors.Is(err, context.Canceled):
			status = StatusCanceled
		case err != nil:
			status = StatusFailed
		}
		r.metrics.finished(status, time.Since(begin))
		if err != nil {
			r.logger.Warn("task ended", "task", name, "status", status, "error", err)
		} else {
			r.logger.Debug("task ended", "task", name, "status", status)
		}
		h.finish(status, err)
	}()
	return h, nil
}

func run(ctx context.Context, fn Func, h *Handle) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task %s panicked: %v", h.name, rec)
		}
	}()
	return fn(ctx, h)
}

// Close rejects new tasks and waits for running ones to return.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
