// registry.go implements the id-keyed store of active jobs.
//
// A single mutex serializes registration, retrieval, listing and removal, so a
// reader never observes a job that is halfway through cancellation. Engine
// calls made under the lock are non-blocking: the engine only records the
// entry and fires it later on its own goroutine.

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/doughall/taskd/internal/schedule"
)

// Task is the work a job performs on each activation. Errors are reported
// to the job's callback and recorded in history; they never cancel the job.
type Task func(ctx context.Context) error

// RegisterRequest describes a job to register.
type RegisterRequest struct {
	// Pattern holds exactly one of For or Every.
	Pattern schedule.Pattern
	// Task runs on each activation.
	Task Task
	// Name is an optional label passed to the engine.
	Name string
	// Callback, when set, is invoked after every activation with the task's
	// error.
	Callback func(err error)
}

// Job is a registered activation. ID, Name, Pattern and Spec are fixed at
// registration.
type Job struct {
	ID        string
	Name      string
	Pattern   schedule.Pattern
	Spec      schedule.Spec
	CreatedAt time.Time
	Callback  func(err error)

	handle Handle
}

// NextInvocation returns the next activation, or the zero time when the job
// will not fire again.
func (j *Job) NextInvocation() time.Time {
	return j.handle.NextInvocation()
}

// Upcoming lists up to n future activations. Engines whose handles cannot
// look further ahead report the next activation only.
func (j *Job) Upcoming(n int) []time.Time {
	if p, ok := j.handle.(Previewer); ok {
		return p.Upcoming(n)
	}
	next := j.handle.NextInvocation()
	if next.IsZero() || n < 1 {
		return nil
	}
	return []time.Time{next}
}

// Observer receives registry events, typically for metrics.
type Observer interface {
	JobRegistered(kind schedule.Kind)
	JobRemoved()
	ActivationFinished(d time.Duration, err error)
}

// Options configures a Registry.
type Options struct {
	Normalizer *schedule.Normalizer
	Engine     Engine
	// History is optional; activations are recorded when set.
	History *HistoryStore
	// Observer is optional.
	Observer Observer
	Logger   *slog.Logger
}

// Registry is the store of active jobs keyed by generated id.
type Registry struct {
	mu    sync.Mutex
	jobs  map[string]*Job
	order []string
	seq   uint64

	normalizer *schedule.Normalizer
	engine     Engine
	history    *HistoryStore
	observer   Observer
	logger     *slog.Logger

	// runCtx is handed to every task and cancelled on Shutdown.
	runCtx    context.Context
	runCancel context.CancelFunc
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		jobs:       make(map[string]*Job),
		normalizer: opts.Normalizer,
		engine:     opts.Engine,
		history:    opts.History,
		observer:   opts.Observer,
		logger:     logger.With(slog.String("component", "registry")),
		runCtx:     ctx,
		runCancel:  cancel,
	}
}

// Register normalizes the request's pattern, hands it to the engine and
// stores the resulting job under a fresh id.
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Task == nil {
		return nil, ErrTaskRequired
	}
	spec, err := r.normalizer.Normalize(req.Pattern)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	job := &Job{
		ID:        fmt.Sprintf("task-%d", r.seq),
		Name:      req.Name,
		Pattern:   req.Pattern,
		Spec:      spec,
		CreatedAt: time.Now(),
		Callback:  req.Callback,
	}

	handle, err := r.engine.Schedule(spec, req.Name, func() { r.activate(job, req.Task) })
	if err != nil {
		r.logger.Warn("engine refused schedule",
			slog.String("kind", spec.Kind.String()),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %w", ErrSchedulingFailed, err)
	}
	if handle == nil {
		return nil, ErrSchedulingFailed
	}
	job.handle = handle

	r.jobs[job.ID] = job
	r.order = append(r.order, job.ID)

	if r.observer != nil {
		r.observer.JobRegistered(spec.Kind)
	}
	r.logger.Info("task registered",
		slog.String("job_id", job.ID),
		slog.String("name", job.Name),
		slog.String("kind", spec.Kind.String()),
		slog.Time("next_invocation", handle.NextInvocation()),
	)
	return job, nil
}

// Retrieve returns the job registered under id.
func (r *Registry) Retrieve(id string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return job, nil
}

// List returns the ids of all registered jobs in registration order.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.order)
}

// Len returns the number of registered jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Remove cancels and evicts each id in turn. A failure on one id does not
// stop the others. It returns nil when every id was removed, otherwise a
// *RemoveError listing each failure.
func (r *Registry) Remove(ids ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var failures []*JobError
	for _, id := range ids {
		if err := r.removeLocked(id); err != nil {
			r.logger.Warn("task removal failed",
				slog.String("job_id", id),
				slog.String("error", err.Error()),
			)
			failures = append(failures, &JobError{ID: id, Err: err})
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return &RemoveError{Attempted: len(ids), Errors: failures}
}

// removeLocked cancels one job and evicts it only if cancellation succeeded.
// Call with r.mu held.
func (r *Registry) removeLocked(id string) error {
	job, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !job.handle.Cancel() {
		return ErrCancellationFailed
	}
	delete(r.jobs, id)
	r.order = slices.DeleteFunc(r.order, func(v string) bool { return v == id })

	if r.observer != nil {
		r.observer.JobRemoved()
	}
	r.logger.Info("task removed", slog.String("job_id", id))
	return nil
}

// Clear removes every registered job.
func (r *Registry) Clear() error {
	return r.Remove(r.List()...)
}

// Shutdown cancels the context handed to running tasks.
// Implements shutdown.Shutdowner.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.runCancel()
	r.logger.Info("registry shut down", slog.Int("jobs", r.Len()))
	return nil
}

// activate runs one activation of job.
func (r *Registry) activate(job *Job, task Task) {
	logger := r.logger.With(slog.String("job_id", job.ID))
	started := time.Now()
	err := task(r.runCtx)
	duration := time.Since(started)

	if err != nil {
		logger.Warn("task failed",
			slog.String("error", err.Error()),
			slog.Duration("duration", duration),
		)
	} else {
		logger.Debug("task completed", slog.Duration("duration", duration))
	}

	if job.Callback != nil {
		job.Callback(err)
	}
	if r.observer != nil {
		r.observer.ActivationFinished(duration, err)
	}
	if r.history != nil {
		a := &Activation{
			JobID:      job.ID,
			Name:       job.Name,
			FiredAt:    started,
			DurationMs: duration.Milliseconds(),
		}
		if err != nil {
			a.Error = err.Error()
		}
		if herr := r.history.Record(a); herr != nil {
			logger.Error("failed to record activation", slog.String("error", herr.Error()))
		}
	}
}
