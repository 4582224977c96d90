// Package commands is the transport-agnostic command surface of taskd.
//
// Surface wraps the job registry with the operations a client can invoke:
// register, retrieve, list, remove and clear, plus history and status.
// Update and pause are recognised but not supported. Dispatch decodes a JSON
// Envelope, runs the command and encodes the outcome as a Response; the NATS
// and WebSocket transports both call it.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/doughall/taskd/internal/schedule"
	"github.com/doughall/taskd/internal/scheduler"
	"github.com/doughall/taskd/internal/stats"
	"github.com/doughall/taskd/internal/sysinfo"
	"github.com/doughall/taskd/internal/tasks"
	"github.com/doughall/taskd/internal/version"
)

const defaultHistoryLimit = 20

// FiredEvent describes one finished activation.
type FiredEvent struct {
	JobID string `json:"job_id"`
	Name  string `json:"name,omitempty"`
	Error string `json:"error,omitempty"`
}

// EventSink receives an event after every activation. Implemented by
// natsapi.Publisher.
type EventSink interface {
	PublishFired(ev FiredEvent) error
}

// Options configures a Surface.
type Options struct {
	Registry   *scheduler.Registry
	Builder    *tasks.Builder
	History    *scheduler.HistoryStore
	Collector  *stats.Collector
	// Host is reported by status when set.
	Host       *sysinfo.Host
	InstanceID string
	Locale     string
	Logger     *slog.Logger
}

// Surface exposes the registry operations.
type Surface struct {
	registry   *scheduler.Registry
	builder    *tasks.Builder
	history    *scheduler.HistoryStore
	collector  *stats.Collector
	host       *sysinfo.Host
	instanceID string
	locale     string
	replay     *ReplayCache
	logger     *slog.Logger

	mu    sync.RWMutex
	tasks map[string]tasks.Definition
	sink  EventSink
}

// NewSurface creates a command surface over a registry.
func NewSurface(opts Options) *Surface {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "commands"))
	return &Surface{
		registry:   opts.Registry,
		builder:    opts.Builder,
		history:    opts.History,
		collector:  opts.Collector,
		host:       opts.Host,
		instanceID: opts.InstanceID,
		locale:     opts.Locale,
		replay:     NewReplayCache(logger),
		logger:     logger,
		tasks:      make(map[string]tasks.Definition),
	}
}

// SetEventSink attaches the destination for fired events.
func (s *Surface) SetEventSink(sink EventSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// Register compiles the payload's task and registers it. A decoded payload
// naming both "for" and "every" is rejected even when one of them is null.
func (s *Surface) Register(ctx context.Context, p RegisterPayload) (*JobView, error) {
	if p.forKey && p.everyKey {
		return nil, fmt.Errorf("%w: both for and every given", schedule.ErrConflictingOrMissingSchedule)
	}

	task, err := s.builder.Build(p.Task)
	if err != nil {
		return nil, err
	}

	// The callback needs the id, which is only known after registration.
	var (
		idMu  sync.Mutex
		jobID string
	)
	callback := func(err error) {
		idMu.Lock()
		id := jobID
		idMu.Unlock()
		s.publishFired(id, p.Name, err)
	}

	job, err := s.registry.Register(ctx, scheduler.RegisterRequest{
		Pattern:  schedule.Pattern{For: p.For, Every: p.Every},
		Task:     task,
		Name:     p.Name,
		Callback: callback,
	})
	if err != nil {
		return nil, err
	}
	idMu.Lock()
	jobID = job.ID
	idMu.Unlock()

	s.mu.Lock()
	s.tasks[job.ID] = p.Task
	s.mu.Unlock()

	return s.view(job), nil
}

// upcomingCount is how many activations Retrieve lists.
const upcomingCount = 5

// Retrieve returns the job registered under id, with its next few
// activations.
func (s *Surface) Retrieve(id string) (*JobView, error) {
	job, err := s.registry.Retrieve(id)
	if err != nil {
		return nil, err
	}
	v := s.view(job)
	v.Upcoming = job.Upcoming(upcomingCount)
	return v, nil
}

// List returns every registered id in registration order.
func (s *Surface) List() []string {
	return s.registry.List()
}

// Remove cancels each id. On partial failure the result still lists the ids
// that were removed.
func (s *Surface) Remove(ids ...string) (*RemoveResult, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no ids given", ErrBadRequest)
	}
	err := s.registry.Remove(ids...)

	var failures []*scheduler.JobError
	var re *scheduler.RemoveError
	if errors.As(err, &re) {
		failures = re.Errors
	}
	// Failures are reported in batch order.
	removed := make([]string, 0, len(ids))
	for _, id := range ids {
		if len(failures) > 0 && failures[0].ID == id {
			failures = failures[1:]
			continue
		}
		removed = append(removed, id)
	}

	s.mu.Lock()
	for _, id := range removed {
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	return &RemoveResult{Removed: removed}, err
}

// Clear removes every registered job.
func (s *Surface) Clear() (*RemoveResult, error) {
	ids := s.registry.List()
	if len(ids) == 0 {
		return &RemoveResult{Removed: []string{}}, nil
	}
	return s.Remove(ids...)
}

// Update is not supported.
func (s *Surface) Update(context.Context, IDPayload) error {
	return fmt.Errorf("update: %w", ErrNotImplemented)
}

// Pause is not supported.
func (s *Surface) Pause(context.Context, IDPayload) error {
	return fmt.Errorf("pause: %w", ErrNotImplemented)
}

// History returns recent activations, newest first.
func (s *Surface) History(p HistoryPayload) (*HistoryResult, error) {
	if s.history == nil {
		return nil, ErrNoHistory
	}
	limit := p.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	acts, err := s.history.Recent(p.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	if acts == nil {
		acts = []*scheduler.Activation{}
	}
	return &HistoryResult{Activations: acts}, nil
}

// Status describes this instance.
func (s *Surface) Status(ctx context.Context) (*StatusResult, error) {
	res := &StatusResult{
		InstanceID: s.instanceID,
		Version:    version.Version,
		Locale:     s.locale,
		Jobs:       s.registry.Len(),
		Host:       s.host,
	}
	if s.history != nil {
		n, err := s.history.Count()
		if err != nil {
			return nil, fmt.Errorf("count history: %w", err)
		}
		res.History = &n
	}
	if s.collector != nil {
		snap, err := s.collector.Collect(ctx)
		if err != nil {
			return nil, err
		}
		res.Stats = snap
	}
	return res, nil
}

func (s *Surface) view(job *scheduler.Job) *JobView {
	v := &JobView{
		ID:        job.ID,
		Name:      job.Name,
		Kind:      job.Spec.Kind.String(),
		Pattern:   job.Pattern,
		CreatedAt: job.CreatedAt,
	}
	if next := job.NextInvocation(); !next.IsZero() {
		v.NextInvocation = &next
	}
	s.mu.RLock()
	if def, ok := s.tasks[job.ID]; ok {
		v.Task = def.Summary()
	}
	s.mu.RUnlock()
	return v
}

func (s *Surface) publishFired(id, name string, err error) {
	s.mu.RLock()
	sink := s.sink
	s.mu.RUnlock()
	if sink == nil {
		return
	}
	ev := FiredEvent{JobID: id, Name: name}
	if err != nil {
		ev.Error = err.Error()
	}
	if perr := sink.PublishFired(ev); perr != nil {
		s.logger.Warn("failed to publish fired event",
			slog.String("job_id", id),
			slog.String("error", perr.Error()),
		)
	}
}
