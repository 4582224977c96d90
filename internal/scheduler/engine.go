// engine.go turns normalized schedules into robfig/cron entries.
//
// One-shot instants, calendar-field recurrences and cron expressions all
// become cron.Schedule values on a single cron.Cron, so every activation is
// fired by the same run loop. A schedule returning the zero time from Next
// never fires again, which is how one-shot entries retire.

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/doughall/taskd/internal/schedule"
	"github.com/robfig/cron/v3"
)

// Handle is a scheduled activation owned by an Engine.
type Handle interface {
	// NextInvocation returns the next activation, or the zero time when
	// there is none.
	NextInvocation() time.Time
	// Cancel stops future activations. It returns false when the handle was
	// already cancelled.
	Cancel() bool
}

// Previewer is implemented by handles that can list activations beyond the
// next one.
type Previewer interface {
	Upcoming(n int) []time.Time
}

// Engine fires run according to spec until the returned Handle is cancelled.
type Engine interface {
	Schedule(spec schedule.Spec, name string, run func()) (Handle, error)
}

// CronEngine is the Engine backed by robfig/cron.
type CronEngine struct {
	cron    *cron.Cron
	parser  *CronParser
	loc     *time.Location
	now     func() time.Time
	logger  *slog.Logger
	mu      sync.Mutex
	started bool
}

// NewCronEngine creates an engine evaluating schedules in loc. Panics in
// tasks are recovered and logged.
func NewCronEngine(loc *time.Location, logger *slog.Logger) *CronEngine {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "engine"))
	cl := cronLogger{logger: logger}
	return &CronEngine{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		parser: NewCronParser(),
		loc:    loc,
		now:    time.Now,
		logger: logger,
	}
}

// Schedule registers run with the cron loop. It fails when the schedule cannot be
// built or has no activation after now.
func (e *CronEngine) Schedule(spec schedule.Spec, name string, run func()) (Handle, error) {
	sched, err := e.build(spec)
	if err != nil {
		return nil, err
	}
	next := sched.Next(e.now())
	if next.IsZero() {
		return nil, ErrNeverFires
	}
	id := e.cron.Schedule(sched, cron.FuncJob(run))
	e.logger.Debug("entry added",
		slog.Int("entry_id", int(id)),
		slog.String("name", name),
		slog.String("kind", spec.Kind.String()),
		slog.Time("next", next),
	)
	return &cronHandle{engine: e, entryID: id, schedule: sched}, nil
}

// build converts a spec into a cron.Schedule in the engine's location.
func (e *CronEngine) build(spec schedule.Spec) (cron.Schedule, error) {
	switch spec.Kind {
	case schedule.KindAt:
		return onceSchedule{at: spec.At}, nil
	case schedule.KindRecurring:
		inner, err := e.parser.Parse(spec.Fields.CronExpression())
		if err != nil {
			return nil, fmt.Errorf("fields %q: %w", spec.Fields.CronExpression(), err)
		}
		if spec.Fields.Year == nil {
			return inLocation(inner, e.loc), nil
		}
		return yearSchedule{inner: inLocation(inner, e.loc), year: *spec.Fields.Year, loc: e.loc}, nil
	case schedule.KindExpression:
		inner, err := e.parser.Parse(spec.Expression)
		if err != nil {
			return nil, fmt.Errorf("expression %q: %w", spec.Expression, err)
		}
		return inLocation(inner, e.loc), nil
	default:
		return nil, fmt.Errorf("unknown schedule kind %d", spec.Kind)
	}
}

// Start begins firing entries. It is a no-op when already started.
func (e *CronEngine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true
	e.cron.Start()
	e.logger.Info("engine started", slog.String("tz", e.loc.String()))
}

// Shutdown stops the cron loop and waits for running tasks or ctx.
// Implements shutdown.Shutdowner.
func (e *CronEngine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	e.mu.Unlock()

	select {
	case <-e.cron.Stop().Done():
		e.logger.Info("engine stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries returns the number of entries currently on the cron loop.
func (e *CronEngine) Entries() int {
	return len(e.cron.Entries())
}

type cronHandle struct {
	engine    *CronEngine
	entryID   cron.EntryID
	schedule  cron.Schedule
	cancelled atomic.Bool
}

func (h *cronHandle) NextInvocation() time.Time {
	if h.cancelled.Load() {
		return time.Time{}
	}
	return h.schedule.Next(h.engine.now())
}

// Upcoming lists up to n activations after now.
func (h *cronHandle) Upcoming(n int) []time.Time {
	if h.cancelled.Load() {
		return nil
	}
	return Preview(h.schedule, h.engine.now(), n)
}

func (h *cronHandle) Cancel() bool {
	if !h.cancelled.CompareAndSwap(false, true) {
		return false
	}
	h.engine.cron.Remove(h.entryID)
	return true
}

// onceSchedule fires a single time at an instant.
type onceSchedule struct {
	at time.Time
}

func (s onceSchedule) Next(t time.Time) time.Time {
	if s.at.After(t) {
		return s.at
	}
	return time.Time{}
}

// yearSchedule restricts an inner schedule to one calendar year.
type yearSchedule struct {
	inner cron.Schedule
	year  int
	loc   *time.Location
}

func (s yearSchedule) Next(t time.Time) time.Time {
	t = t.In(s.loc)
	if t.Year() > s.year {
		return time.Time{}
	}
	if t.Year() < s.year {
		t = time.Date(s.year, time.January, 1, 0, 0, 0, 0, s.loc).Add(-time.Second)
	}
	next := s.inner.Next(t)
	if next.IsZero() || next.Year() != s.year {
		return time.Time{}
	}
	return next
}

// inLocation pins a parsed spec schedule to loc. The parser leaves Location
// as time.Local for expressions without a CRON_TZ prefix.
func inLocation(s cron.Schedule, loc *time.Location) cron.Schedule {
	if spec, ok := s.(*cron.SpecSchedule); ok && spec.Location == time.Local {
		spec.Location = loc
	}
	return s
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	args := append([]any{slog.String("error", err.Error())}, keysAndValues...)
	l.logger.Error("cron: "+msg, args...)
}
