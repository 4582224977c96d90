package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/doughall/taskd/internal/schedule"
)

// nopLogger returns a logger that discards all output, suitable for tests.
func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var engineNow = time.Date(2026, time.October, 18, 12, 3, 10, 0, time.UTC)

func newFixedEngine(now time.Time) *CronEngine {
	e := NewCronEngine(time.UTC, nopLogger())
	e.now = func() time.Time { return now }
	return e
}

func TestCronEngine_At(t *testing.T) {
	e := newFixedEngine(engineNow)

	t.Run("future instant", func(t *testing.T) {
		at := engineNow.Add(90 * time.Minute)
		h, err := e.Schedule(schedule.Spec{Kind: schedule.KindAt, At: at}, "once", func() {})
		if err != nil {
			t.Fatalf("Schedule failed: %v", err)
		}
		if got := h.NextInvocation(); !got.Equal(at) {
			t.Errorf("NextInvocation = %v, want %v", got, at)
		}
	})

	t.Run("past instant", func(t *testing.T) {
		_, err := e.Schedule(schedule.Spec{Kind: schedule.KindAt, At: engineNow.Add(-time.Minute)}, "", func() {})
		if !errors.Is(err, ErrNeverFires) {
			t.Fatalf("expected ErrNeverFires, got %v", err)
		}
	})
}

func TestCronEngine_ExpressionBoundary(t *testing.T) {
	e := newFixedEngine(engineNow)

	h, err := e.Schedule(schedule.Spec{Kind: schedule.KindExpression, Expression: "*/5 * * * *"}, "", func() {})
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	next := h.NextInvocation()
	wantMinute := (engineNow.Minute()/5 + 1) * 5 % 60
	if next.Minute() != wantMinute || next.Second() != 0 {
		t.Errorf("NextInvocation = %v, want minute %d second 0", next, wantMinute)
	}
	if !next.After(engineNow) {
		t.Errorf("NextInvocation %v not after %v", next, engineNow)
	}
}

func TestCronEngine_Recurring(t *testing.T) {
	e := newFixedEngine(engineNow)

	tests := []struct {
		name   string
		fields schedule.Fields
		want   time.Time
	}{
		{
			name:   "top of every hour",
			fields: schedule.Fields{Minute: schedule.Int(0), Second: schedule.Int(0)},
			want:   time.Date(2026, time.October, 18, 13, 0, 0, 0, time.UTC),
		},
		{
			name: "fixed year",
			fields: schedule.Fields{
				Year: schedule.Int(2027), Month: schedule.Int(1), Date: schedule.Int(1),
				Hour: schedule.Int(0), Minute: schedule.Int(0), Second: schedule.Int(0),
			},
			want: time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := e.Schedule(schedule.Spec{Kind: schedule.KindRecurring, Fields: tt.fields}, "", func() {})
			if err != nil {
				t.Fatalf("Schedule failed: %v", err)
			}
			if got := h.NextInvocation(); !got.Equal(tt.want) {
				t.Errorf("NextInvocation = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("year in the past", func(t *testing.T) {
		spec := schedule.Spec{Kind: schedule.KindRecurring, Fields: schedule.Fields{Year: schedule.Int(2020), Second: schedule.Int(0)}}
		if _, err := e.Schedule(spec, "", func() {}); !errors.Is(err, ErrNeverFires) {
			t.Fatalf("expected ErrNeverFires, got %v", err)
		}
	})
}

func TestCronEngine_InvalidExpression(t *testing.T) {
	e := newFixedEngine(engineNow)

	_, err := e.Schedule(schedule.Spec{Kind: schedule.KindExpression, Expression: "not cron"}, "", func() {})
	if err == nil {
		t.Fatal("expected error for invalid expression")
	}
}

func TestCronEngine_CancelTwice(t *testing.T) {
	e := newFixedEngine(engineNow)

	h, err := e.Schedule(schedule.Spec{Kind: schedule.KindExpression, Expression: "@hourly"}, "", func() {})
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if e.Entries() != 1 {
		t.Fatalf("Entries = %d, want 1", e.Entries())
	}

	if !h.Cancel() {
		t.Fatal("first Cancel returned false")
	}
	if h.Cancel() {
		t.Error("second Cancel returned true")
	}
	if !h.NextInvocation().IsZero() {
		t.Error("cancelled handle reports a next invocation")
	}
	if e.Entries() != 0 {
		t.Errorf("Entries = %d after cancel, want 0", e.Entries())
	}
}

func TestCronEngine_FiresOnce(t *testing.T) {
	e := NewCronEngine(time.UTC, nopLogger())
	e.Start()
	defer e.Shutdown(context.Background())

	fired := make(chan struct{}, 2)
	at := time.Now().Add(200 * time.Millisecond)
	if _, err := e.Schedule(schedule.Spec{Kind: schedule.KindAt, At: at}, "", func() { fired <- struct{}{} }); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("task did not fire")
	}

	select {
	case <-fired:
		t.Fatal("one-shot task fired twice")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestOnceSchedule(t *testing.T) {
	at := engineNow.Add(time.Hour)
	s := onceSchedule{at: at}

	if got := s.Next(engineNow); !got.Equal(at) {
		t.Errorf("Next before instant = %v, want %v", got, at)
	}
	if got := s.Next(at); !got.IsZero() {
		t.Errorf("Next at instant = %v, want zero", got)
	}
}

func TestCronEngine_Upcoming(t *testing.T) {
	e := newFixedEngine(engineNow)

	h, err := e.Schedule(schedule.Spec{Kind: schedule.KindExpression, Expression: "0 0 * * *"}, "", func() {})
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	p, ok := h.(Previewer)
	if !ok {
		t.Fatal("cron handle does not list upcoming activations")
	}

	got := p.Upcoming(3)
	if len(got) != 3 {
		t.Fatalf("Upcoming returned %d times, want 3", len(got))
	}
	if !got[0].Equal(h.NextInvocation()) {
		t.Errorf("first = %v, want %v", got[0], h.NextInvocation())
	}

	h.Cancel()
	if got := p.Upcoming(3); got != nil {
		t.Errorf("Upcoming after cancel = %v, want nil", got)
	}
}

func TestPreview(t *testing.T) {
	s, err := NewCronParser().Parse("0 0 * * *")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	got := Preview(inLocation(s, time.UTC), engineNow, 3)
	if len(got) != 3 {
		t.Fatalf("Preview returned %d times, want 3", len(got))
	}
	if want := time.Date(2026, time.October, 19, 0, 0, 0, 0, time.UTC); !got[0].Equal(want) {
		t.Errorf("first = %v, want %v", got[0], want)
	}

	if once := Preview(onceSchedule{at: engineNow.Add(time.Minute)}, engineNow, 5); len(once) != 1 {
		t.Errorf("one-shot preview returned %d times, want 1", len(once))
	}
}
