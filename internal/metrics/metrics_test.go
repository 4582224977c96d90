package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/doughall/taskd/internal/schedule"
)

func TestCollector_RecordsRegistryEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector failed: %v", err)
	}

	c.JobRegistered(schedule.KindAt)
	c.JobRegistered(schedule.KindExpression)
	c.JobRegistered(schedule.KindExpression)
	c.JobRemoved()
	c.ActivationFinished(20*time.Millisecond, nil)
	c.ActivationFinished(time.Second, errors.New("boom"))

	if got := testutil.ToFloat64(c.jobs); got != 2 {
		t.Errorf("jobs = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.registrations.WithLabelValues(schedule.KindExpression.String())); got != 2 {
		t.Errorf("expression registrations = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.removals); got != 1 {
		t.Errorf("removals = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.activations.WithLabelValues("error")); got != 1 {
		t.Errorf("failed activations = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(c.duration); got != 1 {
		t.Errorf("duration series = %d, want 1", got)
	}
}

func TestNewCollector_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewCollector(reg); err != nil {
		t.Fatalf("first NewCollector failed: %v", err)
	}
	if _, err := NewCollector(reg); err == nil {
		t.Error("expected error registering twice")
	}
}
