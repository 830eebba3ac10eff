package threadmetrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/threadcore/node/internal/threadmetrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := threadmetrics.NewCollector(reg)

	if c.Neighbors == nil {
		t.Error("Neighbors is nil")
	}
	if c.FramesSent == nil {
		t.Error("FramesSent is nil")
	}
	if c.FramesReceived == nil {
		t.Error("FramesReceived is nil")
	}
	if c.FramesDropped == nil {
		t.Error("FramesDropped is nil")
	}
	if c.RoleTransitions == nil {
		t.Error("RoleTransitions is nil")
	}
	if c.KeySequenceRollovers == nil {
		t.Error("KeySequenceRollovers is nil")
	}

	// Verify all metrics are registered by gathering them; registration
	// must not panic even with no data recorded yet.
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
}

func TestNeighborGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := threadmetrics.NewCollector(reg)

	c.SetNeighborCount("child", 3)
	if val := gaugeValue(t, c.Neighbors, "child"); val != 3 {
		t.Errorf("Neighbors(child) = %v, want 3", val)
	}

	c.SetNeighborCount("router", 1)
	if val := gaugeValue(t, c.Neighbors, "router"); val != 1 {
		t.Errorf("Neighbors(router) = %v, want 1", val)
	}

	c.SetNeighborCount("child", 2)
	if val := gaugeValue(t, c.Neighbors, "child"); val != 2 {
		t.Errorf("Neighbors(child) after update = %v, want 2", val)
	}
}

func TestFrameCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := threadmetrics.NewCollector(reg)

	c.IncFramesSent("data")
	c.IncFramesSent("data")
	c.IncFramesSent("command")

	if val := counterValue(t, c.FramesSent, "data"); val != 2 {
		t.Errorf("FramesSent(data) = %v, want 2", val)
	}
	if val := counterValue(t, c.FramesSent, "command"); val != 1 {
		t.Errorf("FramesSent(command) = %v, want 1", val)
	}

	c.IncFramesReceived("data")
	if val := counterValue(t, c.FramesReceived, "data"); val != 1 {
		t.Errorf("FramesReceived(data) = %v, want 1", val)
	}

	c.IncFramesDropped("no_route")
	c.IncFramesDropped("no_route")
	c.IncFramesDropped("mpl_duplicate")

	if val := counterValue(t, c.FramesDropped, "no_route"); val != 2 {
		t.Errorf("FramesDropped(no_route) = %v, want 2", val)
	}
	if val := counterValue(t, c.FramesDropped, "mpl_duplicate"); val != 1 {
		t.Errorf("FramesDropped(mpl_duplicate) = %v, want 1", val)
	}
}

func TestRoleTransitions(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := threadmetrics.NewCollector(reg)

	c.RecordRoleTransition("Detached", "Child")
	c.RecordRoleTransition("Child", "Router")
	c.RecordRoleTransition("Detached", "Child")

	if val := counterValue(t, c.RoleTransitions, "Detached", "Child"); val != 2 {
		t.Errorf("RoleTransitions(Detached->Child) = %v, want 2", val)
	}
	if val := counterValue(t, c.RoleTransitions, "Child", "Router"); val != 1 {
		t.Errorf("RoleTransitions(Child->Router) = %v, want 1", val)
	}
}

func TestKeySequenceRollovers(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := threadmetrics.NewCollector(reg)

	c.IncKeySequenceRollovers()
	c.IncKeySequenceRollovers()

	m := &dto.Metric{}
	if err := c.KeySequenceRollovers.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	if got := m.GetCounter().GetValue(); got != 2 {
		t.Errorf("KeySequenceRollovers = %v, want 2", got)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

// gaugeValue reads the current value of a GaugeVec with the given labels.
func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()

	gauge, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := gauge.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetGauge().GetValue()
}

// counterValue reads the current value of a CounterVec with the given labels.
func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}
