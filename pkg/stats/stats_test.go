package stats

import (
	"testing"
)

func gaugeValue(t *testing.T, c *Collector, name string) float64 {
	t.Helper()
	mfs, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == "shift_"+name {
			return mf.Metric[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric shift_%s not found", name)
	return 0
}

func TestSetCounts(t *testing.T) {
	c := New()
	c.SetCounts(3, 5, 2)
	if v := gaugeValue(t, c, "sessions"); v != 3 {
		t.Errorf("sessions = %v, want 3", v)
	}
	if v := gaugeValue(t, c, "clients"); v != 5 {
		t.Errorf("clients = %v, want 5", v)
	}
	if v := gaugeValue(t, c, "monitors"); v != 2 {
		t.Errorf("monitors = %v, want 2", v)
	}
}

func TestNilCollectorIsNoOp(t *testing.T) {
	var c *Collector
	c.SetCounts(1, 1, 1)
	c.IncBufferRequests()
	c.IncBufferAcks()
	c.IncBufferReleases()
	c.IncPageFlips()
	c.IncFatalErrors()
	if c.Registry() != nil {
		t.Errorf("nil Collector Registry() = non-nil")
	}
}
