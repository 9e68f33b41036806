package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCommandCompleted(t *testing.T) {
	c, err := New(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	c.CommandCompleted(0x8C, "success", 3*time.Millisecond)
	c.CommandCompleted(0x8C, "success", 4*time.Millisecond)
	c.CommandCompleted(0x81, "failure", time.Millisecond)

	if got := testutil.ToFloat64(c.commands.WithLabelValues("0x8C", "success")); got != 2 {
		t.Errorf("0x8C success = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(c.commands); got != 2 {
		t.Errorf("command series = %d, want 2", got)
	}
	if got := testutil.CollectAndCount(c.latency); got != 2 {
		t.Errorf("latency series = %d, want 2", got)
	}
}

func TestRetriesAndSessions(t *testing.T) {
	c, err := New(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	c.SendRetried()
	c.SendRetried()
	c.SessionEvent("established")
	c.SessionEvent("invalidated")

	if got := testutil.ToFloat64(c.retries); got != 2 {
		t.Errorf("retries = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.sessions.WithLabelValues("invalidated")); got != 1 {
		t.Errorf("invalidated = %v, want 1", got)
	}
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatalf("first New() error = %v", err)
	}
	if _, err := New(reg); err == nil {
		t.Error("second New() on the same registry succeeded, want error")
	}
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.CommandCompleted(0x8C, "success", time.Millisecond)
	c.SendRetried()
	c.SessionEvent("saved")
}
