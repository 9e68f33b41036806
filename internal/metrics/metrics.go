// Package metrics provides Prometheus instrumentation for the command
// scheduler: completed commands by opcode and status, command latency,
// transport send retries and shielded session events.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// Namespace is the Prometheus namespace for all driver metrics
	Namespace = "trustm"

	// Label names
	LabelOpcode = "opcode"
	LabelStatus = "status"
	LabelEvent  = "event"
)

// Collector records scheduler activity. The zero value is not usable; call
// New. A nil *Collector records nothing.
type Collector struct {
	commands *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	retries  prometheus.Counter
	sessions *prometheus.CounterVec
}

// New creates the collector's metrics and registers them with reg. Pass
// prometheus.NewRegistry() in tests to keep them isolated.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "commands_total",
				Help:      "Completed commands by opcode and status",
			},
			[]string{LabelOpcode, LabelStatus},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "command_duration_seconds",
				Help:      "Time from submit to completion",
				Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{LabelOpcode},
		),
		retries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "send_retries_total",
				Help:      "Transport sends that were retried",
			},
		),
		sessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "session",
				Name:      "events_total",
				Help:      "Shielded session events (established, invalidated, saved, restored)",
			},
			[]string{LabelEvent},
		),
	}

	for _, col := range []prometheus.Collector{c.commands, c.latency, c.retries, c.sessions} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return c, nil
}

// CommandCompleted records one finished command.
func (c *Collector) CommandCompleted(opcode byte, status string, elapsed time.Duration) {
	if c == nil {
		return
	}
	op := fmt.Sprintf("0x%02X", opcode)
	c.commands.WithLabelValues(op, status).Inc()
	c.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// SendRetried records one retried transport send.
func (c *Collector) SendRetried() {
	if c == nil {
		return
	}
	c.retries.Inc()
}

// SessionEvent records a shielded session transition.
func (c *Collector) SessionEvent(event string) {
	if c == nil {
		return
	}
	c.sessions.WithLabelValues(event).Inc()
}
