// Package metrics exposes Prometheus collectors for the playback engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder aggregates the engine's Prometheus collectors. A nil Recorder
// is valid and records nothing, so library consumers can opt out.
type Recorder struct {
	commands    *prometheus.CounterVec
	transitions *prometheus.CounterVec
	queueDepth  prometheus.Gauge
}

// Command outcomes recorded by ObserveCommand.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

// NewRecorder creates the collectors and registers them with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "halcyon",
			Subsystem: "engine",
			Name:      "commands_total",
			Help:      "Transport commands by kind and outcome.",
		}, []string{"kind", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "halcyon",
			Subsystem: "engine",
			Name:      "state_transitions_total",
			Help:      "Engine state transitions by source and target state.",
		}, []string{"from", "to"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "halcyon",
			Subsystem: "engine",
			Name:      "command_queue_depth",
			Help:      "Number of queued, not yet started commands.",
		}),
	}
	reg.MustRegister(r.commands, r.transitions, r.queueDepth)
	return r
}

// ObserveCommand counts one finished command.
func (r *Recorder) ObserveCommand(kind, outcome string) {
	if r == nil {
		return
	}
	r.commands.WithLabelValues(kind, outcome).Inc()
}

// ObserveTransition counts one state transition.
func (r *Recorder) ObserveTransition(from, to string) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(from, to).Inc()
}

// SetQueueDepth records the current pending-command count.
func (r *Recorder) SetQueueDepth(depth int) {
	if r == nil {
		return
	}
	r.queueDepth.Set(float64(depth))
}
