package events

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink turns events into call counters and latency histograms.
type PrometheusSink struct {
	events   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewPrometheusSink registers the storyqa LLM metrics on reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	s := &PrometheusSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storyqa",
			Subsystem: "llm",
			Name:      "events_total",
			Help:      "LLM call lifecycle events by event name and pipeline node.",
		}, []string{"event", "node"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "storyqa",
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "Duration of individual LLM call attempts.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"node", "outcome"}),
	}
	for _, c := range []prometheus.Collector{s.events, s.duration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register llm metrics: %w", err)
		}
	}
	return s, nil
}

// Emit implements Sink.
func (s *PrometheusSink) Emit(e Event) {
	s.events.WithLabelValues(e.Name, e.Node).Inc()

	var outcome string
	switch e.Name {
	case LLMSuccess:
		outcome = "success"
	case LLMRateLimited:
		outcome = "rate_limited"
	case LLMFailed:
		outcome = "failed"
	default:
		return
	}
	ms, ok := e.Payload[KeyElapsedMS].(int64)
	if !ok {
		return
	}
	s.duration.WithLabelValues(e.Node, outcome).Observe(float64(ms) / 1000)
}
