package events

import (
	"github.com/rs/zerolog"
)

// LogSink writes each event as one structured log line.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "events").Logger()}
}

// Emit implements Sink. Failures log at warn, everything else at debug.
func (s *LogSink) Emit(e Event) {
	var ev *zerolog.Event
	switch e.Name {
	case LLMFailed:
		ev = s.logger.Warn()
	case LLMRateLimited:
		ev = s.logger.Info()
	default:
		ev = s.logger.Debug()
	}
	ev.Time("event_time", e.Timestamp).
		Str("trace_id", e.TraceID).
		Str("node", e.Node).
		Fields(e.Payload).
		Msg(e.Name)
}
