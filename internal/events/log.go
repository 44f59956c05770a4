package events

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dusk-indust/papercast/internal/orchestrator"
)

var _ orchestrator.EventSink = (*LogSink)(nil)

// LogSink writes events to a zap logger. Per-segment events go to debug,
// failures to warn, everything else to info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink. A nil logger discards events.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("events")}
}

// Emit logs ev.
func (s *LogSink) Emit(ev orchestrator.Event) {
	fields := []zap.Field{
		zap.String("job_id", ev.JobID),
		zap.Stringer("stage", ev.Stage),
	}
	if ev.Segment > 0 {
		fields = append(fields, zap.Int("segment", ev.Segment), zap.String("status", string(ev.Status)))
	}
	if ev.Total > 0 {
		fields = append(fields, zap.Int("completed", ev.Completed), zap.Int("total", ev.Total))
	}
	if ev.Message != "" {
		fields = append(fields, zap.String("message", ev.Message))
	}
	if ce := s.logger.Check(level(ev.Kind), string(ev.Kind)); ce != nil {
		ce.Write(fields...)
	}
}

func level(kind orchestrator.EventKind) zapcore.Level {
	switch kind {
	case orchestrator.EventSegmentDone:
		return zapcore.DebugLevel
	case orchestrator.EventStageFailed:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
