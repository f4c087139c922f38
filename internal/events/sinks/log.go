package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/creator-suite/internal/events"
)

// LogSink writes each notification as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event; failures are logged at error level.
func (s *LogSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.String("stage", string(evt.Stage)),
			zap.String("job_type", string(evt.JobType)),
			zap.String("handle", evt.Handle),
			zap.Duration("dur", evt.Dur),
		}
		switch evt.Level() {
		case events.LevelError:
			s.logger.Error(evt.Message, fields...)
		case events.LevelSuccess:
			s.logger.Info(evt.Message, fields...)
		default:
			s.logger.Debug("job event", append(fields, zap.String("message", evt.Message))...)
		}
	}
	return nil
}

// Close implements events.Sink; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
