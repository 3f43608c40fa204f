package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/presslane/edition-courier/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is useful
// during development or audits where no metrics backend is available.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs the event using structured fields.
func (s *LogSink) Consume(_ context.Context, evt progress.Event) error {
	fields := []zap.Field{
		zap.String("batch_id", evt.BatchID),
		zap.String("stage", string(evt.Stage)),
		zap.String("publication", evt.Publication),
	}
	if evt.Edition != "" {
		fields = append(fields, zap.String("edition", evt.Edition))
	}
	if evt.Channel != "" {
		fields = append(fields, zap.String("channel", string(evt.Channel)))
	}
	if evt.Result != "" {
		fields = append(fields, zap.String("result", evt.Result))
	}
	if evt.Bytes > 0 {
		fields = append(fields, zap.Int64("bytes", evt.Bytes))
	}
	if evt.Dur > 0 {
		fields = append(fields, zap.Duration("dur", evt.Dur))
	}
	if evt.Note != "" {
		fields = append(fields, zap.String("note", evt.Note))
	}
	s.logger.Info("progress event", fields...)
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
