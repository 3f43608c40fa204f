package progress

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

const defaultSinkTimeout = 5 * time.Second

// Broadcaster fans each event out to the registered sinks synchronously. A
// sink failure is logged and never surfaces to the pipeline; observability
// problems must not fail deliveries.
type Broadcaster struct {
	sinks       []Sink
	logger      *zap.Logger
	sinkTimeout time.Duration
}

// NewBroadcaster wires the sinks. A nil logger falls back to a nop logger.
func NewBroadcaster(logger *zap.Logger, sinks ...Sink) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		sinks:       append([]Sink(nil), sinks...),
		logger:      logger.Named("progress"),
		sinkTimeout: defaultSinkTimeout,
	}
}

// Emit validates the event and hands it to every sink in order. Invalid
// events are dropped with a warning since they indicate an emitter bug, not
// a pipeline failure.
func (b *Broadcaster) Emit(ctx context.Context, evt Event) {
	if err := evt.Validate(); err != nil {
		b.logger.Warn("dropping invalid progress event",
			zap.String("stage", string(evt.Stage)),
			zap.String("publication", evt.Publication),
			zap.Error(err))
		return
	}
	for _, sink := range b.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, b.sinkTimeout)
		if err := sink.Consume(sinkCtx, evt); err != nil {
			b.logger.Warn("progress sink failed",
				zap.String("stage", string(evt.Stage)),
				zap.String("publication", evt.Publication),
				zap.Error(err))
		}
		cancel()
	}
}

// Close closes every sink and joins their errors.
func (b *Broadcaster) Close(ctx context.Context) error {
	var errs []error
	for _, sink := range b.sinks {
		if err := sink.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
