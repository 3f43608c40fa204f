package progress

import "context"

// Sink consumes progress events one at a time, in pipeline order.
// Implementations must be safe for repeated calls and honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, evt Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Broadcaster satisfies this interface
// so the pipeline stays agnostic about where events end up.
type Emitter interface {
	Emit(ctx context.Context, evt Event)
}
