package progress

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/presslane/edition-courier/internal/courier"
)

type captureSink struct {
	events []Event
	err    error
	closed bool
}

func (c *captureSink) Consume(_ context.Context, evt Event) error {
	c.events = append(c.events, evt)
	return c.err
}

func (c *captureSink) Close(context.Context) error {
	c.closed = true
	return nil
}

func validEvent(stage courier.Stage) Event {
	evt := Event{
		BatchID:     "batch-1",
		TS:          time.Now().UTC(),
		Stage:       stage,
		Publication: "gazette",
	}
	if stage == courier.StageDone {
		evt.Result = ResultDelivered
	}
	if stage == courier.StageFailed {
		evt.Result = ResultFailed
	}
	return evt
}

func TestBroadcasterDeliversInOrder(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	b := NewBroadcaster(zap.NewNop(), sink)
	ctx := context.Background()

	b.Emit(ctx, validEvent(courier.StageDiscovering))
	b.Emit(ctx, validEvent(courier.StageFetching))
	b.Emit(ctx, validEvent(courier.StageDone))

	require.Len(t, sink.events, 3)
	require.Equal(t, courier.StageDiscovering, sink.events[0].Stage)
	require.Equal(t, courier.StageFetching, sink.events[1].Stage)
	require.Equal(t, courier.StageDone, sink.events[2].Stage)
}

func TestBroadcasterDropsInvalidEvent(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	b := NewBroadcaster(zap.NewNop(), sink)

	b.Emit(context.Background(), Event{Stage: courier.StageDiscovering})

	require.Empty(t, sink.events)
}

func TestBroadcasterSurvivesSinkFailure(t *testing.T) {
	t.Parallel()

	failing := &captureSink{err: fmt.Errorf("sink broken")}
	healthy := &captureSink{}
	b := NewBroadcaster(zap.NewNop(), failing, healthy)

	b.Emit(context.Background(), validEvent(courier.StageDiscovering))

	require.Len(t, failing.events, 1)
	require.Len(t, healthy.events, 1, "a failing sink must not starve the others")
}

func TestBroadcasterClose(t *testing.T) {
	t.Parallel()

	first := &captureSink{}
	second := &captureSink{}
	b := NewBroadcaster(zap.NewNop(), first, second)

	require.NoError(t, b.Close(context.Background()))
	require.True(t, first.closed)
	require.True(t, second.closed)
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*Event)
		wantErr string
	}{
		{"valid", func(e *Event) {}, ""},
		{"missing batch", func(e *Event) { e.BatchID = "" }, "batch id"},
		{"missing timestamp", func(e *Event) { e.TS = time.Time{} }, "timestamp"},
		{"missing publication", func(e *Event) { e.Publication = "" }, "publication"},
		{"unknown stage", func(e *Event) { e.Stage = "teleporting" }, "unknown stage"},
		{"negative duration", func(e *Event) { e.Dur = -time.Second }, "duration"},
		{"delivery without result", func(e *Event) {
			e.Stage = courier.StageDistributing
			e.Channel = courier.ChannelMail
			e.Result = ""
		}, "requires a result"},
		{"terminal without result", func(e *Event) {
			e.Stage = courier.StageDone
			e.Result = ""
		}, "requires a result"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			evt := validEvent(courier.StageDiscovering)
			tc.mutate(&evt)
			err := evt.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
