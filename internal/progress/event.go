package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/presslane/edition-courier/internal/courier"
)

// Coarse results attached to terminal and delivery events.
const (
	ResultDelivered = "delivered"
	ResultSkipped   = "skipped"
	ResultFailed    = "failed"
	ResultOK        = "ok"
)

// Event captures one milestone while processing a publication.
type Event struct {
	// BatchID identifies the batch run the event belongs to.
	BatchID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage is the pipeline stage the publication entered or finished.
	Stage courier.Stage
	// Publication scopes the event to one publication id.
	Publication string
	// Edition optionally carries the edition key once one is known.
	Edition string
	// Channel is set on per-delivery events emitted during distribution.
	Channel courier.Channel
	// Result is the coarse outcome: delivered/skipped/failed on terminal
	// events, ok/failed on per-delivery and archive events.
	Result string
	// Bytes carries the downloaded size on fetch completion events.
	Bytes int64
	// Dur captures stage latency where the emitter measured one.
	Dur time.Duration
	// Note attaches low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.BatchID == "" {
		return errors.New("batch id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Publication == "" {
		return errors.New("publication is required")
	}
	switch e.Stage {
	case courier.StageDiscovering, courier.StageChecking, courier.StageFetching,
		courier.StageArchiving, courier.StageRecording:
	case courier.StageDistributing:
		if e.Channel != "" && e.Result == "" {
			return errors.New("delivery event requires a result")
		}
	case courier.StageDone, courier.StageFailed:
		if e.Result == "" {
			return errors.New("terminal event requires a result")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
