// Package notify reports batch outcomes to the configured channels. A batch
// produces exactly one notification per channel regardless of how many
// publications it touched.
package notify

import (
	"context"
	"errors"

	"github.com/presslane/edition-courier/internal/courier"
)

// Fanout sends one summary to every configured notifier. A failing notifier
// does not stop the others; the errors are joined for the caller to log.
type Fanout []courier.Notifier

// NotifyBatch implements courier.Notifier.
func (f Fanout) NotifyBatch(ctx context.Context, summary courier.BatchSummary) error {
	var errs []error
	for _, n := range f {
		if err := n.NotifyBatch(ctx, summary); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
