// Package slack posts batch summaries to a Slack incoming webhook.
package slack

import (
	"context"
	"fmt"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/presslane/edition-courier/internal/courier"
)

// maxFailureLines caps how many per-publication failures one message lists.
const maxFailureLines = 10

// Config controls the Slack notifier.
type Config struct {
	WebhookURL string
}

// Notifier implements courier.Notifier over an incoming webhook.
type Notifier struct {
	cfg    Config
	logger *zap.Logger
}

// New builds the Slack notifier.
func New(cfg Config, logger *zap.Logger) (*Notifier, error) {
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("slack webhook url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{cfg: cfg, logger: logger.Named("slack")}, nil
}

// NotifyBatch posts one message describing the whole batch.
func (n *Notifier) NotifyBatch(ctx context.Context, summary courier.BatchSummary) error {
	msg := buildMessage(summary)
	if err := slack.PostWebhookContext(ctx, n.cfg.WebhookURL, msg); err != nil {
		return fmt.Errorf("post slack webhook: %w", err)
	}
	n.logger.Debug("batch summary posted", zap.String("batch_id", summary.BatchID))
	return nil
}

func buildMessage(summary courier.BatchSummary) *slack.WebhookMessage {
	duration := summary.FinishedAt.Sub(summary.StartedAt).Round(time.Second)

	headline := fmt.Sprintf(
		"*Edition batch* `%s`\nProcessed %d publications in %s: *%d* delivered, *%d* skipped, *%d* failed.",
		summary.BatchID, summary.Processed, duration, summary.Succeeded, summary.Skipped, summary.Failed,
	)
	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject("mrkdwn", headline, false, false), nil, nil),
	}

	var failureLines int
	for _, result := range summary.Results {
		if result.Success || failureLines >= maxFailureLines {
			continue
		}
		line := fmt.Sprintf("• `%s` failed at %s: %s", result.PublicationID, result.FailedStage, result.ErrorText)
		blocks = append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject("mrkdwn", line, false, false)))
		failureLines++
	}
	if summary.Failed > maxFailureLines {
		blocks = append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("…and %d more failures.", summary.Failed-maxFailureLines), false, false)))
	}

	if summary.Halted {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", fmt.Sprintf(":octagonal_sign: Batch halted: %s", summary.HaltReason), false, false),
			nil, nil))
	}

	return &slack.WebhookMessage{
		Text: fmt.Sprintf("Edition batch %s: %d delivered, %d skipped, %d failed",
			summary.BatchID, summary.Succeeded, summary.Skipped, summary.Failed),
		Blocks: &slack.Blocks{BlockSet: blocks},
	}
}
