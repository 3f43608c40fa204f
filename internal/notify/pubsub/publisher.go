// Package pubsub publishes batch summaries to a Google Cloud Pub/Sub topic
// so downstream systems can react to courier runs.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/presslane/edition-courier/internal/courier"
)

// Config controls the Pub/Sub notifier.
type Config struct {
	ProjectID string
	TopicID   string
}

// Publisher implements courier.Notifier over a Pub/Sub topic.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *zap.Logger
}

// New creates a Pub/Sub client with Application Default Credentials and a
// handle to the configured topic.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Publisher, error) {
	if cfg.ProjectID == "" || cfg.TopicID == "" {
		return nil, fmt.Errorf("pubsub project id and topic id are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return NewWithTopic(client, client.Topic(cfg.TopicID), logger), nil
}

// NewWithTopic wraps an existing client and topic. Tests use it with the
// in-process Pub/Sub fake.
func NewWithTopic(client *pubsub.Client, topic *pubsub.Topic, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{client: client, topic: topic, logger: logger.Named("pubsub")}
}

// NotifyBatch publishes the summary as JSON. Attributes carry the headline
// counts so subscribers can filter without decoding the body.
func (p *Publisher) NotifyBatch(ctx context.Context, summary courier.BatchSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal batch summary: %w", err)
	}

	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"batch_id":  summary.BatchID,
			"processed": strconv.Itoa(summary.Processed),
			"succeeded": strconv.Itoa(summary.Succeeded),
			"failed":    strconv.Itoa(summary.Failed),
			"halted":    strconv.FormatBool(summary.Halted),
		},
	}

	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return fmt.Errorf("publish batch summary: %w", err)
	}
	p.logger.Debug("batch summary published",
		zap.String("batch_id", summary.BatchID),
		zap.String("message_id", id))
	return nil
}

// Close flushes the topic and releases the client.
func (p *Publisher) Close() error {
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
