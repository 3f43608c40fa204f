package courier

import (
	"context"
	"time"
)

// Registry persists processed-edition records for deduplication.
type Registry interface {
	IsProcessed(ctx context.Context, publicationID, editionKey string) (bool, error)
	GetProcessed(ctx context.Context, publicationID, editionKey string) (ProcessedEdition, error)
	MarkProcessed(ctx context.Context, rec ProcessedEdition) error
	CleanupOlderThan(ctx context.Context, horizon time.Duration) (int64, error)
}

// Directory persists publications and recipients.
type Directory interface {
	ActivePublications(ctx context.Context) ([]Publication, error)
	GetPublication(ctx context.Context, id string) (Publication, error)
	UpsertPublication(ctx context.Context, pub Publication) error
	ListPublications(ctx context.Context) ([]Publication, error)
	GetRecipient(ctx context.Context, address string) (Recipient, error)
	UpsertRecipient(ctx context.Context, rec Recipient) error
	ListRecipients(ctx context.Context) ([]Recipient, error)
	RecordSend(ctx context.Context, address, publicationID string, sentAt time.Time) error
}

// Source discovers and downloads editions from the publisher portal.
// LatestEdition returns ErrNoEdition when nothing new is available.
// Download returns the file bytes and the content type the portal reported.
type Source interface {
	Login(ctx context.Context) error
	LatestEdition(ctx context.Context, pub Publication) (Edition, error)
	Download(ctx context.Context, ed Edition) ([]byte, string, error)
}

// Archive stores edition documents long-term and doubles as a read-through
// cache for re-deliveries. Fetch returns ErrNotFound on a miss.
type Archive interface {
	Exists(ctx context.Context, pub Publication, ed Edition) (bool, error)
	Fetch(ctx context.Context, pub Publication, ed Edition) ([]byte, error)
	Store(ctx context.Context, pub Publication, ed Edition, payload Payload) (ArchiveLocation, error)
}

// Sender delivers one edition payload to one destination. Implementations
// must not leave a partially written artifact addressable after a failure.
type Sender interface {
	Channel() Channel
	Deliver(ctx context.Context, payload Payload, dest Destination) (DeliveryOutcome, error)
}

// Notifier renders one outbound message per batch run.
type Notifier interface {
	NotifyBatch(ctx context.Context, summary BatchSummary) error
}

// Hasher computes content digests for dedup/integrity metadata.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces batch run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
