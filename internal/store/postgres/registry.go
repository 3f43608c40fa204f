package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/presslane/edition-courier/internal/courier"
)

// Registry implements courier.Registry on the processed_editions table.
type Registry struct {
	pool dbPool
}

// NewRegistryWithPool constructs a Registry from an existing pool.
func NewRegistryWithPool(pool dbPool) (*Registry, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Registry{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (r *Registry) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

// IsProcessed reports whether the edition has been fully processed. Rows
// from interrupted runs (no finalized_at yet) do not count, so a crashed
// batch is retried on the next run.
func (r *Registry) IsProcessed(ctx context.Context, publicationID, editionKey string) (bool, error) {
	query := `
SELECT EXISTS (
	SELECT 1 FROM processed_editions
	WHERE publication_id = $1 AND edition_key = $2 AND finalized_at IS NOT NULL
)`
	var processed bool
	if err := r.pool.QueryRow(ctx, query, publicationID, editionKey).Scan(&processed); err != nil {
		return false, fmt.Errorf("check processed edition: %w", err)
	}
	return processed, nil
}

// GetProcessed returns the registry row for the edition, or
// courier.ErrNotFound.
func (r *Registry) GetProcessed(ctx context.Context, publicationID, editionKey string) (courier.ProcessedEdition, error) {
	query := `
SELECT publication_id, edition_key, title, issue_number, published_on, origin,
	content_hash, archive_store, archive_path, byte_size,
	fetched_at, mailed_at, uploaded_at, archived_at, finalized_at
FROM processed_editions
WHERE publication_id = $1 AND edition_key = $2`
	var rec courier.ProcessedEdition
	err := r.pool.QueryRow(ctx, query, publicationID, editionKey).Scan(
		&rec.PublicationID,
		&rec.EditionKey,
		&rec.Title,
		&rec.IssueNumber,
		&rec.PublishedOn,
		&rec.Origin,
		&rec.ContentHash,
		&rec.ArchiveStore,
		&rec.ArchivePath,
		&rec.ByteSize,
		&rec.FetchedAt,
		&rec.MailedAt,
		&rec.UploadedAt,
		&rec.ArchivedAt,
		&rec.FinalizedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return courier.ProcessedEdition{}, courier.ErrNotFound
		}
		return courier.ProcessedEdition{}, fmt.Errorf("get processed edition: %w", err)
	}
	return rec, nil
}

// MarkProcessed upserts the registry row. Re-marking the same key updates
// fields in place; timestamps already recorded are never cleared by a later
// call that omits them.
func (r *Registry) MarkProcessed(ctx context.Context, rec courier.ProcessedEdition) error {
	if rec.PublicationID == "" || rec.EditionKey == "" {
		return fmt.Errorf("publication id and edition key are required")
	}
	query := `
INSERT INTO processed_editions (
	publication_id, edition_key, title, issue_number, published_on, origin,
	content_hash, archive_store, archive_path, byte_size,
	fetched_at, mailed_at, uploaded_at, archived_at, finalized_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
)
ON CONFLICT (publication_id, edition_key) DO UPDATE SET
	title = EXCLUDED.title,
	issue_number = EXCLUDED.issue_number,
	published_on = EXCLUDED.published_on,
	origin = EXCLUDED.origin,
	content_hash = EXCLUDED.content_hash,
	archive_store = EXCLUDED.archive_store,
	archive_path = EXCLUDED.archive_path,
	byte_size = EXCLUDED.byte_size,
	fetched_at = COALESCE(EXCLUDED.fetched_at, processed_editions.fetched_at),
	mailed_at = COALESCE(EXCLUDED.mailed_at, processed_editions.mailed_at),
	uploaded_at = COALESCE(EXCLUDED.uploaded_at, processed_editions.uploaded_at),
	archived_at = COALESCE(EXCLUDED.archived_at, processed_editions.archived_at),
	finalized_at = COALESCE(EXCLUDED.finalized_at, processed_editions.finalized_at)`

	args := []any{
		rec.PublicationID,
		rec.EditionKey,
		rec.Title,
		rec.IssueNumber,
		rec.PublishedOn,
		rec.Origin,
		rec.ContentHash,
		rec.ArchiveStore,
		rec.ArchivePath,
		rec.ByteSize,
		rec.FetchedAt,
		rec.MailedAt,
		rec.UploadedAt,
		rec.ArchivedAt,
		rec.FinalizedAt,
	}
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert processed edition: %w", err)
	}
	return nil
}

// CleanupOlderThan purges registry rows fetched before the horizon. Archived
// bytes are never touched.
func (r *Registry) CleanupOlderThan(ctx context.Context, horizon time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-horizon)
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM processed_editions WHERE fetched_at IS NOT NULL AND fetched_at < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup processed editions: %w", err)
	}
	return tag.RowsAffected(), nil
}
