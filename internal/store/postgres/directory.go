package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/presslane/edition-courier/internal/courier"
)

// Directory implements courier.Directory on the publications and recipients
// tables. Recipient preferences are stored as a JSONB document per row.
type Directory struct {
	pool dbPool
}

// NewDirectoryWithPool constructs a Directory from an existing pool.
func NewDirectoryWithPool(pool dbPool) (*Directory, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Directory{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (d *Directory) Close() {
	if d == nil || d.pool == nil {
		return
	}
	d.pool.Close()
}

const publicationColumns = `id, name, active, mail_enabled, drive_enabled, folder_path, year_folders, created_at, updated_at`

func scanPublication(row pgx.Row) (courier.Publication, error) {
	var pub courier.Publication
	err := row.Scan(
		&pub.ID,
		&pub.Name,
		&pub.Active,
		&pub.MailEnabled,
		&pub.DriveEnabled,
		&pub.FolderPath,
		&pub.YearFolders,
		&pub.CreatedAt,
		&pub.UpdatedAt,
	)
	return pub, err
}

// ActivePublications lists publications eligible for batch processing, in
// stable id order.
func (d *Directory) ActivePublications(ctx context.Context) ([]courier.Publication, error) {
	query := `SELECT ` + publicationColumns + ` FROM publications WHERE active ORDER BY id`
	rows, err := d.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active publications: %w", err)
	}
	defer rows.Close()

	var pubs []courier.Publication
	for rows.Next() {
		pub, err := scanPublication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan publication row: %w", err)
		}
		pubs = append(pubs, pub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate publications: %w", err)
	}
	return pubs, nil
}

// ListPublications lists all publications, active or not, in stable id
// order.
func (d *Directory) ListPublications(ctx context.Context) ([]courier.Publication, error) {
	query := `SELECT ` + publicationColumns + ` FROM publications ORDER BY id`
	rows, err := d.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list publications: %w", err)
	}
	defer rows.Close()

	var pubs []courier.Publication
	for rows.Next() {
		pub, err := scanPublication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan publication row: %w", err)
		}
		pubs = append(pubs, pub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate publications: %w", err)
	}
	return pubs, nil
}

// GetPublication returns one publication, or courier.ErrNotFound.
func (d *Directory) GetPublication(ctx context.Context, id string) (courier.Publication, error) {
	query := `SELECT ` + publicationColumns + ` FROM publications WHERE id = $1`
	pub, err := scanPublication(d.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return courier.Publication{}, courier.ErrNotFound
		}
		return courier.Publication{}, fmt.Errorf("get publication: %w", err)
	}
	return pub, nil
}

// UpsertPublication inserts or updates a publication. Publications are never
// deleted, only deactivated.
func (d *Directory) UpsertPublication(ctx context.Context, pub courier.Publication) error {
	if pub.ID == "" {
		return fmt.Errorf("publication id is required")
	}
	query := `
INSERT INTO publications (id, name, active, mail_enabled, drive_enabled, folder_path, year_folders, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	active = EXCLUDED.active,
	mail_enabled = EXCLUDED.mail_enabled,
	drive_enabled = EXCLUDED.drive_enabled,
	folder_path = EXCLUDED.folder_path,
	year_folders = EXCLUDED.year_folders,
	updated_at = EXCLUDED.updated_at`
	args := []any{
		pub.ID,
		pub.Name,
		pub.Active,
		pub.MailEnabled,
		pub.DriveEnabled,
		pub.FolderPath,
		pub.YearFolders,
		pub.CreatedAt,
		pub.UpdatedAt,
	}
	if _, err := d.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert publication: %w", err)
	}
	return nil
}

// GetRecipient returns one recipient with preferences, or
// courier.ErrNotFound.
func (d *Directory) GetRecipient(ctx context.Context, address string) (courier.Recipient, error) {
	query := `SELECT address, name, active, preferences FROM recipients WHERE address = $1`
	rec, err := scanRecipient(d.pool.QueryRow(ctx, query, address))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return courier.Recipient{}, courier.ErrNotFound
		}
		return courier.Recipient{}, fmt.Errorf("get recipient: %w", err)
	}
	return rec, nil
}

// ListRecipients lists all recipients in stable address order.
func (d *Directory) ListRecipients(ctx context.Context) ([]courier.Recipient, error) {
	query := `SELECT address, name, active, preferences FROM recipients ORDER BY address`
	rows, err := d.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	var recs []courier.Recipient
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recipient row: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipients: %w", err)
	}
	return recs, nil
}

// UpsertRecipient inserts or updates a recipient and its preference
// document.
func (d *Directory) UpsertRecipient(ctx context.Context, rec courier.Recipient) error {
	if rec.Address == "" {
		return fmt.Errorf("recipient address is required")
	}
	prefs := rec.Preferences
	if prefs == nil {
		prefs = []courier.Preference{}
	}
	prefsJSON, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}
	query := `
INSERT INTO recipients (address, name, active, preferences, updated_at)
VALUES ($1,$2,$3,$4,now())
ON CONFLICT (address) DO UPDATE SET
	name = EXCLUDED.name,
	active = EXCLUDED.active,
	preferences = EXCLUDED.preferences,
	updated_at = now()`
	if _, err := d.pool.Exec(ctx, query, rec.Address, rec.Name, rec.Active, prefsJSON); err != nil {
		return fmt.Errorf("upsert recipient: %w", err)
	}
	return nil
}

// RecordSend bumps the send counter and last-sent timestamp inside the
// recipient's preference entry for the publication. A single statement keeps
// the document update atomic.
func (d *Directory) RecordSend(ctx context.Context, address, publicationID string, sentAt time.Time) error {
	query := `
UPDATE recipients SET
	preferences = COALESCE((
		SELECT jsonb_agg(
			CASE WHEN pref->>'publication_id' = $2 THEN
				jsonb_set(
					jsonb_set(pref, '{send_count}', to_jsonb(COALESCE((pref->>'send_count')::int, 0) + 1)),
					'{last_sent_at}', to_jsonb($3::timestamptz))
			ELSE pref END)
		FROM jsonb_array_elements(COALESCE(preferences, '[]'::jsonb)) AS pref
	), '[]'::jsonb),
	updated_at = now()
WHERE address = $1`
	tag, err := d.pool.Exec(ctx, query, address, publicationID, sentAt)
	if err != nil {
		return fmt.Errorf("record send: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return courier.ErrNotFound
	}
	return nil
}

func scanRecipient(row pgx.Row) (courier.Recipient, error) {
	var rec courier.Recipient
	var prefsJSON []byte
	if err := row.Scan(&rec.Address, &rec.Name, &rec.Active, &prefsJSON); err != nil {
		return courier.Recipient{}, err
	}
	if len(prefsJSON) > 0 {
		if err := json.Unmarshal(prefsJSON, &rec.Preferences); err != nil {
			return courier.Recipient{}, fmt.Errorf("unmarshal preferences: %w", err)
		}
	}
	return rec, nil
}
