package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/presslane/edition-courier/internal/courier"
)

// Directory holds publications and recipients in process-local maps.
type Directory struct {
	mu           sync.RWMutex
	publications map[string]courier.Publication
	recipients   map[string]courier.Recipient
}

// NewDirectory creates an empty in-memory directory.
func NewDirectory() *Directory {
	return &Directory{
		publications: make(map[string]courier.Publication),
		recipients:   make(map[string]courier.Recipient),
	}
}

// ActivePublications returns active publications in stable id order.
func (d *Directory) ActivePublications(_ context.Context) ([]courier.Publication, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var pubs []courier.Publication
	for _, pub := range d.publications {
		if pub.Active {
			pubs = append(pubs, pub)
		}
	}
	sort.Slice(pubs, func(i, j int) bool { return pubs[i].ID < pubs[j].ID })
	return pubs, nil
}

// ListPublications returns every publication in stable id order.
func (d *Directory) ListPublications(_ context.Context) ([]courier.Publication, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	pubs := make([]courier.Publication, 0, len(d.publications))
	for _, pub := range d.publications {
		pubs = append(pubs, pub)
	}
	sort.Slice(pubs, func(i, j int) bool { return pubs[i].ID < pubs[j].ID })
	return pubs, nil
}

// GetPublication returns one publication, or courier.ErrNotFound.
func (d *Directory) GetPublication(_ context.Context, id string) (courier.Publication, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	pub, ok := d.publications[id]
	if !ok {
		return courier.Publication{}, courier.ErrNotFound
	}
	return pub, nil
}

// UpsertPublication inserts or replaces a publication.
func (d *Directory) UpsertPublication(_ context.Context, pub courier.Publication) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.publications[pub.ID] = pub
	return nil
}

// GetRecipient returns one recipient by address, or courier.ErrNotFound.
func (d *Directory) GetRecipient(_ context.Context, address string) (courier.Recipient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, ok := d.recipients[address]
	if !ok {
		return courier.Recipient{}, courier.ErrNotFound
	}
	return cloneRecipient(rec), nil
}

// ListRecipients returns every recipient in stable address order.
func (d *Directory) ListRecipients(_ context.Context) ([]courier.Recipient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	recs := make([]courier.Recipient, 0, len(d.recipients))
	for _, rec := range d.recipients {
		recs = append(recs, cloneRecipient(rec))
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Address < recs[j].Address })
	return recs, nil
}

// UpsertRecipient inserts or replaces a recipient and its preferences.
func (d *Directory) UpsertRecipient(_ context.Context, rec courier.Recipient) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.recipients[rec.Address] = cloneRecipient(rec)
	return nil
}

// RecordSend bumps the send counter and last-sent timestamp on the matching
// preference. Unknown addresses return courier.ErrNotFound; a recipient with
// no preference for the publication is left unchanged.
func (d *Directory) RecordSend(_ context.Context, address, publicationID string, sentAt time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.recipients[address]
	if !ok {
		return courier.ErrNotFound
	}
	for i := range rec.Preferences {
		if rec.Preferences[i].PublicationID == publicationID {
			rec.Preferences[i].SendCount++
			at := sentAt
			rec.Preferences[i].LastSentAt = &at
		}
	}
	d.recipients[address] = rec
	return nil
}

// cloneRecipient copies the preference slice so callers cannot mutate the
// stored state through a returned value.
func cloneRecipient(rec courier.Recipient) courier.Recipient {
	if rec.Preferences == nil {
		return rec
	}
	prefs := make([]courier.Preference, len(rec.Preferences))
	copy(prefs, rec.Preferences)
	rec.Preferences = prefs
	return rec
}
