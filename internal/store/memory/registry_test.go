package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/presslane/edition-courier/internal/courier"
)

func TestIsProcessedRequiresFinalized(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	ctx := context.Background()

	fetched := time.Now().UTC()
	err := registry.MarkProcessed(ctx, courier.ProcessedEdition{
		PublicationID: "gazette",
		EditionKey:    "1042_gazette",
		FetchedAt:     &fetched,
	})
	require.NoError(t, err)

	processed, err := registry.IsProcessed(ctx, "gazette", "1042_gazette")
	require.NoError(t, err)
	require.False(t, processed, "edition without finalized_at should not count as processed")

	finalized := time.Now().UTC()
	err = registry.MarkProcessed(ctx, courier.ProcessedEdition{
		PublicationID: "gazette",
		EditionKey:    "1042_gazette",
		FinalizedAt:   &finalized,
	})
	require.NoError(t, err)

	processed, err = registry.IsProcessed(ctx, "gazette", "1042_gazette")
	require.NoError(t, err)
	require.True(t, processed)
}

func TestMarkProcessedKeepsEarlierTimestamps(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	ctx := context.Background()

	fetched := time.Date(2025, 3, 15, 6, 0, 0, 0, time.UTC)
	mailed := time.Date(2025, 3, 15, 6, 1, 0, 0, time.UTC)

	require.NoError(t, registry.MarkProcessed(ctx, courier.ProcessedEdition{
		PublicationID: "gazette",
		EditionKey:    "1042_gazette",
		FetchedAt:     &fetched,
	}))
	require.NoError(t, registry.MarkProcessed(ctx, courier.ProcessedEdition{
		PublicationID: "gazette",
		EditionKey:    "1042_gazette",
		MailedAt:      &mailed,
	}))

	rec, err := registry.GetProcessed(ctx, "gazette", "1042_gazette")
	require.NoError(t, err)
	require.NotNil(t, rec.FetchedAt)
	require.True(t, rec.FetchedAt.Equal(fetched), "fetched_at lost on re-mark")
	require.NotNil(t, rec.MailedAt)
	require.True(t, rec.MailedAt.Equal(mailed))
}

func TestGetProcessedMissing(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()

	_, err := registry.GetProcessed(context.Background(), "gazette", "missing")
	require.ErrorIs(t, err, courier.ErrNotFound)
}

func TestCleanupOlderThan(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	ctx := context.Background()

	old := time.Now().UTC().Add(-120 * 24 * time.Hour)
	recent := time.Now().UTC()

	require.NoError(t, registry.MarkProcessed(ctx, courier.ProcessedEdition{
		PublicationID: "gazette", EditionKey: "old", FetchedAt: &old,
	}))
	require.NoError(t, registry.MarkProcessed(ctx, courier.ProcessedEdition{
		PublicationID: "gazette", EditionKey: "recent", FetchedAt: &recent,
	}))

	purged, err := registry.CleanupOlderThan(ctx, 90*24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), purged)
	require.Equal(t, 1, registry.Len())
}
