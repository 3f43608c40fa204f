// Package local_test tests the local filesystem archive backend.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presslane/edition-courier/internal/archive/local"
	"github.com/presslane/edition-courier/internal/courier"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		tempDir := t.TempDir()
		cfg := local.Config{BaseDir: tempDir}
		store, err := local.New(cfg)
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		cfg := local.Config{}
		_, err := local.New(cfg)
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		tempFile, err := os.CreateTemp("", "testfile")
		require.NoError(t, err)
		t.Cleanup(func() {
			removeErr := os.Remove(tempFile.Name())
			if removeErr != nil && !os.IsNotExist(removeErr) {
				t.Fatalf("failed to remove temp file: %v", removeErr)
			}
		})

		cfg := local.Config{BaseDir: tempFile.Name()}
		_, err = local.New(cfg)
		assert.Error(t, err)
	})
}

func TestPutGetExists(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)

	t.Run("RoundTrip", func(t *testing.T) {
		path := "2025/gazette/gazette-1042.pdf"
		data := []byte("edition bytes")

		uri, err := store.Put(context.Background(), path, "application/pdf", data, nil)
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(tempDir, path), uri)

		exists, err := store.Exists(context.Background(), path)
		require.NoError(t, err)
		assert.True(t, exists)

		got, err := store.Get(context.Background(), path)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("MissReturnsNotFound", func(t *testing.T) {
		_, err := store.Get(context.Background(), "2030/none/missing.pdf")
		assert.ErrorIs(t, err, courier.ErrNotFound)

		exists, err := store.Exists(context.Background(), "2030/none/missing.pdf")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.Put(context.Background(), "", "application/pdf", []byte("data"), nil)
		assert.Error(t, err)
	})

	t.Run("TraversalRejected", func(t *testing.T) {
		_, err := store.Put(context.Background(), "../escape.pdf", "application/pdf", []byte("data"), nil)
		assert.Error(t, err)
	})
}
