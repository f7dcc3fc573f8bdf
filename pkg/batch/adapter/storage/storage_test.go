package storage_test

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/importd/pkg/batch/adapter/storage"
	storageConfig "github.com/tigerroll/importd/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/importd/pkg/batch/adapter/storage/local"
	coreConfig "github.com/tigerroll/importd/pkg/batch/core/config"
)

func newStore(t *testing.T) (storage.BlobStore, storage.StorageConnection) {
	t.Helper()
	conn, err := local.NewLocalAdapter(storageConfig.StorageConfig{Type: local.ProviderType, BaseDir: t.TempDir()}, "test")
	require.NoError(t, err)
	return storage.NewBlobStore(conn, "bucket"), conn
}

func read(t *testing.T, store storage.BlobStore, objectPath string) string {
	t.Helper()
	rc, err := store.Get(context.Background(), objectPath)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestBlobStorePutGetDelete(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)

	require.NoError(t, store.Put(ctx, "imports/2026/01/a-products.csv", bytes.NewBufferString("name\nAnvil\n"), "text/csv"))
	assert.Equal(t, "name\nAnvil\n", read(t, store, "imports/2026/01/a-products.csv"))

	require.NoError(t, store.Put(ctx, "imports/2026/01/a-products.csv", bytes.NewBufferString("replaced"), "text/csv"))
	assert.Equal(t, "replaced", read(t, store, "imports/2026/01/a-products.csv"))

	require.NoError(t, store.Delete(ctx, "imports/2026/01/a-products.csv"))
	_, err := store.Get(ctx, "imports/2026/01/a-products.csv")
	require.Error(t, err)
	assert.True(t, storage.IsNotFound(err))

	// Deleting a missing object is not an error.
	assert.NoError(t, store.Delete(ctx, "imports/2026/01/a-products.csv"))
}

func TestBlobStoreDeletePrefix(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)

	for _, p := range []string{"results/job-1/entries.json", "results/job-1/nested/x.bin", "results/job-2/entries.json"} {
		require.NoError(t, store.Put(ctx, p, bytes.NewBufferString(p), "application/octet-stream"))
	}

	n, err := store.DeletePrefix(ctx, storage.ResultsPrefix("job-1"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, "results/job-2/entries.json", read(t, store, "results/job-2/entries.json"))

	n, err = store.DeletePrefix(ctx, storage.ReportsPrefix("job-1"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLocalAdapterRejectsEscapingPaths(t *testing.T) {
	_, conn := newStore(t)
	err := conn.Upload(context.Background(), "bucket", "../../etc/passwd", bytes.NewBufferString("x"), "text/plain")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside of BaseDir")
}

func TestLocalAdapterRequiresBaseDir(t *testing.T) {
	_, err := local.NewLocalAdapter(storageConfig.StorageConfig{Type: local.ProviderType}, "test")
	assert.Error(t, err)
}

func TestUploadPath(t *testing.T) {
	now := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "imports/2026/03/id-products.csv", storage.UploadPath(now, "id", "products.csv"))
	assert.Equal(t, "imports/2026/03/id-passwd", storage.UploadPath(now, "id", "../../etc/passwd"))
	assert.Equal(t, "imports/2026/03/id-my_file_1_.xlsx", storage.UploadPath(now, "id", `C:\tmp\my file (1).xlsx`))
	assert.Equal(t, "imports/2026/03/id-upload", storage.UploadPath(now, "id", "..."))
}

func TestConnectionResolver(t *testing.T) {
	cfg := coreConfig.NewConfig()
	cfg.Importd.Adapter.Storage = map[string]interface{}{
		"uploads": map[string]interface{}{"type": "local", "base_dir": t.TempDir()},
		"archive": map[string]interface{}{"type": "s3"},
	}
	resolver := storage.NewConnectionResolver(storage.ResolverParams{
		Providers: []storage.StorageProvider{local.NewLocalProvider(cfg)},
		Cfg:       cfg,
	})
	defer resolver.CloseAll()

	conn, err := resolver.ResolveStorageConnection(context.Background(), "uploads")
	require.NoError(t, err)
	assert.Equal(t, local.ProviderType, conn.Type())

	_, err = resolver.ResolveStorageConnection(context.Background(), "archive")
	assert.ErrorContains(t, err, "no storage provider")

	_, err = resolver.ResolveStorageConnection(context.Background(), "missing")
	assert.ErrorContains(t, err, "not found")
}
