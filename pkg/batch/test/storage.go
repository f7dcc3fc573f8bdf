package test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tigerroll/importd/pkg/batch/adapter/storage"
	storageConfig "github.com/tigerroll/importd/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/importd/pkg/batch/adapter/storage/local"
)

// TestBucket is the bucket used by NewLocalBlobStore.
const TestBucket = "importd-test"

// NewLocalBlobStore returns a BlobStore on a local adapter rooted in the test's temp dir.
func NewLocalBlobStore(t testing.TB) storage.BlobStore {
	t.Helper()
	conn, err := local.NewLocalAdapter(storageConfig.StorageConfig{Type: local.ProviderType, BaseDir: t.TempDir()}, "test")
	require.NoError(t, err)
	return storage.NewBlobStore(conn, TestBucket)
}

// PutObject stores data at objectPath.
func PutObject(t testing.TB, store storage.BlobStore, objectPath string, data []byte) {
	t.Helper()
	require.NoError(t, store.Put(context.Background(), objectPath, bytes.NewReader(data), "application/octet-stream"))
}

// ReadObject returns the content stored at objectPath.
func ReadObject(t testing.TB, store storage.BlobStore, objectPath string) []byte {
	t.Helper()
	rc, err := store.Get(context.Background(), objectPath)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}
