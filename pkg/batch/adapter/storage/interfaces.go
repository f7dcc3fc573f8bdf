// Package storage defines the blob storage abstractions used for uploaded files and job artifacts.
// Concrete backends (local file system, Google Cloud Storage) live in subpackages.
package storage

import (
	"context"
	"io"

	coreAdapter "github.com/tigerroll/importd/pkg/batch/core/adapter"
)

// StorageExecutor defines generic storage operations.
type StorageExecutor interface {
	// Upload writes data to the specified bucket and object name.
	Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error
	// Download opens the specified object. The caller must close the reader.
	// A missing object yields an error wrapping exception.ErrObjectNotFound.
	Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error)
	// ListObjects calls fn for each object name under prefix.
	ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error
	// DeleteObject deletes the specified object. Deleting a missing object is not an error.
	DeleteObject(ctx context.Context, bucket, objectName string) error
}

// StorageConnection represents a named storage connection.
type StorageConnection interface {
	coreAdapter.ResourceConnection
	StorageExecutor
}

// StorageProvider manages the connections of one storage type.
type StorageProvider interface {
	GetConnection(name string) (StorageConnection, error)
	CloseAll() error
	Type() string
}

// StorageConnectionResolver resolves storage connections by name.
type StorageConnectionResolver interface {
	coreAdapter.ResourceConnectionResolver
	ResolveStorageConnection(ctx context.Context, name string) (StorageConnection, error)
}

// StorageProviderGroup is the Fx group name used to collect StorageProvider implementations.
const StorageProviderGroup = "storage_providers"
