// Package gcs provides a Google Cloud Storage implementation of the storage adapter interfaces.
package gcs

import (
	"context"
	"fmt"
	"io"
	"sync"

	gcstorage "cloud.google.com/go/storage"
	"github.com/cockroachdb/errors"
	"go.uber.org/fx"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	storageAdapter "github.com/tigerroll/importd/pkg/batch/adapter/storage"
	storageConfig "github.com/tigerroll/importd/pkg/batch/adapter/storage/config"
	coreConfig "github.com/tigerroll/importd/pkg/batch/core/config"
	"github.com/tigerroll/importd/pkg/batch/support/util/exception"
	"github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

// ProviderType defines the type identifier for this provider.
const ProviderType = "gcs"

type gcsAdapter struct {
	client *gcstorage.Client
	cfg    storageConfig.StorageConfig
	name   string
}

var _ storageAdapter.StorageConnection = (*gcsAdapter)(nil)

// ClientOptions builds the client options for cfg.
func ClientOptions(cfg storageConfig.StorageConfig) []option.ClientOption {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
		if cfg.CredentialsFile == "" {
			opts = append(opts, option.WithoutAuthentication())
		}
	}
	return opts
}

// NewGCSAdapter creates a client for cfg.
func NewGCSAdapter(ctx context.Context, cfg storageConfig.StorageConfig, name string) (storageAdapter.StorageConnection, error) {
	client, err := gcstorage.NewClient(ctx, ClientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("gcs storage adapter '%s': failed to create client: %w", name, err)
	}
	return &gcsAdapter{client: client, cfg: cfg, name: name}, nil
}

func (a *gcsAdapter) Close() error { return a.client.Close() }

func (a *gcsAdapter) Type() string { return ProviderType }

func (a *gcsAdapter) Name() string { return a.name }

func (a *gcsAdapter) bucket(bucket string) *gcstorage.BucketHandle {
	if bucket == "" {
		bucket = a.cfg.BucketName
	}
	return a.client.Bucket(bucket)
}

// Upload streams data into the object. The object becomes visible only when the writer closes.
func (a *gcsAdapter) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	w := a.bucket(bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, data); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write object '%s': %w", objectName, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize object '%s': %w", objectName, err)
	}
	logger.Debugf("Uploaded object '%s' (gcs adapter '%s').", objectName, a.name)
	return nil
}

// Download opens a reader on the object.
func (a *gcsAdapter) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	r, err := a.bucket(bucket).Object(objectName).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcstorage.ErrObjectNotExist) {
			return nil, errors.Wrapf(exception.ErrObjectNotFound, "object '%s'", objectName)
		}
		return nil, fmt.Errorf("failed to open object '%s': %w", objectName, err)
	}
	return r, nil
}

// ListObjects iterates the objects under prefix.
func (a *gcsAdapter) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	it := a.bucket(bucket).Objects(ctx, &gcstorage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to list objects with prefix '%s': %w", prefix, err)
		}
		if err := fn(attrs.Name); err != nil {
			return err
		}
	}
}

// DeleteObject deletes the object; a missing object is not an error.
func (a *gcsAdapter) DeleteObject(ctx context.Context, bucket, objectName string) error {
	err := a.bucket(bucket).Object(objectName).Delete(ctx)
	if err != nil && !errors.Is(err, gcstorage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete object '%s': %w", objectName, err)
	}
	return nil
}

// GCSProvider implements storage.StorageProvider for Google Cloud Storage.
type GCSProvider struct {
	cfg         *coreConfig.Config
	connections map[string]storageAdapter.StorageConnection
	mu          sync.Mutex
}

// NewGCSProvider creates a new GCSProvider.
func NewGCSProvider(cfg *coreConfig.Config) storageAdapter.StorageProvider {
	return &GCSProvider{cfg: cfg, connections: make(map[string]storageAdapter.StorageConnection)}
}

// GetConnection returns the named client connection, creating it on first use.
func (p *GCSProvider) GetConnection(name string) (storageAdapter.StorageConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok := p.connections[name]; ok {
		return conn, nil
	}
	sc, err := storageAdapter.DecodeStorageConfig(p.cfg, name)
	if err != nil {
		return nil, err
	}
	if sc.Type != ProviderType {
		return nil, fmt.Errorf("storage config type mismatch for '%s': expected '%s', got '%s'", name, ProviderType, sc.Type)
	}
	conn, err := NewGCSAdapter(context.Background(), sc, name)
	if err != nil {
		return nil, err
	}
	p.connections[name] = conn
	logger.Infof("Created GCS storage connection '%s' (bucket '%s').", name, sc.BucketName)
	return conn, nil
}

// CloseAll closes every client.
func (p *GCSProvider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var lastErr error
	for name, conn := range p.connections {
		if err := conn.Close(); err != nil {
			logger.Warnf("Failed to close GCS connection '%s': %v", name, err)
			lastErr = err
		}
		delete(p.connections, name)
	}
	return lastErr
}

// Type returns "gcs".
func (p *GCSProvider) Type() string { return ProviderType }

// Module provides the GCSProvider to the storage_providers group.
var Module = fx.Provide(fx.Annotate(
	NewGCSProvider,
	fx.ResultTags(`group:"`+storageAdapter.StorageProviderGroup+`"`),
))
