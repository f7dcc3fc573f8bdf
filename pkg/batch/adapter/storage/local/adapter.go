// Package local provides a local file system implementation of the storage adapter interfaces.
package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/fx"

	storageAdapter "github.com/tigerroll/importd/pkg/batch/adapter/storage"
	storageConfig "github.com/tigerroll/importd/pkg/batch/adapter/storage/config"
	coreConfig "github.com/tigerroll/importd/pkg/batch/core/config"
	"github.com/tigerroll/importd/pkg/batch/support/util/exception"
	"github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

const (
	// ProviderType defines the type identifier for this local storage provider.
	ProviderType = "local"
)

// localAdapter implements the storage.StorageConnection interface for local file system operations.
type localAdapter struct {
	cfg  storageConfig.StorageConfig
	name string
}

var _ storageAdapter.StorageConnection = (*localAdapter)(nil)

// NewLocalAdapter creates a new localAdapter instance.
// It validates the BaseDir configuration and creates it if it doesn't exist.
func NewLocalAdapter(cfg storageConfig.StorageConfig, name string) (storageAdapter.StorageConnection, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("local storage adapter '%s': BaseDir must be specified in configuration", name)
	}
	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("local storage adapter '%s': failed to stat BaseDir '%s': %w", name, cfg.BaseDir, err)
		}
		if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
			return nil, fmt.Errorf("local storage adapter '%s': failed to create BaseDir '%s': %w", name, cfg.BaseDir, err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("local storage adapter '%s': BaseDir '%s' is not a directory", name, cfg.BaseDir)
	}

	return &localAdapter{cfg: cfg, name: name}, nil
}

// Close does nothing for the local file system adapter.
func (a *localAdapter) Close() error {
	logger.Debugf("Local storage adapter '%s' closed.", a.name)
	return nil
}

func (a *localAdapter) Type() string { return ProviderType }

func (a *localAdapter) Name() string { return a.name }

// Upload writes to a temporary sibling file and renames it into place, so readers
// never observe a partially written object.
func (a *localAdapter) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	fullPath, err := a.resolvePath(bucket, objectName)
	if err != nil {
		return fmt.Errorf("failed to resolve path for upload: %w", err)
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory '%s': %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in '%s': %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, readerWithContext(ctx, data)); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write data to file '%s': %w", fullPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close file '%s': %w", fullPath, err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move file into '%s': %w", fullPath, err)
	}
	logger.Debugf("Uploaded data to '%s' (local adapter '%s').", fullPath, a.name)
	return nil
}

// Download opens the object file. The returned io.ReadCloser must be closed by the caller.
func (a *localAdapter) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	fullPath, err := a.resolvePath(bucket, objectName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path for download: %w", err)
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(exception.ErrObjectNotFound, "object '%s' (%v)", objectName, err)
		}
		return nil, fmt.Errorf("failed to open file '%s': %w", fullPath, err)
	}
	return file, nil
}

// ListObjects walks the bucket directory and calls fn for each object under prefix.
// Object names are slash-separated and relative to the bucket.
func (a *localAdapter) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	basePath, err := a.resolvePath(bucket, "")
	if err != nil {
		return fmt.Errorf("failed to resolve base path for listing: %w", err)
	}
	if _, err := os.Stat(basePath); os.IsNotExist(err) {
		return nil
	}

	err = filepath.WalkDir(basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		objectName, err := filepath.Rel(basePath, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path for '%s' from '%s': %w", path, basePath, err)
		}
		objectName = filepath.ToSlash(objectName)
		if !strings.HasPrefix(objectName, prefix) {
			return nil
		}
		return fn(objectName)
	})
	if err != nil {
		return fmt.Errorf("failed to list objects in '%s' with prefix '%s': %w", basePath, prefix, err)
	}
	return nil
}

// DeleteObject deletes the specified object. A missing object only logs a warning.
func (a *localAdapter) DeleteObject(ctx context.Context, bucket, objectName string) error {
	fullPath, err := a.resolvePath(bucket, objectName)
	if err != nil {
		return fmt.Errorf("failed to resolve path for delete: %w", err)
	}

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			logger.Warnf("Attempted to delete non-existent object '%s' (local adapter '%s').", fullPath, a.name)
			return nil
		}
		return fmt.Errorf("failed to delete file '%s': %w", fullPath, err)
	}
	logger.Debugf("Deleted object '%s' (local adapter '%s').", fullPath, a.name)
	return nil
}

// resolvePath resolves the full path of an object below BaseDir/bucket.
// It rejects paths that would escape BaseDir.
func (a *localAdapter) resolvePath(bucket, objectName string) (string, error) {
	if bucket == "" {
		bucket = a.cfg.BucketName
	}
	fullPath := filepath.Join(a.cfg.BaseDir, bucket, filepath.FromSlash(objectName))

	absBaseDir, err := filepath.Abs(a.cfg.BaseDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for BaseDir '%s': %w", a.cfg.BaseDir, err)
	}
	absFullPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for '%s': %w", fullPath, err)
	}
	if absFullPath != absBaseDir && !strings.HasPrefix(absFullPath, absBaseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("resolved path '%s' is outside of BaseDir '%s'", fullPath, a.cfg.BaseDir)
	}
	return fullPath, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}

// LocalProvider implements storage.StorageProvider for local file system connections.
type LocalProvider struct {
	cfg         *coreConfig.Config
	connections map[string]storageAdapter.StorageConnection
	mu          sync.RWMutex
}

// NewLocalProvider creates a new LocalProvider instance.
func NewLocalProvider(cfg *coreConfig.Config) storageAdapter.StorageProvider {
	return &LocalProvider{
		cfg:         cfg,
		connections: make(map[string]storageAdapter.StorageConnection),
	}
}

// GetConnection retrieves the named connection, creating it on first use.
func (p *LocalProvider) GetConnection(name string) (storageAdapter.StorageConnection, error) {
	p.mu.RLock()
	conn, ok := p.connections[name]
	p.mu.RUnlock()
	if ok {
		return conn, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok = p.connections[name]; ok {
		return conn, nil
	}

	storageCfg, err := storageAdapter.DecodeStorageConfig(p.cfg, name)
	if err != nil {
		return nil, err
	}
	if storageCfg.Type != ProviderType {
		return nil, fmt.Errorf("storage config type mismatch for '%s': expected '%s', got '%s'", name, ProviderType, storageCfg.Type)
	}

	newConn, err := NewLocalAdapter(storageCfg, name)
	if err != nil {
		return nil, err
	}
	p.connections[name] = newConn
	logger.Debugf("Created new local storage connection '%s'.", name)
	return newConn, nil
}

// CloseAll closes all connections managed by this provider.
func (p *LocalProvider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, conn := range p.connections {
		_ = conn.Close()
		delete(p.connections, name)
	}
	return nil
}

// Type returns "local".
func (p *LocalProvider) Type() string {
	return ProviderType
}

// Module provides the LocalProvider to the storage_providers group.
var Module = fx.Provide(fx.Annotate(
	NewLocalProvider,
	fx.ResultTags(`group:"`+storageAdapter.StorageProviderGroup+`"`),
))
