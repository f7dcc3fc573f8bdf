package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/tigerroll/importd/pkg/batch/support/util/exception"
	"github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

// BlobStore stores opaque objects by path. Uploaded files and job artifacts go through it.
type BlobStore interface {
	Put(ctx context.Context, objectPath string, data io.Reader, contentType string) error
	Get(ctx context.Context, objectPath string) (io.ReadCloser, error)
	Delete(ctx context.Context, objectPath string) error
	// DeletePrefix deletes every object under prefix and returns how many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// ConnectionBlobStore implements BlobStore over a StorageConnection and a fixed bucket.
type ConnectionBlobStore struct {
	conn   StorageConnection
	bucket string
}

// NewBlobStore creates a BlobStore writing into bucket on conn.
func NewBlobStore(conn StorageConnection, bucket string) *ConnectionBlobStore {
	return &ConnectionBlobStore{conn: conn, bucket: bucket}
}

// Put implements BlobStore.
func (s *ConnectionBlobStore) Put(ctx context.Context, objectPath string, data io.Reader, contentType string) error {
	if err := s.conn.Upload(ctx, s.bucket, objectPath, data, contentType); err != nil {
		return errors.Wrapf(err, "put %s/%s", s.bucket, objectPath)
	}
	return nil
}

// Get implements BlobStore.
func (s *ConnectionBlobStore) Get(ctx context.Context, objectPath string) (io.ReadCloser, error) {
	rc, err := s.conn.Download(ctx, s.bucket, objectPath)
	if err != nil {
		return nil, errors.Wrapf(err, "get %s/%s", s.bucket, objectPath)
	}
	return rc, nil
}

// Delete implements BlobStore.
func (s *ConnectionBlobStore) Delete(ctx context.Context, objectPath string) error {
	return s.conn.DeleteObject(ctx, s.bucket, objectPath)
}

// DeletePrefix implements BlobStore.
func (s *ConnectionBlobStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	var names []string
	if err := s.conn.ListObjects(ctx, s.bucket, prefix, func(name string) error {
		names = append(names, name)
		return nil
	}); err != nil {
		return 0, err
	}
	deleted := 0
	for _, name := range names {
		if err := s.conn.DeleteObject(ctx, s.bucket, name); err != nil {
			return deleted, err
		}
		deleted++
	}
	logger.Debugf("Deleted %d object(s) under '%s'.", deleted, prefix)
	return deleted, nil
}

// IsNotFound reports whether err signals a missing object.
func IsNotFound(err error) bool {
	return errors.Is(err, exception.ErrObjectNotFound)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFileName reduces a client-supplied file name to a safe object name component.
func SanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "upload"
	}
	return name
}

// UploadPath returns the object path for a newly uploaded file: imports/<yyyy>/<mm>/<id>-<name>.
func UploadPath(now time.Time, id, fileName string) string {
	return fmt.Sprintf("imports/%04d/%02d/%s-%s", now.Year(), int(now.Month()), id, SanitizeFileName(fileName))
}

// ResultsPrefix returns the prefix of every artifact produced for a job.
func ResultsPrefix(jobID string) string {
	return "results/" + jobID + "/"
}

// ReportsPrefix returns the prefix of report artifacts produced for a job.
func ReportsPrefix(jobID string) string {
	return "reports/" + jobID + "/"
}
