// Package artifact renders job output (successful entries and reports) and stores it in the blob store.
package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/tigerroll/importd/pkg/batch/adapter/storage"
	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	"github.com/tigerroll/importd/pkg/batch/support/util/exception"
	"github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

// SuccessfulEntriesFile is the object name of the successful-entries artifact under a job's results prefix.
const SuccessfulEntriesFile = "successful-entries.json"

// Dataset is a typed row set renderable in every report format.
type Dataset[T any] struct {
	// Sheet names the worksheet of the xlsx rendering.
	Sheet   string
	Columns []string
	// Cells flattens one item into cells matching Columns.
	Cells func(T) []interface{}
	Items []T
	// Compression is the Parquet codec name; empty means SNAPPY.
	Compression string
}

// Extension returns the file extension of format.
func Extension(format model.ReportFormat) string {
	return string(format)
}

// ContentType returns the MIME type of format.
func ContentType(format model.ReportFormat) string {
	switch format {
	case model.ReportFormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case model.ReportFormatParquet:
		return "application/vnd.apache.parquet"
	default:
		return "application/json"
	}
}

// ContentTypeForPath guesses the MIME type of a stored artifact from its extension.
func ContentTypeForPath(objectPath string) string {
	for _, f := range []model.ReportFormat{model.ReportFormatXLSX, model.ReportFormatParquet} {
		if strings.HasSuffix(objectPath, "."+Extension(f)) {
			return ContentType(f)
		}
	}
	return ContentType(model.ReportFormatJSON)
}

// ReportPath returns the object path of a job's report artifact.
func ReportPath(jobID string, format model.ReportFormat) string {
	return storage.ReportsPrefix(jobID) + "report." + Extension(format)
}

// SuccessfulEntriesPath returns the object path of a job's successful-entries artifact.
func SuccessfulEntriesPath(jobID string) string {
	return storage.ResultsPrefix(jobID) + SuccessfulEntriesFile
}

// Encode renders ds in format into w.
func Encode[T any](w io.Writer, format model.ReportFormat, ds Dataset[T]) error {
	switch format {
	case model.ReportFormatJSON:
		return WriteJSON(w, ds.Items)
	case model.ReportFormatXLSX:
		rows := make([][]interface{}, 0, len(ds.Items))
		for _, item := range ds.Items {
			rows = append(rows, ds.Cells(item))
		}
		return WriteXLSX(w, ds.Sheet, ds.Columns, rows)
	case model.ReportFormatParquet:
		name := ds.Compression
		if name == "" {
			name = "SNAPPY"
		}
		codec, err := CompressionCodec(name)
		if err != nil {
			return parquetError("invalid Parquet compression", err)
		}
		return WriteParquet(w, ds.Items, codec)
	default:
		return fmt.Errorf("unsupported report format %q", format)
	}
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return exception.NewBatchError("artifact", "failed to encode JSON artifact", err, false, false)
	}
	return nil
}

// Store renders ds and uploads it to objectPath.
func Store[T any](ctx context.Context, store storage.BlobStore, objectPath string, format model.ReportFormat, ds Dataset[T]) error {
	buf := new(bytes.Buffer)
	if err := Encode(buf, format, ds); err != nil {
		return err
	}
	return put(ctx, store, objectPath, buf, ContentType(format))
}

// StoreSuccessfulEntries uploads the successful-entries artifact of a job and returns its path.
func StoreSuccessfulEntries(ctx context.Context, store storage.BlobStore, jobID string, entries []model.SuccessfulEntry) (string, error) {
	if entries == nil {
		entries = []model.SuccessfulEntry{}
	}
	buf := new(bytes.Buffer)
	if err := WriteJSON(buf, entries); err != nil {
		return "", err
	}
	objectPath := SuccessfulEntriesPath(jobID)
	if err := put(ctx, store, objectPath, buf, ContentType(model.ReportFormatJSON)); err != nil {
		return "", err
	}
	return objectPath, nil
}

func put(ctx context.Context, store storage.BlobStore, objectPath string, buf *bytes.Buffer, contentType string) error {
	size := buf.Len()
	if err := store.Put(ctx, objectPath, buf, contentType); err != nil {
		return exception.NewStorageError(fmt.Sprintf("failed to upload artifact %s", objectPath), err, true)
	}
	logger.Infof("Uploaded artifact %s (%d bytes).", objectPath, size)
	return nil
}
