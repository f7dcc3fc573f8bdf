package artifact

import (
	"fmt"
	"io"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/tigerroll/importd/pkg/batch/support/util/exception"
	"github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

// WriteParquet writes items as one Parquet file. The schema is reflected from the
// parquet tags of T.
func WriteParquet[T any](w io.Writer, items []T, codec parquet.CompressionCodec) (err error) {
	pw, err := writer.NewParquetWriter(writerfile.NewWriterFile(w), new(T), 1)
	if err != nil {
		return parquetError("failed to create Parquet writer", err)
	}
	pw.CompressionType = codec

	for i, item := range items {
		if werr := pw.Write(item); werr != nil {
			err = multierror.Append(err, parquetError(fmt.Sprintf("failed to write item %d", i), werr))
			break
		}
	}

	// WriteStop panics on some malformed schemas.
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Recovered from panic during Parquet WriteStop: %v", r)
			err = multierror.Append(err, parquetError("Parquet writer panicked during WriteStop", fmt.Errorf("%v", r)))
		}
	}()
	if serr := pw.WriteStop(); serr != nil {
		err = multierror.Append(err, parquetError("failed to finalize Parquet file", serr))
	}
	return err
}

// CompressionCodec parses a codec name. An empty name means uncompressed.
func CompressionCodec(name string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(name) {
	case "SNAPPY":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE", "":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported compression type: %s", name)
	}
}

func parquetError(message string, err error) error {
	return exception.NewBatchError("artifact", message, err, false, false)
}
