// Package tabular decodes uploaded CSV and XLSX files into a header row plus data rows.
package tabular

import (
	"bytes"
	"encoding/csv"
	"io"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/tigerroll/importd/pkg/batch/support/util/exception"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Table is a decoded file. Rows exclude the header and every all-blank row.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Column is a non-empty header cell and its zero-based index.
type Column struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

// PreviewResult is the first rows of a file together with its mappable columns.
type PreviewResult struct {
	Headers     []string   `json:"headers"`
	Columns     []Column   `json:"columns"`
	PreviewRows [][]string `json:"previewRows"`
	TotalRows   int        `json:"totalRows"`
}

// Format is the decoding strategy selected by file extension.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// DetectFormat selects the format for filename, or returns false for unsupported extensions.
func DetectFormat(filename string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".txt":
		return FormatCSV, true
	case ".xlsx", ".xlsm":
		return FormatXLSX, true
	default:
		return "", false
	}
}

// SupportedFormat is DetectFormat returning a ParseError for files that cannot be decoded.
// Legacy .xls workbooks get a message of their own.
func SupportedFormat(filename string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == ".xls" {
		return "", exception.NewParseError("legacy Excel 97-2003 workbooks (.xls) are not supported; save the file as .xlsx", nil)
	}
	format, ok := DetectFormat(filename)
	if !ok {
		return "", exception.NewParseError("unsupported file type: "+filepath.Ext(filename), nil)
	}
	return format, nil
}

// Parse decodes data according to the extension of filename.
// It returns a ParseError when the file is unreadable or has no rows at all.
// A file with a header and no data rows is a valid Table.
func Parse(data []byte, filename string) (*Table, error) {
	format, err := SupportedFormat(filename)
	if err != nil {
		return nil, err
	}

	var records [][]string
	switch format {
	case FormatCSV:
		records, err = readCSV(data)
	case FormatXLSX:
		records, err = readXLSX(data)
	}
	if err != nil {
		return nil, exception.NewParseError("failed to parse "+string(format)+" file", err)
	}

	records = dropBlankRows(records)
	if len(records) == 0 {
		return nil, exception.NewParseError("file contains no rows", nil)
	}

	headers := make([]string, len(records[0]))
	for i, h := range records[0] {
		headers[i] = strings.TrimSpace(h)
	}
	return &Table{Headers: headers, Rows: records[1:]}, nil
}

// Preview parses data and returns the headers plus at most n data rows.
func Preview(data []byte, filename string, n int) (*PreviewResult, error) {
	table, err := Parse(data, filename)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		n = 0
	}
	rows := table.Rows
	if len(rows) > n {
		rows = rows[:n]
	}
	columns := make([]Column, 0, len(table.Headers))
	for i, h := range table.Headers {
		if h != "" {
			columns = append(columns, Column{Index: i, Name: h})
		}
	}
	return &PreviewResult{
		Headers:     table.Headers,
		Columns:     columns,
		PreviewRows: rows,
		TotalRows:   len(table.Rows),
	}, nil
}

func readCSV(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	var records [][]string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "csv record %d", len(records)+1)
		}
		records = append(records, record)
	}
	return records, nil
}

func dropBlankRows(records [][]string) [][]string {
	out := records[:0]
	for _, rec := range records {
		for _, cell := range rec {
			if strings.TrimSpace(cell) != "" {
				out = append(out, rec)
				break
			}
		}
	}
	return out
}
