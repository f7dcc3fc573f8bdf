package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Params is the type-specific payload of a job. The concrete type always matches Job.Type.
type Params interface {
	JobType() JobType
	isParams()
}

// ColumnMapping maps a zero-based source column index to a target field name.
// In JSON the keys are column-index strings: {"0":"name","1":"product_code"}.
type ColumnMapping map[int]string

// Fields returns the mapped field names.
func (m ColumnMapping) Fields() map[string]bool {
	fields := make(map[string]bool, len(m))
	for _, f := range m {
		fields[f] = true
	}
	return fields
}

// Indexes returns the mapped column indexes in ascending order.
func (m ColumnMapping) Indexes() []int {
	idx := make([]int, 0, len(m))
	for i := range m {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

// UnmarshalJSON rejects keys that are not column indexes and drops empty field names.
func (m *ColumnMapping) UnmarshalJSON(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(ColumnMapping, len(raw))
	for k, v := range raw {
		i, err := strconv.Atoi(k)
		if err != nil {
			return fmt.Errorf("mapping key %q is not a column index", k)
		}
		if v == "" {
			continue
		}
		out[i] = v
	}
	*m = out
	return nil
}

// BulkImportParams are the params of a bulk-import job.
type BulkImportParams struct {
	FilePath         string        `json:"filePath"`
	OriginalFileName string        `json:"originalFileName"`
	Mapping          ColumnMapping `json:"mapping"`
	// DefaultBrand is applied to rows that do not map a brand.
	DefaultBrand string `json:"defaultBrand,omitempty"`
}

func (*BulkImportParams) JobType() JobType { return JobTypeBulkImport }
func (*BulkImportParams) isParams()        {}

// ReportType identifies a report of a report-generation job.
type ReportType string

const (
	ReportTypeProducts  ReportType = "products"
	ReportTypeJobErrors ReportType = "job-errors"
)

// ReportFormat identifies the artifact encoding of a report.
type ReportFormat string

const (
	ReportFormatXLSX    ReportFormat = "xlsx"
	ReportFormatParquet ReportFormat = "parquet"
	ReportFormatJSON    ReportFormat = "json"
)

// IsValid reports whether f is a supported format.
func (f ReportFormat) IsValid() bool {
	return f == ReportFormatXLSX || f == ReportFormatParquet || f == ReportFormatJSON
}

// ReportGenerationParams are the params of a report-generation job.
type ReportGenerationParams struct {
	ReportType ReportType        `json:"reportType"`
	Format     ReportFormat      `json:"format"`
	Filters    map[string]string `json:"filters,omitempty"`
}

func (*ReportGenerationParams) JobType() JobType { return JobTypeReportGeneration }
func (*ReportGenerationParams) isParams()        {}

// EncodeParams serializes params for storage.
func EncodeParams(p Params) ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

// DecodeParams deserializes stored params into the variant selected by t.
func DecodeParams(t JobType, raw []byte) (Params, error) {
	var p Params
	switch t {
	case JobTypeBulkImport:
		p = &BulkImportParams{}
	case JobTypeReportGeneration:
		p = &ReportGenerationParams{}
	default:
		return nil, fmt.Errorf("unknown job type %q", t)
	}
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode %s params: %w", t, err)
	}
	return p, nil
}
