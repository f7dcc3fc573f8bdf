// Package mapping turns a raw tabular row into a structured product record
// according to a user-supplied column mapping.
package mapping

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	"github.com/tigerroll/importd/pkg/batch/support/util/exception"
)

// Recognized target field names.
const (
	FieldName          = "name"
	FieldProductCode   = "product_code"
	FieldDescription   = "description"
	FieldStatus        = "status"
	FieldCategory      = "category"
	FieldBrand         = "brand"
	FieldVendor        = "vendor"
	FieldQuantity      = "quantity"
	FieldAlertQuantity = "alert_quantity"
	FieldTax           = "tax"
	FieldIsFeatured    = "isFeatured"
	FieldImages        = "images"
	FieldKeywords      = "keywords"
	MetaPrefix         = "meta_"
)

// RequiredFields must be present in every mapping.
var RequiredFields = []string{FieldName, FieldProductCode}

// HeaderRows is the number of rows above the first data row.
const HeaderRows = 1

var imageURL = regexp.MustCompile(`(?i)^https?://\S+$`)

// Record is the structured form of one input row.
type Record struct {
	// RowIndex is the 1-based spreadsheet row number.
	RowIndex      int
	Name          string
	ProductCode   string
	Description   string
	Status        string
	Category      string
	Brand         string
	Vendor        string
	Quantity      float64
	AlertQuantity *float64
	Tax           *float64
	IsFeatured    bool
	Images        []string
	Keywords      []string
	Meta          map[string]interface{}
	// Raw holds the trimmed mapped cell values by field name.
	Raw map[string]string
}

// Data returns the raw values for an error log entry.
func (r Record) Data() map[string]interface{} {
	data := make(map[string]interface{}, len(r.Raw))
	for k, v := range r.Raw {
		data[k] = v
	}
	return data
}

// Validate fails with a MappingError when a required field is not mapped or an index is negative.
func Validate(m model.ColumnMapping) error {
	fields := m.Fields()
	var missing []string
	for _, f := range RequiredFields {
		if !fields[f] {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return exception.NewMappingError(fmt.Sprintf("missing required mappings: %s", strings.Join(missing, ", ")))
	}
	for idx := range m {
		if idx < 0 {
			return exception.NewMappingError(fmt.Sprintf("invalid column index %d", idx))
		}
	}
	return nil
}

// RowIndex converts a zero-based data row position to the spreadsheet row number.
func RowIndex(dataIndex int) int {
	return dataIndex + HeaderRows + 1
}

// Resolve applies m to row. Empty cells and indexes beyond the row are skipped;
// unknown field names are ignored.
func Resolve(m model.ColumnMapping, row []string, rowIndex int) Record {
	rec := Record{
		RowIndex: rowIndex,
		Meta:     map[string]interface{}{},
		Raw:      map[string]string{},
	}
	for _, idx := range m.Indexes() {
		if idx < 0 || idx >= len(row) {
			continue
		}
		value := strings.TrimSpace(row[idx])
		if value == "" {
			continue
		}
		field := m[idx]
		rec.Raw[field] = value
		rec.apply(field, value)
	}
	return rec
}

func (r *Record) apply(field, value string) {
	switch field {
	case FieldName:
		r.Name = value
	case FieldProductCode:
		r.ProductCode = value
	case FieldDescription:
		r.Description = value
	case FieldStatus:
		r.Status = value
	case FieldCategory:
		r.Category = value
	case FieldBrand:
		r.Brand = value
	case FieldVendor:
		r.Vendor = value
	case FieldQuantity:
		if f, ok := parseFloat(value); ok {
			r.Quantity = f
		}
	case FieldAlertQuantity:
		if f, ok := parseFloat(value); ok {
			r.AlertQuantity = &f
		}
	case FieldTax:
		if f, ok := parseFloat(value); ok {
			r.Tax = &f
		}
	case FieldIsFeatured:
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			r.IsFeatured = true
		}
	case FieldImages:
		r.Images = nil
		for _, part := range splitList(value) {
			if imageURL.MatchString(part) {
				r.Images = append(r.Images, part)
			}
		}
	case FieldKeywords:
		r.Keywords = splitList(value)
	default:
		if key := strings.TrimPrefix(field, MetaPrefix); key != field && key != "" {
			if f, ok := parseFloat(value); ok {
				r.Meta[key] = f
			} else {
				r.Meta[key] = value
			}
		}
	}
}

func parseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// MappedFields returns the field names of m in column order, for logging.
func MappedFields(m model.ColumnMapping) []string {
	out := make([]string, 0, len(m))
	for _, idx := range m.Indexes() {
		out = append(out, m[idx])
	}
	return out
}
