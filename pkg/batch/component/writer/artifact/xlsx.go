package artifact

import (
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/xuri/excelize/v2"

	"github.com/tigerroll/importd/pkg/batch/support/util/exception"
)

// WriteXLSX streams headers and rows into a single-sheet workbook.
func WriteXLSX(w io.Writer, sheet string, headers []string, rows [][]interface{}) (err error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); cerr != nil {
			err = multierror.Append(err, cerr)
		}
	}()

	if sheet == "" {
		sheet = "Report"
	}
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return xlsxError("failed to name worksheet", err)
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return xlsxError("failed to open worksheet stream", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return xlsxError("failed to create header style", err)
	}
	header := make([]interface{}, len(headers))
	for i, h := range headers {
		header[i] = excelize.Cell{StyleID: bold, Value: h}
	}
	if err := sw.SetRow("A1", header); err != nil {
		return xlsxError("failed to write header row", err)
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return xlsxError("invalid cell coordinates", err)
		}
		if err := sw.SetRow(cell, derefCells(row)); err != nil {
			return xlsxError("failed to write row", err)
		}
	}
	if err := sw.Flush(); err != nil {
		return xlsxError("failed to flush worksheet", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return xlsxError("failed to write workbook", err)
	}
	return nil
}

// derefCells replaces nil pointers with empty cells and dereferences the rest.
func derefCells(row []interface{}) []interface{} {
	out := make([]interface{}, len(row))
	for i, v := range row {
		switch p := v.(type) {
		case *float64:
			if p != nil {
				out[i] = *p
			}
		case *int:
			if p != nil {
				out[i] = *p
			}
		case *int32:
			if p != nil {
				out[i] = *p
			}
		case *string:
			if p != nil {
				out[i] = *p
			}
		default:
			out[i] = v
		}
	}
	return out
}

func xlsxError(message string, err error) error {
	return exception.NewBatchError("artifact", message, err, false, false)
}
