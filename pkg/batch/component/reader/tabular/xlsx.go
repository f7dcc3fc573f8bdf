package tabular

import (
	"bytes"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/xuri/excelize/v2"

	"github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

const (
	isoDate   = "2006-01-02"
	clockTime = "15:04:05"
)

// literalText matches quoted literals and bracketed sections ([Red], [$-409]) of a number format.
var literalText = regexp.MustCompile(`"[^"]*"|\[[^\]]*\]|\\.`)

type numFmtKind int

const (
	kindNumber numFmtKind = iota
	kindDate
	kindTime
)

// builtInFormatKind classifies the built-in number format id.
func builtInFormatKind(id int) numFmtKind {
	switch {
	case (id >= 18 && id <= 21) || (id >= 45 && id <= 47):
		return kindTime
	case (id >= 14 && id <= 17) || id == 22 || (id >= 27 && id <= 36) || (id >= 50 && id <= 58):
		return kindDate
	default:
		return kindNumber
	}
}

// formatCodeKind classifies a custom number format. An "m" next to an hour or
// second token means minutes, so a code with only h, m and s tokens is a time.
func formatCodeKind(code string) numFmtKind {
	code = strings.ToLower(literalText.ReplaceAllString(code, ""))
	code = strings.NewReplacer("am/pm", "", "a/p", "").Replace(code)
	switch {
	case strings.ContainsAny(code, "yd"):
		return kindDate
	case strings.ContainsAny(code, "hs"):
		return kindTime
	case strings.Contains(code, "m"):
		return kindDate
	default:
		return kindNumber
	}
}

// xlsxSheet reads the first worksheet of a workbook.
type xlsxSheet struct {
	f        *excelize.File
	sheet    string
	date1904 bool
	styles   map[int]numFmtKind
}

func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "open workbook")
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			logger.Warnf("Failed to close workbook: %v", cerr)
		}
	}()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("no sheets in workbook")
	}
	s := &xlsxSheet{f: f, sheet: sheets[0], styles: map[int]numFmtKind{}}
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		s.date1904 = *props.Date1904
	}
	return s.records()
}

func (s *xlsxSheet) records() ([][]string, error) {
	rows, err := s.f.Rows(s.sheet)
	if err != nil {
		return nil, errors.Wrapf(err, "read sheet %q", s.sheet)
	}
	defer rows.Close()

	var records [][]string
	rowNum := 0
	for rows.Next() {
		rowNum++
		cols, err := rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, errors.Wrapf(err, "read row %d", rowNum)
		}
		record := make([]string, len(cols))
		for i, raw := range cols {
			record[i] = s.cellString(i+1, rowNum, raw)
		}
		records = append(records, record)
	}
	if err := rows.Error(); err != nil {
		return nil, errors.Wrapf(err, "iterate sheet %q", s.sheet)
	}
	return records, nil
}

// cellString converts a raw cell value to its string form. Date-formatted numbers
// become YYYY-MM-DD, time-formatted ones HH:MM:SS, and other numbers keep their
// shortest decimal representation.
func (s *xlsxSheet) cellString(col, row int, raw string) string {
	if raw == "" {
		return ""
	}
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return raw
	}

	cellType, err := s.f.GetCellType(s.sheet, cell)
	if err != nil {
		return raw
	}
	switch cellType {
	case excelize.CellTypeDate:
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t.Format(isoDate)
		}
		if len(raw) >= len(isoDate) {
			return raw[:len(isoDate)]
		}
		return raw
	case excelize.CellTypeNumber, excelize.CellTypeUnset:
	default:
		return raw
	}

	num, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return raw
	}
	switch s.cellKind(cell) {
	case kindDate:
		if t, err := excelize.ExcelDateToTime(num, s.date1904); err == nil {
			return t.Format(isoDate)
		}
	case kindTime:
		// Only the day fraction matters; whole days of elapsed-time formats wrap.
		secs := int64(math.Round((num-math.Floor(num))*86400)) % 86400
		return time.Unix(secs, 0).UTC().Format(clockTime)
	}
	return strconv.FormatFloat(num, 'f', -1, 64)
}

func (s *xlsxSheet) cellKind(cell string) numFmtKind {
	styleID, err := s.f.GetCellStyle(s.sheet, cell)
	if err != nil || styleID == 0 {
		return kindNumber
	}
	if kind, ok := s.styles[styleID]; ok {
		return kind
	}
	kind := kindNumber
	if style, err := s.f.GetStyle(styleID); err == nil {
		if style.CustomNumFmt != nil {
			kind = formatCodeKind(*style.CustomNumFmt)
		} else {
			kind = builtInFormatKind(style.NumFmt)
		}
	} else {
		logger.Debugf("Failed to read style %d of sheet %q: %v", styleID, s.sheet, err)
	}
	s.styles[styleID] = kind
	return kind
}
