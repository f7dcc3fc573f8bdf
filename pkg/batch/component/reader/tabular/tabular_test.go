package tabular_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/tigerroll/importd/pkg/batch/component/reader/tabular"
	"github.com/tigerroll/importd/pkg/batch/support/util/exception"
)

func TestParseCSV(t *testing.T) {
	data := []byte("\xEF\xBB\xBF Name ,product_code,qty\n" +
		"Widget,W-1,3\n" +
		",,\n" +
		"\"Gadget \"\"Pro\"\"\",G-1\n" +
		"Loose \"quote,L-1,2,extra\n")

	table, err := tabular.Parse(data, "products.CSV")
	require.NoError(t, err)

	assert.Equal(t, []string{"Name", "product_code", "qty"}, table.Headers)
	require.Len(t, table.Rows, 3, "blank row is dropped")
	assert.Equal(t, []string{"Widget", "W-1", "3"}, table.Rows[0])
	assert.Equal(t, []string{`Gadget "Pro"`, "G-1"}, table.Rows[1])
	assert.Equal(t, []string{`Loose "quote`, "L-1", "2", "extra"}, table.Rows[2])
}

func TestParseHeaderOnly(t *testing.T) {
	table, err := tabular.Parse([]byte("name,product_code\n"), "a.csv")
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "product_code"}, table.Headers)
	assert.Empty(t, table.Rows)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		filename string
	}{
		{"empty csv", []byte(""), "a.csv"},
		{"only blank lines", []byte(",,\n , \n"), "a.csv"},
		{"unsupported extension", []byte("x"), "a.pdf"},
		{"corrupt workbook", []byte("not a zip"), "a.xlsx"},
		{"legacy workbook", []byte{0xD0, 0xCF, 0x11, 0xE0}, "a.xls"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tabular.Parse(tt.data, tt.filename)
			require.Error(t, err)
			assert.True(t, exception.IsKind(err, exception.KindParse))
			assert.False(t, exception.IsTemporary(err))
		})
	}
}

func buildWorkbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]interface{}{" name", "product_code", "quantity", "released", "custom"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]interface{}{"Widget", "00123", 3.5, 45306, 45292}))
	require.NoError(t, f.SetSheetRow(sheet, "A4", &[]interface{}{"Gadget", "G-1", 10}))

	builtIn, err := f.NewStyle(&excelize.Style{NumFmt: 14})
	require.NoError(t, err)
	require.NoError(t, f.SetCellStyle(sheet, "D2", "D2", builtIn))

	code := `dd"/"mm"/"yyyy`
	custom, err := f.NewStyle(&excelize.Style{CustomNumFmt: &code})
	require.NoError(t, err)
	require.NoError(t, f.SetCellStyle(sheet, "E2", "E2", custom))

	other, err := f.NewSheet("Ignored")
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue(f.GetSheetName(other), "A1", "not read"))

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestParseXLSX(t *testing.T) {
	table, err := tabular.Parse(buildWorkbook(t), "upload.xlsx")
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "product_code", "quantity", "released", "custom"}, table.Headers)
	require.Len(t, table.Rows, 2, "empty row 3 is dropped")
	assert.Equal(t, []string{"Widget", "00123", "3.5", "2024-01-15", "2024-01-01"}, table.Rows[0])
	assert.Equal(t, []string{"Gadget", "G-1", "10"}, table.Rows[1])
}

func TestParseXLSXTimeCells(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]interface{}{"opens", "closes", "month", "elapsed"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]interface{}{0.5, 0.75, 45306, 0.0625}))

	styles := map[string]excelize.Style{"A2": {NumFmt: 20}, "D2": {NumFmt: 46}}
	for cell, code := range map[string]string{"B2": "hh:mm:ss AM/PM", "C2": "mmmm"} {
		code := code
		styles[cell] = excelize.Style{CustomNumFmt: &code}
	}
	for cell, style := range styles {
		style := style
		id, err := f.NewStyle(&style)
		require.NoError(t, err)
		require.NoError(t, f.SetCellStyle(sheet, cell, cell, id))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	table, err := tabular.Parse(buf.Bytes(), "hours.xlsx")
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, []string{"12:00:00", "18:00:00", "2024-01-15", "01:30:00"}, table.Rows[0])
}

func TestLegacyWorkbookIsRejectedByName(t *testing.T) {
	_, err := tabular.SupportedFormat("Stock.XLS")
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindParse))
	assert.Contains(t, err.Error(), ".xls")

	_, ok := tabular.DetectFormat("stock.xls")
	assert.False(t, ok)
}

func TestPreview(t *testing.T) {
	data := []byte("name,,sku\na,x,1\nb,y,2\nc,z,3\n")

	res, err := tabular.Preview(data, "p.csv", 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "", "sku"}, res.Headers)
	assert.Equal(t, []tabular.Column{{Index: 0, Name: "name"}, {Index: 2, Name: "sku"}}, res.Columns)
	assert.Equal(t, [][]string{{"a", "x", "1"}, {"b", "y", "2"}}, res.PreviewRows)
	assert.Equal(t, 3, res.TotalRows)
}

func TestDetectFormat(t *testing.T) {
	f, ok := tabular.DetectFormat("A.XLSM")
	assert.True(t, ok)
	assert.Equal(t, tabular.FormatXLSX, f)

	f, ok = tabular.DetectFormat("data.txt")
	assert.True(t, ok)
	assert.Equal(t, tabular.FormatCSV, f)

	_, ok = tabular.DetectFormat("noext")
	assert.False(t, ok)
}
