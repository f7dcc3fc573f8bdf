package artifact_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xuri/excelize/v2"

	"github.com/tigerroll/importd/pkg/batch/component/writer/artifact"
	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	"github.com/tigerroll/importd/pkg/batch/test"
)

func productDataset() artifact.Dataset[model.ProductReportRow] {
	tax := 0.2
	return artifact.Dataset[model.ProductReportRow]{
		Sheet:   "Products",
		Columns: []string{"product_code", "name", "tax"},
		Cells: func(r model.ProductReportRow) []interface{} {
			return []interface{}{r.ProductCode, r.Name, r.Tax}
		},
		Items: []model.ProductReportRow{
			{ProductCode: "A-1", Name: "Anvil", Quantity: 2, Tax: &tax, Status: "active"},
			{ProductCode: "B-2", Name: "Bolt", Status: "out_of_stock"},
		},
	}
}

func TestStoreSuccessfulEntries(t *testing.T) {
	store := test.NewLocalBlobStore(t)

	path, err := artifact.StoreSuccessfulEntries(context.Background(), store, "job-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "results/job-1/successful-entries.json", path)
	assert.JSONEq(t, "[]", string(test.ReadObject(t, store, path)), "no rows still yields a valid artifact")

	entries := []model.SuccessfulEntry{{RowIndex: 2, ProductID: 7, Name: "Anvil", ProductCode: "A-1"}}
	_, err = artifact.StoreSuccessfulEntries(context.Background(), store, "job-1", entries)
	require.NoError(t, err)

	var got []map[string]interface{}
	require.NoError(t, json.Unmarshal(test.ReadObject(t, store, path), &got))
	require.Len(t, got, 1)
	assert.EqualValues(t, 2, got[0]["rowIndex"])
	assert.Equal(t, "A-1", got[0]["product_code"])
}

func TestEncodeXLSX(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, artifact.Encode(buf, model.ReportFormatXLSX, productDataset()))

	f, err := excelize.OpenReader(buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, "Products", f.GetSheetName(0))
	rows, err := f.GetRows("Products")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"product_code", "name", "tax"}, rows[0])
	assert.Equal(t, []string{"A-1", "Anvil", "0.2"}, rows[1])
	assert.Equal(t, []string{"B-2", "Bolt"}, rows[2], "nil pointer renders as an empty cell")
}

func TestEncodeParquet(t *testing.T) {
	ds := productDataset()
	ds.Compression = "gzip"
	path := filepath.Join(t.TempDir(), "report.parquet")

	buf := new(bytes.Buffer)
	require.NoError(t, artifact.Encode(buf, model.ReportFormatParquet, ds))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(model.ProductReportRow), 1)
	require.NoError(t, err)
	defer pr.ReadStop()

	require.EqualValues(t, 2, pr.GetNumRows())
	rows := make([]model.ProductReportRow, 2)
	require.NoError(t, pr.Read(&rows))
	assert.Equal(t, "A-1", rows[0].ProductCode)
	require.NotNil(t, rows[0].Tax)
	assert.Equal(t, 0.2, *rows[0].Tax)
	assert.Nil(t, rows[1].Tax)
}

func TestEncodeRejectsUnknownInputs(t *testing.T) {
	ds := productDataset()
	assert.Error(t, artifact.Encode(new(bytes.Buffer), model.ReportFormat("csv"), ds))

	ds.Compression = "lz77"
	assert.Error(t, artifact.Encode(new(bytes.Buffer), model.ReportFormatParquet, ds))
}

func TestContentTypeForPath(t *testing.T) {
	assert.Equal(t, artifact.ContentType(model.ReportFormatXLSX), artifact.ContentTypeForPath("reports/x/report.xlsx"))
	assert.Equal(t, artifact.ContentType(model.ReportFormatParquet), artifact.ContentTypeForPath(artifact.ReportPath("x", model.ReportFormatParquet)))
	assert.Equal(t, "application/json", artifact.ContentTypeForPath(artifact.SuccessfulEntriesPath("x")))
}
