package sql_test

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/importd/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/importd/pkg/batch/core/tx"
	sqlrepo "github.com/tigerroll/importd/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/importd/pkg/batch/test"
)

func TestCatalogEntities(t *testing.T) {
	ctx := context.Background()
	db := test.NewSQLiteDB(t)
	repo := sqlrepo.NewSQLCatalogRepository(db.Conn)

	_, err := repo.FindEntityID(ctx, nil, model.EntityBrand, "Acme")
	assert.True(t, errors.Is(err, repository.ErrNotFound))

	brandID, err := repo.CreateEntity(ctx, nil, model.NewEntity{Kind: model.EntityBrand, Name: "Acme"})
	require.NoError(t, err)
	assert.NotZero(t, brandID)

	found, err := repo.FindEntityID(ctx, nil, model.EntityBrand, "Acme")
	require.NoError(t, err)
	assert.Equal(t, brandID, found)

	_, err = repo.CreateEntity(ctx, nil, model.NewEntity{Kind: model.EntityBrand, Name: "Acme"})
	assert.True(t, errors.Is(err, repository.ErrDuplicate))

	catID, err := repo.CreateEntity(ctx, nil, model.NewEntity{Kind: model.EntityCategory, Name: "Tools", Slug: "tools", BrandID: &brandID})
	require.NoError(t, err)
	vendorID, err := repo.CreateEntity(ctx, nil, model.NewEntity{Kind: model.EntityVendor, Name: "Widgets Inc", Code: "VEN-0001"})
	require.NoError(t, err)
	kwID, err := repo.CreateEntity(ctx, nil, model.NewEntity{Kind: model.EntityKeyword, Name: "steel"})
	require.NoError(t, err)

	found, err = repo.FindEntityID(ctx, nil, model.EntityKeyword, "steel")
	require.NoError(t, err)
	assert.Equal(t, kwID, found)

	_, err = repo.CreateEntity(ctx, nil, model.NewEntity{Kind: model.EntityKind("planet"), Name: "x"})
	assert.Error(t, err)

	jobID := "job-1"
	row := 2
	product := &model.Product{
		ProductCode: "P-1",
		Name:        "Anvil",
		Quantity:    3,
		Status:      "active",
		CategoryID:  &catID,
		BrandID:     &brandID,
		VendorID:    &vendorID,
		ImportJobID: &jobID,
		ImportRow:   &row,
	}
	db.InTx(t, func(txn tx.Tx) error {
		if err := repo.CreateProduct(ctx, txn, product); err != nil {
			return err
		}
		return repo.LinkKeywords(ctx, txn, product.ID, []uint64{kwID, kwID})
	})
	assert.EqualValues(t, 1, db.Count(t, "product_keywords"))

	// Linking again is a no-op.
	require.NoError(t, repo.LinkKeywords(ctx, nil, product.ID, []uint64{kwID}))
	assert.EqualValues(t, 1, db.Count(t, "product_keywords"))

	err = repo.CreateProduct(ctx, nil, &model.Product{ProductCode: "P-1", Name: "Dup", Status: "active"})
	assert.True(t, errors.Is(err, repository.ErrDuplicate))

	p, err := repo.FindProductByCode(ctx, nil, "P-1")
	require.NoError(t, err)
	assert.Equal(t, "Anvil", p.Name)
	_, err = repo.FindProductByCode(ctx, nil, "P-2")
	assert.True(t, errors.Is(err, repository.ErrNotFound))

	entries, err := repo.ListImportedEntries(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, []model.SuccessfulEntry{{RowIndex: 2, ProductID: product.ID, Name: "Anvil", ProductCode: "P-1"}}, entries)

	rows, err := repo.ListProductReport(ctx, model.ProductFilter{Brand: "Acme"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Tools", rows[0].Category)
	assert.Equal(t, "Widgets Inc", rows[0].Vendor)
	assert.Equal(t, 3.0, rows[0].Quantity)

	rows, err = repo.ListProductReport(ctx, model.ProductFilter{Vendor: "Nobody"})
	require.NoError(t, err)
	assert.Empty(t, rows)
}
