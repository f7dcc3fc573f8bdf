package catalog

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/tigerroll/importd/pkg/batch/component/processor/mapping"
	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/importd/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/importd/pkg/batch/core/tx"
	"github.com/tigerroll/importd/pkg/batch/support/util/exception"
)

// Outcome describes a successfully written row.
type Outcome struct {
	ProductID uint64
}

// Writer persists one mapped row as a product.
type Writer struct {
	repo     repository.CatalogRepository
	resolver *Resolver
}

// NewWriter creates a Writer.
func NewWriter(repo repository.CatalogRepository, resolver *Resolver) *Writer {
	return &Writer{repo: repo, resolver: resolver}
}

// ProductStatus returns the mapped status, or one derived from quantity.
func ProductStatus(rec mapping.Record) string {
	if rec.Status != "" {
		return rec.Status
	}
	if rec.Quantity > 0 {
		return model.ProductStatusActive
	}
	return model.ProductStatusOutOfStock
}

// WriteRow resolves the entities of rec and creates its product inside t.
// Every failure is returned as a row error; the caller rolls the row back.
func (w *Writer) WriteRow(ctx context.Context, t tx.Tx, job *model.Job, params *model.BulkImportParams, rec mapping.Record, scope *Scope) (Outcome, error) {
	row := rec.RowIndex
	var missing []string
	if rec.Name == "" {
		missing = append(missing, mapping.FieldName)
	}
	if rec.ProductCode == "" {
		missing = append(missing, mapping.FieldProductCode)
	}
	if len(missing) > 0 {
		return Outcome{}, exception.NewRowError(row, "missing required field(s): "+strings.Join(missing, ", "), nil)
	}

	_, err := w.repo.FindProductByCode(ctx, t, rec.ProductCode)
	switch {
	case err == nil:
		// Any existing product conflicts, including one created by an earlier row of this file.
		return Outcome{}, exception.NewRowError(row, "product code already exists: "+rec.ProductCode, nil)
	case !errors.Is(err, repository.ErrNotFound):
		return Outcome{}, exception.NewRowError(row, "failed to look up product code", err)
	}

	var brandID *uint64
	brand := rec.Brand
	if brand == "" && params != nil {
		brand = strings.TrimSpace(params.DefaultBrand)
	}
	if brand != "" {
		id, _, err := w.resolver.FindOrCreateBrand(ctx, t, scope, brand)
		if err != nil {
			return Outcome{}, exception.NewRowError(row, "failed to resolve brand '"+brand+"'", err)
		}
		brandID = &id
	}

	category := rec.Category
	if category == "" {
		category = model.DefaultCategoryName
	}
	categoryID, _, err := w.resolver.FindOrCreateCategory(ctx, t, scope, category, brandID)
	if err != nil {
		return Outcome{}, exception.NewRowError(row, "failed to resolve category '"+category+"'", err)
	}

	vendor := rec.Vendor
	if vendor == "" {
		vendor = model.DefaultVendorName
	}
	vendorID, _, err := w.resolver.FindOrCreateVendor(ctx, t, scope, vendor)
	if err != nil {
		return Outcome{}, exception.NewRowError(row, "failed to resolve vendor '"+vendor+"'", err)
	}

	keywordIDs := make([]uint64, 0, len(rec.Keywords))
	for _, kw := range rec.Keywords {
		id, _, err := w.resolver.FindOrCreateKeyword(ctx, t, scope, kw)
		if err != nil {
			return Outcome{}, exception.NewRowError(row, "failed to resolve keyword '"+kw+"'", err)
		}
		keywordIDs = append(keywordIDs, id)
	}

	jobID := job.ID
	product := &model.Product{
		ProductCode:   rec.ProductCode,
		Name:          rec.Name,
		Description:   rec.Description,
		Quantity:      rec.Quantity,
		AlertQuantity: rec.AlertQuantity,
		Tax:           rec.Tax,
		Status:        ProductStatus(rec),
		IsFeatured:    rec.IsFeatured,
		Images:        model.StringList(rec.Images),
		Meta:          model.JSONMap(rec.Meta),
		CategoryID:    &categoryID,
		BrandID:       brandID,
		VendorID:      &vendorID,
		ImportJobID:   &jobID,
		ImportRow:     &row,
	}
	if err := w.repo.CreateProduct(ctx, t, product); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return Outcome{}, exception.NewRowError(row, "product code already exists: "+rec.ProductCode, err)
		}
		return Outcome{}, exception.NewRowError(row, "failed to create product", err)
	}
	if err := w.repo.LinkKeywords(ctx, t, product.ID, keywordIDs); err != nil {
		return Outcome{}, exception.NewRowError(row, "failed to link keywords", err)
	}
	return Outcome{ProductID: product.ID}, nil
}
