package sql

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tigerroll/importd/pkg/batch/adapter/database"
	gormadapter "github.com/tigerroll/importd/pkg/batch/adapter/database/gorm"
	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/importd/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/importd/pkg/batch/core/tx"
	"github.com/tigerroll/importd/pkg/batch/support/util/exception"
)

type entityTable struct {
	table  string
	column string
}

var entityTables = map[model.EntityKind]entityTable{
	model.EntityCategory: {table: "categories", column: "name"},
	model.EntityBrand:    {table: "brands", column: "name"},
	model.EntityVendor:   {table: "vendors", column: "name"},
	model.EntityKeyword:  {table: "keywords", column: "keyword"},
}

// SQLCatalogRepository implements repository.CatalogRepository.
type SQLCatalogRepository struct {
	conn database.DBConnection
}

// NewSQLCatalogRepository creates a catalog repository on conn.
func NewSQLCatalogRepository(conn database.DBConnection) *SQLCatalogRepository {
	return &SQLCatalogRepository{conn: conn}
}

var _ repository.CatalogRepository = (*SQLCatalogRepository)(nil)

func (r *SQLCatalogRepository) session(ctx context.Context, t tx.Tx) (*gorm.DB, error) {
	if t != nil {
		db, err := gormadapter.TxDB(t)
		if err != nil {
			return nil, err
		}
		return db.WithContext(ctx), nil
	}
	return gormadapter.GormDB(ctx, r.conn)
}

// insertError maps a uniqueness violation to repository.ErrDuplicate.
func (r *SQLCatalogRepository) insertError(what string, err error) error {
	if r.conn.IsUniqueViolation(err) {
		return errors.Wrapf(repository.ErrDuplicate, "%s: %v", what, err)
	}
	return exception.NewDatabaseError("failed to insert "+what, err)
}

// FindEntityID looks up an entity id by exact name with a plain read.
func (r *SQLCatalogRepository) FindEntityID(ctx context.Context, t tx.Tx, kind model.EntityKind, name string) (uint64, error) {
	return r.findEntityID(ctx, t, kind, name, false)
}

// FindCommittedEntityID looks up an entity id with a shared locking read. Inside a
// REPEATABLE READ transaction it sees rows other transactions committed after the
// snapshot was taken. sqlite ignores the lock clause and always reads the latest state.
func (r *SQLCatalogRepository) FindCommittedEntityID(ctx context.Context, t tx.Tx, kind model.EntityKind, name string) (uint64, error) {
	return r.findEntityID(ctx, t, kind, name, true)
}

func (r *SQLCatalogRepository) findEntityID(ctx context.Context, t tx.Tx, kind model.EntityKind, name string, share bool) (uint64, error) {
	et, ok := entityTables[kind]
	if !ok {
		return 0, fmt.Errorf("unknown entity kind %q", kind)
	}
	db, err := r.session(ctx, t)
	if err != nil {
		return 0, err
	}
	q := db.Table(et.table).Where(et.column+" = ?", name).Limit(1)
	if share {
		q = q.Clauses(clause.Locking{Strength: "SHARE"})
	}
	var ids []uint64
	if err := q.Pluck("id", &ids).Error; err != nil {
		return 0, exception.NewDatabaseError(fmt.Sprintf("failed to look up %s '%s'", kind, name), err)
	}
	if len(ids) == 0 {
		return 0, errors.Wrapf(repository.ErrNotFound, "%s '%s'", kind, name)
	}
	return ids[0], nil
}

// CreateEntity inserts a category, brand, vendor or keyword and returns its id.
func (r *SQLCatalogRepository) CreateEntity(ctx context.Context, t tx.Tx, e model.NewEntity) (uint64, error) {
	db, err := r.session(ctx, t)
	if err != nil {
		return 0, err
	}
	what := fmt.Sprintf("%s '%s'", e.Kind, e.Name)

	var (
		row interface{}
		id  func() uint64
	)
	switch e.Kind {
	case model.EntityCategory:
		c := &model.Category{Name: e.Name, Slug: e.Slug, BrandID: e.BrandID}
		row, id = c, func() uint64 { return c.ID }
	case model.EntityBrand:
		b := &model.Brand{Name: e.Name}
		row, id = b, func() uint64 { return b.ID }
	case model.EntityVendor:
		v := &model.Vendor{Name: e.Name, VendorCode: e.Code}
		row, id = v, func() uint64 { return v.ID }
	case model.EntityKeyword:
		k := &model.Keyword{Keyword: e.Name}
		row, id = k, func() uint64 { return k.ID }
	default:
		return 0, fmt.Errorf("unknown entity kind %q", e.Kind)
	}

	if err := db.Create(row).Error; err != nil {
		return 0, r.insertError(what, err)
	}
	return id(), nil
}

// FindProductByCode returns the product with code. Returns ErrNotFound if absent.
func (r *SQLCatalogRepository) FindProductByCode(ctx context.Context, t tx.Tx, code string) (*model.Product, error) {
	db, err := r.session(ctx, t)
	if err != nil {
		return nil, err
	}
	var p model.Product
	err = db.Where("product_code = ?", code).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(repository.ErrNotFound, "product '%s'", code)
	}
	if err != nil {
		return nil, exception.NewDatabaseError(fmt.Sprintf("failed to look up product '%s'", code), err)
	}
	return &p, nil
}

// CreateProduct inserts p and sets its id.
func (r *SQLCatalogRepository) CreateProduct(ctx context.Context, t tx.Tx, p *model.Product) error {
	db, err := r.session(ctx, t)
	if err != nil {
		return err
	}
	if err := db.Create(p).Error; err != nil {
		return r.insertError(fmt.Sprintf("product '%s'", p.ProductCode), err)
	}
	return nil
}

// LinkKeywords attaches keywords to a product, skipping links that already exist.
func (r *SQLCatalogRepository) LinkKeywords(ctx context.Context, t tx.Tx, productID uint64, keywordIDs []uint64) error {
	if len(keywordIDs) == 0 {
		return nil
	}
	db, err := r.session(ctx, t)
	if err != nil {
		return err
	}
	seen := make(map[uint64]bool, len(keywordIDs))
	links := make([]model.ProductKeyword, 0, len(keywordIDs))
	for _, kid := range keywordIDs {
		if seen[kid] {
			continue
		}
		seen[kid] = true
		links = append(links, model.ProductKeyword{ProductID: productID, KeywordID: kid})
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&links).Error; err != nil {
		return exception.NewDatabaseError(fmt.Sprintf("failed to link keywords to product %d", productID), err)
	}
	return nil
}

// ListImportedEntries lists the products created by a job, in row order.
func (r *SQLCatalogRepository) ListImportedEntries(ctx context.Context, jobID string) ([]model.SuccessfulEntry, error) {
	db, err := r.session(ctx, nil)
	if err != nil {
		return nil, err
	}
	entries := []model.SuccessfulEntry{}
	err = db.Model(&model.Product{}).
		Select("import_row AS row_index, id AS product_id, name, product_code").
		Where("import_job_id = ?", jobID).
		Order("import_row ASC").
		Scan(&entries).Error
	if err != nil {
		return nil, exception.NewDatabaseError(fmt.Sprintf("failed to list products imported by job %s", jobID), err)
	}
	return entries, nil
}

// ListProductReport joins products with their catalog entities for reports.
func (r *SQLCatalogRepository) ListProductReport(ctx context.Context, filter model.ProductFilter) ([]model.ProductReportRow, error) {
	db, err := r.session(ctx, nil)
	if err != nil {
		return nil, err
	}
	query := db.Table("products AS p").
		Select(`p.product_code, p.name,
			COALESCE(c.name, '') AS category,
			COALESCE(b.name, '') AS brand,
			COALESCE(v.name, '') AS vendor,
			p.quantity, p.alert_quantity, p.tax, p.status, p.is_featured`).
		Joins("LEFT JOIN categories c ON c.id = p.category_id").
		Joins("LEFT JOIN brands b ON b.id = p.brand_id").
		Joins("LEFT JOIN vendors v ON v.id = p.vendor_id")
	if filter.Category != "" {
		query = query.Where("c.name = ?", filter.Category)
	}
	if filter.Brand != "" {
		query = query.Where("b.name = ?", filter.Brand)
	}
	if filter.Vendor != "" {
		query = query.Where("v.name = ?", filter.Vendor)
	}
	if filter.Status != "" {
		query = query.Where("p.status = ?", filter.Status)
	}
	if filter.JobID != "" {
		query = query.Where("p.import_job_id = ?", filter.JobID)
	}

	rows := []model.ProductReportRow{}
	if err := query.Order("p.product_code ASC").Scan(&rows).Error; err != nil {
		return nil, exception.NewDatabaseError("failed to list product report rows", err)
	}
	return rows, nil
}
