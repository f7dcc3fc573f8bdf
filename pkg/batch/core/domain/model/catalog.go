package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Default entity names applied when a row does not map them.
const (
	DefaultCategoryName = "Uncategorized"
	DefaultVendorName   = "Unknown"
)

// Product status values.
const (
	ProductStatusActive     = "active"
	ProductStatusOutOfStock = "out_of_stock"
)

// StringList is a JSON-encoded list column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(value interface{}) error {
	b, err := scanBytes(value)
	if err != nil || len(b) == 0 {
		*l = StringList{}
		return err
	}
	return json.Unmarshal(b, l)
}

// JSONMap is a JSON-encoded object column.
type JSONMap map[string]interface{}

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(map[string]interface{}(m))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(value interface{}) error {
	b, err := scanBytes(value)
	if err != nil || len(b) == 0 {
		*m = JSONMap{}
		return err
	}
	return json.Unmarshal(b, m)
}

func scanBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported Scan type for JSON column: %T", value)
	}
}

// Brand is a catalog brand, unique by name.
type Brand struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"size:255;not null;uniqueIndex" json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

func (Brand) TableName() string { return "brands" }

// Category is a catalog category, unique by name.
type Category struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"size:255;not null;uniqueIndex" json:"name"`
	Slug      string    `gorm:"size:255;not null" json:"slug"`
	BrandID   *uint64   `json:"brandId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (Category) TableName() string { return "categories" }

// Vendor is a supplier, unique by name and by its generated code.
type Vendor struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	VendorCode string    `gorm:"size:64;not null;uniqueIndex" json:"vendorId"`
	Name       string    `gorm:"size:255;not null;uniqueIndex" json:"name"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (Vendor) TableName() string { return "vendors" }

// Keyword is a search keyword, unique by text.
type Keyword struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Keyword   string    `gorm:"size:255;not null;uniqueIndex" json:"keyword"`
	CreatedAt time.Time `json:"createdAt"`
}

func (Keyword) TableName() string { return "keywords" }

// Product is a catalog product, unique by product code.
type Product struct {
	ID            uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductCode   string     `gorm:"size:255;not null;uniqueIndex" json:"product_code"`
	Name          string     `gorm:"size:255;not null" json:"name"`
	Description   string     `json:"description,omitempty"`
	Quantity      float64    `json:"quantity"`
	AlertQuantity *float64   `json:"alert_quantity"`
	Tax           *float64   `json:"tax"`
	Status        string     `gorm:"size:32;not null" json:"status"`
	IsFeatured    bool       `json:"isFeatured"`
	Images        StringList `gorm:"type:text" json:"images"`
	Meta          JSONMap    `gorm:"type:text" json:"meta"`
	CategoryID    *uint64    `json:"categoryId"`
	BrandID       *uint64    `json:"brandId"`
	VendorID      *uint64    `json:"vendorId"`
	ImportJobID   *string    `gorm:"size:36;index" json:"importJobId,omitempty"`
	ImportRow     *int       `json:"importRow,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

func (Product) TableName() string { return "products" }

// ProductKeyword links a product to a keyword.
type ProductKeyword struct {
	ProductID uint64 `gorm:"primaryKey"`
	KeywordID uint64 `gorm:"primaryKey"`
}

func (ProductKeyword) TableName() string { return "product_keywords" }

// SuccessfulEntry describes one imported row in the successful-entries artifact.
type SuccessfulEntry struct {
	RowIndex    int    `json:"rowIndex"`
	ProductID   uint64 `json:"productId"`
	Name        string `json:"name"`
	ProductCode string `json:"product_code"`
}

// ProductFilter narrows product reports. Empty fields do not filter.
type ProductFilter struct {
	Category string
	Brand    string
	Vendor   string
	Status   string
	JobID    string
}

// ProductReportRow is one flattened row of the products report.
type ProductReportRow struct {
	ProductCode   string   `json:"product_code" parquet:"name=product_code, type=BYTE_ARRAY, convertedtype=UTF8"`
	Name          string   `json:"name" parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Category      string   `json:"category" parquet:"name=category, type=BYTE_ARRAY, convertedtype=UTF8"`
	Brand         string   `json:"brand" parquet:"name=brand, type=BYTE_ARRAY, convertedtype=UTF8"`
	Vendor        string   `json:"vendor" parquet:"name=vendor, type=BYTE_ARRAY, convertedtype=UTF8"`
	Quantity      float64  `json:"quantity" parquet:"name=quantity, type=DOUBLE"`
	AlertQuantity *float64 `json:"alert_quantity" parquet:"name=alert_quantity, type=DOUBLE, repetitiontype=OPTIONAL"`
	Tax           *float64 `json:"tax" parquet:"name=tax, type=DOUBLE, repetitiontype=OPTIONAL"`
	Status        string   `json:"status" parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	IsFeatured    bool     `json:"isFeatured" parquet:"name=is_featured, type=BOOLEAN"`
}

// ErrorReportRow is one entry of the job-errors report.
type ErrorReportRow struct {
	Timestamp string `json:"timestamp" parquet:"name=timestamp, type=BYTE_ARRAY, convertedtype=UTF8"`
	Row       *int32 `json:"row,omitempty" parquet:"name=row, type=INT32, repetitiontype=OPTIONAL"`
	Message   string `json:"message" parquet:"name=message, type=BYTE_ARRAY, convertedtype=UTF8"`
	Data      string `json:"data,omitempty" parquet:"name=data, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// EntityKind names a catalog entity type that rows resolve by name.
type EntityKind string

const (
	EntityCategory EntityKind = "category"
	EntityBrand    EntityKind = "brand"
	EntityVendor   EntityKind = "vendor"
	EntityKeyword  EntityKind = "keyword"
)

// NewEntity describes a catalog entity to create.
type NewEntity struct {
	Kind EntityKind
	Name string
	// Slug is set for categories.
	Slug string
	// Code is the generated vendor code for vendors.
	Code string
	// BrandID links a category to the brand of the row that created it.
	BrandID *uint64
}
