// Package catalog resolves the entities referenced by an import row and persists the product.
package catalog

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/importd/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/importd/pkg/batch/core/tx"
	"github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

// vendorCodeAttempts bounds retries when a generated vendor code collides.
const vendorCodeAttempts = 3

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases name and joins its alphanumeric runs with hyphens.
func Slugify(name string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(name), "-"), "-")
}

// NewVendorCode generates a vendor code of the form V_XXXXXXXX.
func NewVendorCode() string {
	return "V_" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// Resolver implements find-or-create for catalog entities.
type Resolver struct {
	repo      repository.CatalogRepository
	vendorGen func() string
	seq       atomic.Uint64
}

// NewResolver creates a Resolver.
func NewResolver(repo repository.CatalogRepository) *Resolver {
	return &Resolver{repo: repo, vendorGen: NewVendorCode}
}

// WithVendorCodes replaces the vendor code generator.
func (r *Resolver) WithVendorCodes(gen func() string) *Resolver {
	r.vendorGen = gen
	return r
}

// FindOrCreateCategory resolves a category, creating it with a slug and brandID.
func (r *Resolver) FindOrCreateCategory(ctx context.Context, t tx.Tx, scope *Scope, name string, brandID *uint64) (uint64, bool, error) {
	return r.FindOrCreate(ctx, t, scope, model.NewEntity{Kind: model.EntityCategory, Name: name, Slug: Slugify(name), BrandID: brandID})
}

// FindOrCreateBrand resolves a brand by name.
func (r *Resolver) FindOrCreateBrand(ctx context.Context, t tx.Tx, scope *Scope, name string) (uint64, bool, error) {
	return r.FindOrCreate(ctx, t, scope, model.NewEntity{Kind: model.EntityBrand, Name: name})
}

// FindOrCreateVendor resolves a vendor by name, generating a vendor code on creation.
func (r *Resolver) FindOrCreateVendor(ctx context.Context, t tx.Tx, scope *Scope, name string) (uint64, bool, error) {
	return r.FindOrCreate(ctx, t, scope, model.NewEntity{Kind: model.EntityVendor, Name: name})
}

// FindOrCreateKeyword resolves a keyword by its text.
func (r *Resolver) FindOrCreateKeyword(ctx context.Context, t tx.Tx, scope *Scope, keyword string) (uint64, bool, error) {
	return r.FindOrCreate(ctx, t, scope, model.NewEntity{Kind: model.EntityKeyword, Name: keyword})
}

// FindOrCreate returns the id of the entity named e.Name, creating it when absent.
//
// The insert runs under a savepoint of t. A uniqueness violation means a concurrent
// writer created the same name first; the savepoint is rolled back and the existing
// row is returned with created=false.
func (r *Resolver) FindOrCreate(ctx context.Context, t tx.Tx, scope *Scope, e model.NewEntity) (uint64, bool, error) {
	if id, ok := scope.Lookup(e.Kind, e.Name); ok {
		return id, false, nil
	}

	id, err := r.repo.FindEntityID(ctx, t, e.Kind, e.Name)
	if err == nil {
		scope.put(e.Kind, e.Name, id, false)
		return id, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return 0, false, err
	}

	attempts := 1
	if e.Kind == model.EntityVendor {
		attempts = vendorCodeAttempts
	}
	for i := 0; i < attempts; i++ {
		if e.Kind == model.EntityVendor {
			e.Code = r.vendorGen()
		}
		id, err = r.create(ctx, t, e)
		if err == nil {
			scope.put(e.Kind, e.Name, id, true)
			logger.Debugf("Created %s '%s' (id=%d)", e.Kind, e.Name, id)
			return id, true, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return 0, false, err
		}

		// A plain read may still use the snapshot that missed the winner's row.
		id, findErr := r.repo.FindCommittedEntityID(ctx, t, e.Kind, e.Name)
		if findErr == nil {
			scope.put(e.Kind, e.Name, id, false)
			return id, false, nil
		}
		if !errors.Is(findErr, repository.ErrNotFound) {
			return 0, false, findErr
		}
		// The violation was on another unique column, e.g. a vendor code collision.
	}
	return 0, false, errors.Wrapf(err, "could not create %s '%s'", e.Kind, e.Name)
}

func (r *Resolver) create(ctx context.Context, t tx.Tx, e model.NewEntity) (uint64, error) {
	var id uint64
	savepoint := fmt.Sprintf("entity_%d", r.seq.Add(1))
	err := tx.WithSavepoint(t, savepoint, func() error {
		var err error
		id, err = r.repo.CreateEntity(ctx, t, e)
		return err
	})
	return id, err
}
