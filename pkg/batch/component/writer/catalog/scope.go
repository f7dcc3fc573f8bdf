package catalog

import (
	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
)

// Scope caches resolved entity ids and records which names were created.
//
// Scopes nest run -> batch -> row. A child is merged into its parent with Commit
// once the transaction unit it belongs to has committed; a child whose unit rolled
// back is dropped, so neither its ids nor its creations leak into the parent.
type Scope struct {
	parent  *Scope
	ids     map[model.EntityKind]map[string]uint64
	created map[model.EntityKind]map[string]bool
}

// NewScope creates a root scope.
func NewScope() *Scope {
	return &Scope{
		ids:     map[model.EntityKind]map[string]uint64{},
		created: map[model.EntityKind]map[string]bool{},
	}
}

// Child creates a nested scope.
func (s *Scope) Child() *Scope {
	c := NewScope()
	c.parent = s
	return c
}

// Lookup returns the cached id of name, searching parents.
func (s *Scope) Lookup(kind model.EntityKind, name string) (uint64, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if id, ok := cur.ids[kind][name]; ok {
			return id, true
		}
	}
	return 0, false
}

func (s *Scope) put(kind model.EntityKind, name string, id uint64, created bool) {
	if s.ids[kind] == nil {
		s.ids[kind] = map[string]uint64{}
	}
	s.ids[kind][name] = id
	if created {
		if s.created[kind] == nil {
			s.created[kind] = map[string]bool{}
		}
		s.created[kind][name] = true
	}
}

// Commit merges s into its parent. It is a no-op on a root scope.
func (s *Scope) Commit() {
	if s.parent == nil {
		return
	}
	for kind, names := range s.ids {
		for name, id := range names {
			s.parent.put(kind, name, id, s.created[kind][name])
		}
	}
	s.ids = map[model.EntityKind]map[string]uint64{}
	s.created = map[model.EntityKind]map[string]bool{}
}

// Created returns the number of distinct names of kind created in s.
func (s *Scope) Created(kind model.EntityKind) int {
	return len(s.created[kind])
}

// ApplyTo sets the new-entity counters of results to base plus the creations of s.
// base carries the counters persisted by earlier attempts of the same job.
func (s *Scope) ApplyTo(results *model.ImportResults, base model.ImportResults) {
	results.NewCategoriesCount = base.NewCategoriesCount + s.Created(model.EntityCategory)
	results.NewBrandsCount = base.NewBrandsCount + s.Created(model.EntityBrand)
	results.NewVendorsCount = base.NewVendorsCount + s.Created(model.EntityVendor)
	results.NewKeywordsCount = base.NewKeywordsCount + s.Created(model.EntityKeyword)
}
