package storage

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	storageConfig "github.com/tigerroll/importd/pkg/batch/adapter/storage/config"
	coreAdapter "github.com/tigerroll/importd/pkg/batch/core/adapter"
	coreConfig "github.com/tigerroll/importd/pkg/batch/core/config"
	"github.com/tigerroll/importd/pkg/batch/support/util/configbinder"
)

// ConnectionResolver resolves named storage connections through the provider registered for their type.
type ConnectionResolver struct {
	providers map[string]StorageProvider
	cfg       *coreConfig.Config
}

// ResolverParams defines the dependencies of NewConnectionResolver.
type ResolverParams struct {
	fx.In
	Providers []StorageProvider `group:"storage_providers"`
	Cfg       *coreConfig.Config
}

// NewConnectionResolver creates a new ConnectionResolver.
func NewConnectionResolver(p ResolverParams) *ConnectionResolver {
	providers := make(map[string]StorageProvider, len(p.Providers))
	for _, provider := range p.Providers {
		providers[provider.Type()] = provider
	}
	return &ConnectionResolver{providers: providers, cfg: p.Cfg}
}

// DecodeStorageConfig decodes the named entry of importd.adapter.storage.
func DecodeStorageConfig(cfg *coreConfig.Config, name string) (storageConfig.StorageConfig, error) {
	var sc storageConfig.StorageConfig
	if err := configbinder.BindNamed(cfg.Importd.Adapter.Storage, name, &sc); err != nil {
		return sc, fmt.Errorf("storage connection '%s': %w", name, err)
	}
	return sc, nil
}

// ResolveStorageConnection implements StorageConnectionResolver.
func (r *ConnectionResolver) ResolveStorageConnection(ctx context.Context, name string) (StorageConnection, error) {
	sc, err := DecodeStorageConfig(r.cfg, name)
	if err != nil {
		return nil, err
	}
	provider, ok := r.providers[sc.Type]
	if !ok {
		return nil, fmt.Errorf("no storage provider found for type '%s' (connection '%s')", sc.Type, name)
	}
	conn, err := provider.GetConnection(name)
	if err != nil {
		return nil, fmt.Errorf("failed to get storage connection '%s' from provider '%s': %w", name, sc.Type, err)
	}
	return conn, nil
}

// ResolveConnection implements coreAdapter.ResourceConnectionResolver.
func (r *ConnectionResolver) ResolveConnection(ctx context.Context, name string) (coreAdapter.ResourceConnection, error) {
	return r.ResolveStorageConnection(ctx, name)
}

// CloseAll closes the connections of every registered provider.
func (r *ConnectionResolver) CloseAll() error {
	var lastErr error
	for _, p := range r.providers {
		if err := p.CloseAll(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

var _ StorageConnectionResolver = (*ConnectionResolver)(nil)
