package gorm

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/tigerroll/importd/pkg/batch/adapter/database"
	coreAdapter "github.com/tigerroll/importd/pkg/batch/core/adapter"
	config "github.com/tigerroll/importd/pkg/batch/core/config"
	"github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

// GormDBConnectionResolver is the GORM implementation of database.DBConnectionResolver.
type GormDBConnectionResolver struct {
	dbProviders map[string]database.DBProvider // keyed by database type
	cfg         *config.Config
}

// ResolverParams defines the dependencies of NewGormDBConnectionResolver.
type ResolverParams struct {
	fx.In
	DBProviders []database.DBProvider `group:"db_providers"`
	Cfg         *config.Config
}

// NewGormDBConnectionResolver creates a new GormDBConnectionResolver.
func NewGormDBConnectionResolver(p ResolverParams) *GormDBConnectionResolver {
	providerMap := make(map[string]database.DBProvider)
	for _, provider := range p.DBProviders {
		providerMap[provider.Type()] = provider
	}
	return &GormDBConnectionResolver{
		dbProviders: providerMap,
		cfg:         p.Cfg,
	}
}

// ResolveDBConnection resolves a database connection with the specified name.
// It attempts to reconnect if the pool no longer answers a ping.
func (r *GormDBConnectionResolver) ResolveDBConnection(ctx context.Context, name string) (database.DBConnection, error) {
	dbConfig, err := DecodeDatabaseConfig(r.cfg, name)
	if err != nil {
		return nil, fmt.Errorf("DBConnectionResolver: %w", err)
	}

	provider, ok := r.dbProviders[dbConfig.Type]
	if !ok {
		return nil, fmt.Errorf("DBConnectionResolver: DBProvider for type '%s' not found for connection '%s'", dbConfig.Type, name)
	}

	conn, err := provider.GetConnection(name)
	if err != nil {
		return nil, fmt.Errorf("DBConnectionResolver: failed to get connection '%s': %w", name, err)
	}

	if pingErr := conn.RefreshConnection(ctx); pingErr != nil {
		logger.Warnf("DBConnectionResolver: connection '%s' is invalid (%v). Attempting to reconnect.", name, pingErr)
		reconnected, reconnectErr := provider.ForceReconnect(name)
		if reconnectErr != nil {
			return nil, fmt.Errorf("DBConnectionResolver: failed to reconnect connection '%s': %w", name, reconnectErr)
		}
		logger.Infof("DBConnectionResolver: successfully reconnected connection '%s'.", name)
		return reconnected, nil
	}
	return conn, nil
}

// ResolveConnection implements coreAdapter.ResourceConnectionResolver.
func (r *GormDBConnectionResolver) ResolveConnection(ctx context.Context, name string) (coreAdapter.ResourceConnection, error) {
	return r.ResolveDBConnection(ctx, name)
}

// CloseAll closes the connections of every registered provider.
func (r *GormDBConnectionResolver) CloseAll() error {
	var lastErr error
	for _, p := range r.dbProviders {
		if err := p.CloseAll(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
