// Package database defines the database connection abstractions used by repositories and the queue.
package database

import (
	"context"
	"database/sql"

	dbconfig "github.com/tigerroll/importd/pkg/batch/adapter/database/config"
	coreAdapter "github.com/tigerroll/importd/pkg/batch/core/adapter"
)

// DBConnection represents an abstraction of a database connection.
type DBConnection interface {
	coreAdapter.ResourceConnection // Embeds Type(), Name(), Close()

	// IsUniqueViolation reports whether err is a unique or primary key constraint violation.
	IsUniqueViolation(err error) bool
	// IsTableNotExistError checks if the given error indicates that a table does not exist.
	IsTableNotExistError(err error) bool
	// RefreshConnection pings the underlying pool.
	RefreshConnection(ctx context.Context) error
	// Config returns the database configuration associated with this connection.
	Config() dbconfig.DatabaseConfig
	// GetSQLDB returns the underlying *sql.DB connection.
	GetSQLDB() (*sql.DB, error)
}

// DBConnectionResolver resolves a database connection by name, reconnecting if the pool is unhealthy.
type DBConnectionResolver interface {
	coreAdapter.ResourceConnectionResolver
	ResolveDBConnection(ctx context.Context, name string) (DBConnection, error)
}

// DBProvider is responsible for providing database connections of one type based on configuration.
type DBProvider interface {
	// GetConnection retrieves a database connection with the specified name.
	GetConnection(name string) (DBConnection, error)
	// CloseAll closes all connections managed by this provider.
	CloseAll() error
	// Type returns the database type handled by this provider (e.g., "postgres").
	Type() string
	// ForceReconnect closes and re-establishes the named connection.
	ForceReconnect(name string) (DBConnection, error)
}

// DBProviderGroup is the Fx group name used to collect all DBProvider implementations.
const DBProviderGroup = "db_providers"
