package migration

import (
	"context"
	"io/fs"

	dbconfig "github.com/tigerroll/importd/pkg/batch/adapter/database/config"
)

// MigrationsTable tracks the applied schema version of importd.
const MigrationsTable = "importd_schema_migrations"

// Migrator handles database schema migrations.
type Migrator interface {
	// Up applies all pending migrations found under path in migrationFS.
	Up(ctx context.Context, migrationFS fs.FS, path string, tableName string) error
	// Down rolls back applied migrations. steps <= 0 rolls back everything.
	Down(ctx context.Context, migrationFS fs.FS, path string, tableName string, steps int) error
	// Version reports the applied version and whether the last migration left the schema dirty.
	Version(ctx context.Context, migrationFS fs.FS, path string, tableName string) (uint, bool, error)
}

// MigratorProvider creates a Migrator for a database configuration.
type MigratorProvider interface {
	NewMigrator(cfg dbconfig.DatabaseConfig) Migrator
}
