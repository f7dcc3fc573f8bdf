package migration

import (
	"context"
	"io/fs"
	"strings"

	gormadapter "github.com/tigerroll/importd/pkg/batch/adapter/database/gorm"
	config "github.com/tigerroll/importd/pkg/batch/core/config"
	"github.com/tigerroll/importd/pkg/batch/support/util/exception"
	"github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

const taskletName = "migration_tasklet"

// Command is a schema migration command.
type Command string

const (
	CommandUp      Command = "up"
	CommandDown    Command = "down"
	CommandVersion Command = "version"
)

// MigrationTasklet applies the importd schema to the job repository database.
// The migration directory inside the FS is the database type (sqlite, postgres, mysql).
type MigrationTasklet struct {
	cfg              *config.Config
	migrationFS      fs.FS
	migratorProvider MigratorProvider
	// dbConnectionName is the adapter.database entry to migrate.
	dbConnectionName string
}

// NewMigrationTasklet creates a MigrationTasklet for infrastructure.job_repository_db_ref.
func NewMigrationTasklet(cfg *config.Config, migratorProvider MigratorProvider, migrationFS fs.FS) *MigrationTasklet {
	return &MigrationTasklet{
		cfg:              cfg,
		migrationFS:      migrationFS,
		migratorProvider: migratorProvider,
		dbConnectionName: cfg.Importd.Infrastructure.JobRepositoryDBRef,
	}
}

// Result describes the schema state after Execute.
type Result struct {
	Version uint
	Dirty   bool
}

// Execute runs command. steps only applies to CommandDown; zero rolls back everything.
func (t *MigrationTasklet) Execute(ctx context.Context, command Command, steps int) (Result, error) {
	dbConfig, err := gormadapter.DecodeDatabaseConfig(t.cfg, t.dbConnectionName)
	if err != nil {
		return Result{}, exception.NewBatchError(taskletName, "failed to decode database config", err, false, false)
	}

	migrationDir := strings.ToLower(strings.TrimSpace(dbConfig.Type))
	if migrationDir == "redshift" {
		migrationDir = "postgres"
	}
	migrator := t.migratorProvider.NewMigrator(dbConfig)

	logger.Infof("Starting schema migration '%s' for DB connection '%s' (%s).", command, t.dbConnectionName, dbConfig.Type)

	switch command {
	case CommandUp:
		if err := migrator.Up(ctx, t.migrationFS, migrationDir, MigrationsTable); err != nil {
			return Result{}, exception.NewBatchError(taskletName, "migration 'up' failed", err, false, false)
		}
	case CommandDown:
		if err := migrator.Down(ctx, t.migrationFS, migrationDir, MigrationsTable, steps); err != nil {
			return Result{}, exception.NewBatchError(taskletName, "migration 'down' failed", err, false, false)
		}
	case CommandVersion:
	default:
		return Result{}, exception.NewBatchErrorf(taskletName, "unknown migration command: %s", command)
	}

	version, dirty, err := migrator.Version(ctx, t.migrationFS, migrationDir, MigrationsTable)
	if err != nil {
		return Result{}, exception.NewBatchError(taskletName, "failed to read schema version", err, false, false)
	}
	return Result{Version: version, Dirty: dirty}, nil
}
