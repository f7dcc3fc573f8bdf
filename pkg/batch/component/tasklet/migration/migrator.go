package migration

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/cockroachdb/errors"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	dbconfig "github.com/tigerroll/importd/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/importd/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

// migratorImpl implements Migrator.
//
// golang-migrate closes the *sql.DB it is given, so every run opens a dedicated
// connection instead of borrowing the shared pool.
type migratorImpl struct {
	cfg    dbconfig.DatabaseConfig
	dbType string
}

// NewMigrator creates a new Migrator instance.
func NewMigrator(cfg dbconfig.DatabaseConfig) Migrator {
	return &migratorImpl{cfg: cfg, dbType: cfg.Type}
}

type migratorProviderImpl struct{}

// NewMigratorProvider creates a new MigratorProvider.
func NewMigratorProvider() MigratorProvider {
	return &migratorProviderImpl{}
}

func (p *migratorProviderImpl) NewMigrator(cfg dbconfig.DatabaseConfig) Migrator {
	return NewMigrator(cfg)
}

// getDatabaseDriver retrieves a migrate/v4 Driver based on the database type.
func (m *migratorImpl) getDatabaseDriver(sqlDB *sql.DB, tableName string) (database.Driver, error) {
	switch m.dbType {
	case "postgres", "redshift":
		return postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: tableName})
	case "mysql":
		return mysql.WithInstance(sqlDB, &mysql.Config{MigrationsTable: tableName})
	case "sqlite":
		return sqlite3.WithInstance(sqlDB, &sqlite3.Config{MigrationsTable: tableName})
	default:
		return nil, fmt.Errorf("unsupported database type for migration: %s", m.dbType)
	}
}

func (m *migratorImpl) getMigrateInstance(migrationFS fs.FS, path string, tableName string) (*migrate.Migrate, error) {
	gormDB, err := gormadapter.Open(m.cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open migration connection")
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get underlying sql.DB")
	}

	sourceDriver, err := iofs.New(migrationFS, path)
	if err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrapf(err, "failed to create iofs source driver for path %s", path)
	}

	dbDriver, err := m.getDatabaseDriver(sqlDB, tableName)
	if err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "failed to create database driver")
	}

	mInstance, err := migrate.NewWithInstance("iofs", sourceDriver, m.dbType, dbDriver)
	if err != nil {
		_ = dbDriver.Close()
		return nil, errors.Wrap(err, "failed to create migrate instance")
	}
	return mInstance, nil
}

func (m *migratorImpl) runMigration(ctx context.Context, migrationFS fs.FS, path, command, tableName string, steps int) error {
	logger.Infof("Executing migration '%s' (Path: %s, Table: %s)", command, path, tableName)

	mInstance, err := m.getMigrateInstance(migrationFS, path, tableName)
	if err != nil {
		return err
	}
	defer closeInstance(mInstance)

	// golang-migrate checks GracefulStop between migrations.
	stop := context.AfterFunc(ctx, func() {
		select {
		case mInstance.GracefulStop <- true:
		default:
		}
	})
	defer stop()

	var migrateErr error
	switch {
	case command == "up":
		migrateErr = mInstance.Up()
	case command == "down" && steps > 0:
		migrateErr = mInstance.Steps(-steps)
	case command == "down":
		migrateErr = mInstance.Down()
	default:
		return fmt.Errorf("unsupported migration command: %s", command)
	}

	if migrateErr != nil && !errors.Is(migrateErr, migrate.ErrNoChange) {
		if version, dirty, versionErr := mInstance.Version(); versionErr == nil {
			logger.Errorf("Migration '%s' stopped at version %d (dirty=%t)", command, version, dirty)
		}
		return errors.Wrapf(migrateErr, "migration failed for command '%s' (DB: %s, Path: %s)", command, m.dbType, path)
	}

	logger.Infof("Migration '%s' completed successfully.", command)
	return nil
}

func closeInstance(mInstance *migrate.Migrate) {
	srcErr, dbErr := mInstance.Close()
	if srcErr != nil {
		logger.Warnf("Failed to close migration source: %v", srcErr)
	}
	if dbErr != nil {
		logger.Warnf("Failed to close migration connection: %v", dbErr)
	}
}

func (m *migratorImpl) Up(ctx context.Context, migrationFS fs.FS, path string, tableName string) error {
	return m.runMigration(ctx, migrationFS, path, "up", tableName, 0)
}

func (m *migratorImpl) Down(ctx context.Context, migrationFS fs.FS, path string, tableName string, steps int) error {
	return m.runMigration(ctx, migrationFS, path, "down", tableName, steps)
}

func (m *migratorImpl) Version(ctx context.Context, migrationFS fs.FS, path string, tableName string) (uint, bool, error) {
	mInstance, err := m.getMigrateInstance(migrationFS, path, tableName)
	if err != nil {
		return 0, false, err
	}
	defer closeInstance(mInstance)

	version, dirty, err := mInstance.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}
