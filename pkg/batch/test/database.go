// Package test provides fixtures shared by package tests: a migrated SQLite database,
// transaction mocks and job factories.
package test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tigerroll/importd/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/importd/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/importd/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/importd/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/importd/pkg/batch/component/tasklet/migration"
	"github.com/tigerroll/importd/pkg/batch/component/tasklet/migration/filesystem"
	coreAdapter "github.com/tigerroll/importd/pkg/batch/core/adapter"
	"github.com/tigerroll/importd/pkg/batch/core/tx"
)

// DB is a migrated SQLite database living in the test's temp dir.
type DB struct {
	Config    dbconfig.DatabaseConfig
	Conn      database.DBConnection
	TxManager tx.TransactionManager
	Gorm      *gorm.DB
}

// SQLiteConfig returns a file-backed SQLite configuration under dir.
// WAL and a busy timeout let concurrent test goroutines share the file.
func SQLiteConfig(dir string) dbconfig.DatabaseConfig {
	return dbconfig.DatabaseConfig{
		Type:     "sqlite",
		Database: filepath.Join(dir, "importd.db"),
		Params: map[string]string{
			"_busy_timeout": "5000",
			"_journal_mode": "WAL",
		},
	}
}

// NewSQLiteDB opens a fresh database and applies every embedded migration.
// The connection is closed when the test ends.
func NewSQLiteDB(t testing.TB) *DB {
	t.Helper()
	cfg := SQLiteConfig(t.TempDir())

	err := migration.NewMigrator(cfg).Up(context.Background(), filesystem.ProvideMigrationsFS(), "sqlite", migration.MigrationsTable)
	require.NoError(t, err, "migrate test database")

	gdb, err := gormadapter.Open(cfg)
	require.NoError(t, err)
	conn, err := gormadapter.NewGormDBAdapter(gdb, cfg, "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &DB{
		Config:    cfg,
		Conn:      conn,
		TxManager: gormadapter.NewGormTransactionManager(conn),
		Gorm:      gdb,
	}
}

// InTx runs fn inside a committed transaction and fails the test on error.
func (d *DB) InTx(t testing.TB, fn func(t tx.Tx) error) {
	t.Helper()
	require.NoError(t, tx.Run(context.Background(), d.TxManager, fn))
}

// Count returns the number of rows in table.
func (d *DB) Count(t testing.TB, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, d.Gorm.Table(table).Count(&n).Error)
	return n
}

// StaticResolver resolves every connection name to one connection.
type StaticResolver struct {
	Conn database.DBConnection
}

func (r StaticResolver) ResolveDBConnection(ctx context.Context, name string) (database.DBConnection, error) {
	return r.Conn, nil
}

func (r StaticResolver) ResolveConnection(ctx context.Context, name string) (coreAdapter.ResourceConnection, error) {
	return r.Conn, nil
}
