// Package sqlite provides a GORM DBProvider implementation for SQLite databases.
package sqlite

import (
	"errors"
	"net/url"
	"sort"
	"strings"

	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/fx"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tigerroll/importd/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/importd/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/importd/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/importd/pkg/batch/core/config"
)

func init() {
	gormadapter.RegisterDialect("sqlite", gormadapter.Dialect{
		Open: func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
			if cfg.Database == "" {
				return nil, errors.New("SQLite database path cannot be empty")
			}
			return sqlite.Open(ConnectionString(cfg)), nil
		},
		IsUniqueViolation: IsUniqueViolation,
		IsTableNotExist: func(err error) bool {
			return err != nil && strings.Contains(err.Error(), "no such table")
		},
	})
}

// ConnectionString returns the file path followed by the configured DSN parameters.
// Foreign keys are enabled unless explicitly configured.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	params := url.Values{}
	for k, v := range c.Params {
		params.Set(k, v)
	}
	if params.Get("_foreign_keys") == "" {
		params.Set("_foreign_keys", "on")
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params.Get(k))
	}
	sep := "?"
	if strings.Contains(c.Database, "?") {
		sep = "&"
	}
	return c.Database + sep + strings.Join(parts, "&")
}

// IsUniqueViolation reports a UNIQUE or PRIMARY KEY constraint failure.
func IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// SQLiteDBProvider implements database.DBProvider for SQLite connections.
type SQLiteDBProvider struct {
	*gormadapter.BaseProvider
}

// NewProvider creates a new database.DBProvider for SQLite.
func NewProvider(cfg *config.Config) database.DBProvider {
	return &SQLiteDBProvider{BaseProvider: gormadapter.NewBaseProvider(cfg, "sqlite")}
}

// Module exports the SQLite DBProvider for dependency injection.
var Module = fx.Provide(
	fx.Annotate(
		NewProvider,
		fx.ResultTags(`group:"`+database.DBProviderGroup+`"`),
	),
)
