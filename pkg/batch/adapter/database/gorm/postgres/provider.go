// Package postgres provides a GORM DBProvider implementation for PostgreSQL databases.
package postgres

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/fx"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/tigerroll/importd/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/importd/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/importd/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/importd/pkg/batch/core/config"
)

const (
	uniqueViolation = "23505"
	undefinedTable  = "42P01"
)

func init() {
	gormadapter.RegisterDialect("postgres", gormadapter.Dialect{
		Open: func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
			return postgres.Open(ConnectionString(cfg)), nil
		},
		IsUniqueViolation: func(err error) bool { return hasCode(err, uniqueViolation) },
		IsTableNotExist:   func(err error) bool { return hasCode(err, undefinedTable) },
	})
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// ConnectionString generates the keyword/value DSN expected by gorm.io/driver/postgres.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	sslmode := c.Sslmode
	if sslmode == "" {
		sslmode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslmode)
	if c.Schema != "" {
		dsn += " search_path=" + c.Schema
	}
	keys := make([]string, 0, len(c.Params))
	for k := range c.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(dsn)
	for _, k := range keys {
		b.WriteString(" " + k + "=" + c.Params[k])
	}
	return b.String()
}

// PostgresDBProvider implements database.DBProvider for PostgreSQL connections.
type PostgresDBProvider struct {
	*gormadapter.BaseProvider
}

// NewProvider creates a new database.DBProvider for PostgreSQL.
func NewProvider(cfg *config.Config) database.DBProvider {
	return &PostgresDBProvider{BaseProvider: gormadapter.NewBaseProvider(cfg, "postgres")}
}

// Module exports the PostgreSQL DBProvider for dependency injection.
var Module = fx.Provide(
	fx.Annotate(
		NewProvider,
		fx.ResultTags(`group:"`+database.DBProviderGroup+`"`),
	),
)
