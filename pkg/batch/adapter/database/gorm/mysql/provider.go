// Package mysql provides a GORM DBProvider implementation for MySQL databases.
package mysql

import (
	"errors"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"go.uber.org/fx"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tigerroll/importd/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/importd/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/importd/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/importd/pkg/batch/core/config"
)

const (
	erDupEntry    = 1062
	erNoSuchTable = 1146
)

func init() {
	gormadapter.RegisterDialect("mysql", gormadapter.Dialect{
		Open: func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
			return mysql.Open(ConnectionString(cfg)), nil
		},
		IsUniqueViolation: func(err error) bool { return hasNumber(err, erDupEntry) },
		IsTableNotExist:   func(err error) bool { return hasNumber(err, erNoSuchTable) },
	})
}

func hasNumber(err error, number uint16) bool {
	var myErr *mysqldriver.MySQLError
	return errors.As(err, &myErr) && myErr.Number == number
}

// ConnectionString formats a go-sql-driver DSN. Multi-statements are enabled for migrations.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	port := c.Port
	if port == 0 {
		port = 3306
	}
	dc := mysqldriver.NewConfig()
	dc.User = c.User
	dc.Passwd = c.Password
	dc.Net = "tcp"
	dc.Addr = fmt.Sprintf("%s:%d", c.Host, port)
	dc.DBName = c.Database
	dc.ParseTime = true
	dc.Loc = time.UTC
	dc.MultiStatements = true
	if len(c.Params) > 0 {
		dc.Params = make(map[string]string, len(c.Params))
		for k, v := range c.Params {
			dc.Params[k] = v
		}
	}
	return dc.FormatDSN()
}

// MySQLDBProvider implements database.DBProvider for MySQL connections.
type MySQLDBProvider struct {
	*gormadapter.BaseProvider
}

// NewProvider creates a new database.DBProvider for MySQL.
func NewProvider(cfg *config.Config) database.DBProvider {
	return &MySQLDBProvider{BaseProvider: gormadapter.NewBaseProvider(cfg, "mysql")}
}

// Module exports the MySQL DBProvider for dependency injection.
var Module = fx.Provide(
	fx.Annotate(
		NewProvider,
		fx.ResultTags(`group:"`+database.DBProviderGroup+`"`),
	),
)
