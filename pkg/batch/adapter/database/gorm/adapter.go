// Package gorm implements the database adapter on top of GORM.
// Driver subpackages (sqlite, postgres, mysql) register their dialects from init().
package gorm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tigerroll/importd/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/importd/pkg/batch/adapter/database/config"
	config "github.com/tigerroll/importd/pkg/batch/core/config"
	"github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

// NewGormLogger creates a gorm logger routed through the application logger.
func NewGormLogger(level string) gormlogger.Interface {
	var gormLevel gormlogger.LogLevel
	switch config.LogLevel(strings.ToUpper(level)) {
	case config.LogLevelError:
		gormLevel = gormlogger.Error
	case config.LogLevelWarn:
		gormLevel = gormlogger.Warn
	case config.LogLevelInfo, config.LogLevelDebug, config.LogLevelTrace:
		gormLevel = gormlogger.Info
	default:
		gormLevel = gormlogger.Silent
	}

	return gormlogger.New(
		NewGormWriter(),
		gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// GormWriter redirects GORM log output to the application logger.
type GormWriter struct{}

// NewGormWriter creates a new instance of GormWriter.
func NewGormWriter() *GormWriter {
	return &GormWriter{}
}

// Printf implements gormlogger.Writer. SQL traces go to DEBUG, everything else to INFO.
func (w *GormWriter) Printf(format string, v ...interface{}) {
	msg := strings.TrimSpace(fmt.Sprintf(format, v...))
	if strings.Contains(msg, "SELECT") || strings.Contains(msg, "INSERT") || strings.Contains(msg, "UPDATE") || strings.Contains(msg, "DELETE") {
		logger.Debugf("[GORM] %s", msg)
		return
	}
	logger.Infof("[GORM] %s", msg)
}

// GormDBAdapter implements database.DBConnection.
type GormDBAdapter struct {
	db      *gorm.DB
	sqlDB   *sql.DB
	cfg     dbconfig.DatabaseConfig
	dialect Dialect
	name    string
}

// NewGormDBAdapter wraps an open *gorm.DB.
func NewGormDBAdapter(db *gorm.DB, cfg dbconfig.DatabaseConfig, name string) (*GormDBAdapter, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying *sql.DB: %w", err)
	}
	dialect, err := GetDialect(cfg.Type)
	if err != nil {
		return nil, err
	}
	return &GormDBAdapter{
		db:      db,
		sqlDB:   sqlDB,
		cfg:     cfg,
		dialect: dialect,
		name:    name,
	}, nil
}

// DB returns a GORM session bound to ctx.
func (a *GormDBAdapter) DB(ctx context.Context) *gorm.DB {
	return a.db.WithContext(ctx)
}

func (a *GormDBAdapter) Close() error {
	if a.sqlDB != nil {
		logger.Infof("Closing database connection '%s'...", a.name)
		return a.sqlDB.Close()
	}
	return nil
}

func (a *GormDBAdapter) Type() string {
	return a.cfg.Type
}

func (a *GormDBAdapter) Name() string {
	return a.name
}

// RefreshConnection implements database.DBConnection.
func (a *GormDBAdapter) RefreshConnection(ctx context.Context) error {
	if a.sqlDB == nil {
		return fmt.Errorf("database connection is not initialized")
	}
	return a.sqlDB.PingContext(ctx)
}

// Config implements database.DBConnection.
func (a *GormDBAdapter) Config() dbconfig.DatabaseConfig {
	return a.cfg
}

// GetSQLDB implements database.DBConnection.
func (a *GormDBAdapter) GetSQLDB() (*sql.DB, error) {
	if a.sqlDB == nil {
		return nil, fmt.Errorf("underlying sql.DB is nil")
	}
	return a.sqlDB, nil
}

// IsUniqueViolation implements database.DBConnection.
func (a *GormDBAdapter) IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return a.dialect.IsUniqueViolation != nil && a.dialect.IsUniqueViolation(err)
}

// IsTableNotExistError implements database.DBConnection.
func (a *GormDBAdapter) IsTableNotExistError(err error) bool {
	if err == nil {
		return false
	}
	if a.dialect.IsTableNotExist != nil {
		return a.dialect.IsTableNotExist(err)
	}
	errMsg := err.Error()
	return (strings.Contains(errMsg, "relation \"") && strings.Contains(errMsg, "\" does not exist")) ||
		strings.Contains(errMsg, "doesn't exist") ||
		strings.Contains(errMsg, "no such table:")
}

// GormDB extracts the *gorm.DB behind a database.DBConnection created by this package.
func GormDB(ctx context.Context, conn database.DBConnection) (*gorm.DB, error) {
	adapter, ok := conn.(*GormDBAdapter)
	if !ok {
		return nil, fmt.Errorf("internal error: DBConnection implementation is %T, not *GormDBAdapter", conn)
	}
	return adapter.DB(ctx), nil
}
