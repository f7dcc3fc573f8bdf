package gorm

import (
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/tigerroll/importd/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/importd/pkg/batch/adapter/database/config"
	config "github.com/tigerroll/importd/pkg/batch/core/config"
	"github.com/tigerroll/importd/pkg/batch/support/util/configbinder"
	"github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

// DialectorFactory generates a gorm.Dialector from a dbconfig.DatabaseConfig.
type DialectorFactory func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error)

// Dialect bundles the driver-specific pieces registered by each driver subpackage.
type Dialect struct {
	Open DialectorFactory
	// IsUniqueViolation inspects a driver error for a unique or primary key violation.
	IsUniqueViolation func(err error) bool
	// IsTableNotExist inspects a driver error for a missing table.
	IsTableNotExist func(err error) bool
}

var (
	dialectRegistry = make(map[string]Dialect)
	dialectMutex    sync.RWMutex
)

// RegisterDialect registers a Dialect for the given database type.
func RegisterDialect(dbType string, d Dialect) {
	dialectMutex.Lock()
	defer dialectMutex.Unlock()
	if _, exists := dialectRegistry[dbType]; exists {
		logger.Warnf("Dialect for type '%s' already registered. Overwriting.", dbType)
	}
	dialectRegistry[dbType] = d
}

// GetDialect retrieves the Dialect registered for the specified DB type.
func GetDialect(dbType string) (Dialect, error) {
	dialectMutex.RLock()
	defer dialectMutex.RUnlock()
	d, ok := dialectRegistry[dbType]
	if !ok {
		return Dialect{}, fmt.Errorf("no dialect registered for database type: %s", dbType)
	}
	return d, nil
}

// BaseProvider provides common functionality for DBProvider implementations.
type BaseProvider struct {
	cfg    *config.Config
	dbType string
	// connections holds the connections managed by this provider (name -> DBConnection).
	connections map[string]database.DBConnection
	mu          sync.RWMutex
}

// NewBaseProvider creates a new BaseProvider.
func NewBaseProvider(cfg *config.Config, dbType string) *BaseProvider {
	return &BaseProvider{
		cfg:         cfg,
		dbType:      dbType,
		connections: make(map[string]database.DBConnection),
	}
}

// Type returns the database type.
func (p *BaseProvider) Type() string {
	return p.dbType
}

// GetConnection retrieves an existing connection or establishes a new one.
func (p *BaseProvider) GetConnection(name string) (database.DBConnection, error) {
	p.mu.RLock()
	conn, ok := p.connections[name]
	p.mu.RUnlock()

	if ok {
		return conn, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double check (DCL)
	if conn, ok = p.connections[name]; ok {
		return conn, nil
	}
	return p.createAndStoreConnection(name)
}

// createAndStoreConnection establishes a new connection and stores it in the map.
func (p *BaseProvider) createAndStoreConnection(name string) (database.DBConnection, error) {
	dbConfig, err := DecodeDatabaseConfig(p.cfg, name)
	if err != nil {
		return nil, err
	}
	if dbConfig.Type != p.dbType {
		return nil, fmt.Errorf("provider type mismatch: expected '%s', got '%s' for connection '%s'", p.dbType, dbConfig.Type, name)
	}

	gormDB, err := Open(dbConfig)
	if err != nil {
		return nil, err
	}

	conn, err := NewGormDBAdapter(gormDB, dbConfig, name)
	if err != nil {
		return nil, err
	}
	p.connections[name] = conn
	logger.Infof("Established new DB connection: %s (%s)", name, p.dbType)
	return conn, nil
}

// ForceReconnect closes the named connection if it exists and opens it again.
func (p *BaseProvider) ForceReconnect(name string) (database.DBConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existingConn, ok := p.connections[name]; ok {
		if err := existingConn.Close(); err != nil {
			logger.Warnf("Failed to close existing connection '%s' before reconnect: %v", name, err)
		}
		delete(p.connections, name)
	}

	conn, err := p.createAndStoreConnection(name)
	if err != nil {
		return nil, err
	}
	logger.Infof("Re-established DB connection: %s (%s)", name, p.dbType)
	return conn, nil
}

// CloseAll closes all connections managed by this provider.
func (p *BaseProvider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	for name, conn := range p.connections {
		if err := conn.Close(); err != nil {
			logger.Errorf("Failed to close connection '%s': %v", name, err)
			lastErr = err
		}
		delete(p.connections, name)
	}
	return lastErr
}

// DecodeDatabaseConfig decodes the named entry of importd.adapter.database.
func DecodeDatabaseConfig(cfg *config.Config, name string) (dbconfig.DatabaseConfig, error) {
	var dbConfig dbconfig.DatabaseConfig
	if err := configbinder.BindNamed(cfg.Importd.Adapter.Database, name, &dbConfig); err != nil {
		return dbConfig, fmt.Errorf("database connection '%s': %w", name, err)
	}
	return dbConfig, nil
}

// Open establishes a GORM connection based on DatabaseConfig and applies pool settings.
func Open(dbConfig dbconfig.DatabaseConfig) (*gorm.DB, error) {
	dialect, err := GetDialect(dbConfig.Type)
	if err != nil {
		return nil, err
	}
	dialector, err := dialect.Open(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create dialector for %s: %w", dbConfig.Type, err)
	}

	level := dbConfig.LogLevel
	if level == "" {
		level = string(config.LogLevelSilent)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  NewGormLogger(level),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open GORM connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if dbConfig.Pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(dbConfig.Pool.MaxOpenConns)
	}
	if dbConfig.Pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(dbConfig.Pool.MaxIdleConns)
	}
	if dbConfig.Pool.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(dbConfig.Pool.ConnMaxLifetimeMinutes) * time.Minute)
	}
	return db, nil
}
