package config

// PoolConfig holds database connection pool settings.
type PoolConfig struct {
	MaxOpenConns           int `yaml:"max_open_conns"`
	MaxIdleConns           int `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Type     string `yaml:"type"`     // Database type ("postgres", "mysql", "sqlite").
	Host     string `yaml:"host"`     // Database host address.
	Port     int    `yaml:"port"`     // Database port number.
	Database string `yaml:"database"` // Database name, or the file path for sqlite.
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Schema   string `yaml:"schema,omitempty"` // Schema name for PostgreSQL.
	Sslmode  string `yaml:"sslmode"`
	// Params are appended to the DSN (e.g., "_busy_timeout": "5000" for sqlite, "parseTime": "true" for mysql).
	Params map[string]string `yaml:"params,omitempty"`
	// LogLevel is the GORM log level ("SILENT", "ERROR", "WARN", "INFO").
	LogLevel string     `yaml:"log_level"`
	Pool     PoolConfig `yaml:"pool"`
}
