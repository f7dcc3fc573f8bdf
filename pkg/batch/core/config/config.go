// Package config provides structures and utilities for managing application configuration.
package config

import "time"

// EmbeddedConfig holds the content of the configuration file, typically passed from main.go.
type EmbeddedConfig []byte

// LogLevel defines the logging level for the application.
type LogLevel string

const (
	LogLevelTrace  LogLevel = "TRACE"
	LogLevelDebug  LogLevel = "DEBUG"
	LogLevelInfo   LogLevel = "INFO"
	LogLevelWarn   LogLevel = "WARN"
	LogLevelError  LogLevel = "ERROR"
	LogLevelFatal  LogLevel = "FATAL"
	LogLevelSilent LogLevel = "SILENT"
)

// RetryConfig holds configuration for job-level retries driven by the queue.
type RetryConfig struct {
	MaxAttempts     int     `yaml:"max_attempts"`     // MaxAttempts is the total number of attempts including the first run.
	InitialInterval int     `yaml:"initial_interval"` // InitialInterval is the initial backoff interval in milliseconds.
	MaxInterval     int     `yaml:"max_interval"`     // MaxInterval is the maximum backoff interval in milliseconds.
	Factor          float64 `yaml:"factor"`           // Factor is the multiplier applied per attempt (2.0 for exponential backoff).
	// RetryableErrors lists registered error names that are retried even when not flagged retryable.
	RetryableErrors []string `yaml:"retryable_errors"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG", "TRACE").
	Level string `yaml:"level"`
	// Format selects the log encoder: "console" or "json".
	Format string `yaml:"format"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the application timezone (e.g., "UTC", "Asia/Tokyo").
	Timezone string        `yaml:"timezone"`
	Logging  LoggingConfig `yaml:"logging"`
}

// ServerConfig holds settings for the HTTP API.
type ServerConfig struct {
	Address                string `yaml:"address"`
	Prefix                 string `yaml:"prefix"`
	MaxUploadMB            int    `yaml:"max_upload_mb"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
	// WatchIntervalMillis is the fallback poll interval of the job watch stream.
	WatchIntervalMillis int `yaml:"watch_interval_ms"`
}

// ShutdownTimeout bounds the graceful HTTP shutdown.
func (c ServerConfig) ShutdownTimeout() time.Duration { return seconds(c.ShutdownTimeoutSeconds, 15) }

// WatchInterval is the fallback poll interval of the watch stream.
func (c ServerConfig) WatchInterval() time.Duration { return millis(c.WatchIntervalMillis, 2000) }

// MaxUploadBytes is the multipart body limit.
func (c ServerConfig) MaxUploadBytes() int64 {
	mb := c.MaxUploadMB
	if mb <= 0 {
		mb = 50
	}
	return int64(mb) << 20
}

// WorkerConfig holds settings for the background job worker pool.
type WorkerConfig struct {
	Enabled                   bool   `yaml:"enabled"`
	Concurrency               int    `yaml:"concurrency"`
	BatchSize                 int    `yaml:"batch_size"`
	PollIntervalMillis        int    `yaml:"poll_interval_ms"`
	LeaseSeconds              int    `yaml:"lease_seconds"`
	HeartbeatIntervalMillis   int    `yaml:"heartbeat_interval_ms"`
	StallCheckIntervalSeconds int    `yaml:"stall_check_interval_seconds"`
	MaxStalledCount           int    `yaml:"max_stalled_count"`
	ShutdownTimeoutSeconds    int    `yaml:"shutdown_timeout_seconds"`
	TempDir                   string `yaml:"temp_dir"`
	// InterruptOnCancel also cancels the context of an attempt running on this instance when
	// its job is cancelled or overridden to a terminal status. Otherwise the attempt runs its
	// current batch to the end and stops when the guarded progress write sees the new status.
	InterruptOnCancel bool `yaml:"interrupt_on_cancel"`
}

func millis(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Millisecond
}

func seconds(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}

// PollInterval is the idle wait between claim attempts.
func (c WorkerConfig) PollInterval() time.Duration { return millis(c.PollIntervalMillis, 1000) }

// Lease is how long a claimed entry stays held without a heartbeat.
func (c WorkerConfig) Lease() time.Duration { return seconds(c.LeaseSeconds, 30) }

// HeartbeatInterval is how often a worker extends the lease of its entry.
func (c WorkerConfig) HeartbeatInterval() time.Duration {
	return millis(c.HeartbeatIntervalMillis, 10000)
}

func (c WorkerConfig) StallCheckInterval() time.Duration {
	return seconds(c.StallCheckIntervalSeconds, 30)
}

func (c WorkerConfig) ShutdownTimeout() time.Duration { return seconds(c.ShutdownTimeoutSeconds, 30) }

// QueueConfig holds settings for the durable job queue.
type QueueConfig struct {
	Name                 string      `yaml:"name"`
	Retry                RetryConfig `yaml:"retry"`
	RetainCompletedHours int         `yaml:"retain_completed_hours"`
}

// RetainCompleted is how long finished entries are kept. Zero disables pruning.
func (c QueueConfig) RetainCompleted() time.Duration {
	if c.RetainCompletedHours <= 0 {
		return 0
	}
	return time.Duration(c.RetainCompletedHours) * time.Hour
}

// JobsConfig holds job record policies.
type JobsConfig struct {
	// DeleteBlockedStatuses lists statuses whose jobs cannot be deleted through the API.
	DeleteBlockedStatuses []string `yaml:"delete_blocked_statuses"`
	// PreviewRows is the number of data rows returned by the preview endpoint.
	PreviewRows int `yaml:"preview_rows"`
	// ReportCompression is the Parquet codec of report artifacts: SNAPPY, GZIP or NONE.
	ReportCompression string `yaml:"report_compression"`
}

// InfrastructureConfig holds logical dependency settings for infrastructure components.
type InfrastructureConfig struct {
	// JobRepositoryDBRef is the name of the database connection used for jobs, queue and catalog.
	JobRepositoryDBRef string `yaml:"job_repository_db_ref"`
	// BlobStorageRef is the name of the storage connection used for uploads and artifacts.
	BlobStorageRef string `yaml:"blob_storage_ref"`
	// BlobBucket is the bucket passed to the storage connection.
	BlobBucket string `yaml:"blob_bucket"`
	// AutoMigrate applies pending schema migrations on start.
	AutoMigrate bool `yaml:"auto_migrate"`
}

// MetricsConfig holds metrics settings. The prometheus exporter is scraped on Path;
// the otlp exporters push to Endpoint every ExportIntervalSeconds.
type MetricsConfig struct {
	Enabled               bool   `yaml:"enabled"`
	Exporter              string `yaml:"exporter"` // "prometheus", "otlphttp" or "otlpgrpc"
	Path                  string `yaml:"path"`
	Endpoint              string `yaml:"endpoint"`
	Insecure              bool   `yaml:"insecure"`
	ExportIntervalSeconds int    `yaml:"export_interval_seconds"`
	// AsyncBufferSize is the event buffer of the asynchronous recorder wrapper.
	AsyncBufferSize int `yaml:"async_buffer_size"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"` // "otlphttp" or "otlpgrpc"
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// AdapterConfig holds raw, named adapter configurations. Each entry is decoded by its provider.
type AdapterConfig struct {
	Database map[string]interface{} `yaml:"database"`
	Storage  map[string]interface{} `yaml:"storage"`
}

// ImportdConfig holds all configuration under the "importd" top-level key.
type ImportdConfig struct {
	System         SystemConfig         `yaml:"system"`
	Server         ServerConfig         `yaml:"server"`
	Worker         WorkerConfig         `yaml:"worker"`
	Queue          QueueConfig          `yaml:"queue"`
	Jobs           JobsConfig           `yaml:"jobs"`
	Infrastructure InfrastructureConfig `yaml:"infrastructure"`
	Metrics        MetricsConfig        `yaml:"metrics"`
	Tracing        TracingConfig        `yaml:"tracing"`
	Adapter        AdapterConfig        `yaml:"adapter"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	Importd ImportdConfig `yaml:"importd"`
	// EmbeddedConfig holds configuration loaded from an embedded source, not from YAML.
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// GlobalConfig is a pointer to the configuration instance shared across the application.
var GlobalConfig *Config

// NewConfig returns a new instance of Config with default values.
func NewConfig() *Config {
	return &Config{
		Importd: ImportdConfig{
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO", Format: "console"},
			},
			Server: ServerConfig{
				Address:                ":8080",
				Prefix:                 "/api",
				MaxUploadMB:            50,
				ShutdownTimeoutSeconds: 15,
				WatchIntervalMillis:    2000,
			},
			Worker: WorkerConfig{
				Enabled:                   true,
				Concurrency:               2,
				BatchSize:                 200,
				PollIntervalMillis:        1000,
				LeaseSeconds:              30,
				HeartbeatIntervalMillis:   10000,
				StallCheckIntervalSeconds: 30,
				MaxStalledCount:           2,
				ShutdownTimeoutSeconds:    30,
			},
			Queue: QueueConfig{
				Name: "jobs",
				Retry: RetryConfig{
					MaxAttempts:     3,
					InitialInterval: 10000,
					MaxInterval:     300000,
					Factor:          2.0,
					RetryableErrors: []string{"context.DeadlineExceeded", "sql.ErrConnDone"},
				},
				RetainCompletedHours: 168,
			},
			Jobs: JobsConfig{
				DeleteBlockedStatuses: []string{"processing", "completed"},
				PreviewRows:           5,
				ReportCompression:     "SNAPPY",
			},
			Infrastructure: InfrastructureConfig{
				JobRepositoryDBRef: "metadata",
				BlobStorageRef:     "uploads",
				BlobBucket:         "importd",
				AutoMigrate:        true,
			},
			Metrics: MetricsConfig{Enabled: true, Exporter: "prometheus", Path: "/metrics", ExportIntervalSeconds: 30, AsyncBufferSize: 256},
			Tracing: TracingConfig{Exporter: "otlphttp", ServiceName: "importd"},
			Adapter: AdapterConfig{
				Database: map[string]interface{}{},
				Storage:  map[string]interface{}{},
			},
		},
	}
}
