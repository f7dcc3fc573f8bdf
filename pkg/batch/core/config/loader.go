package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/importd/pkg/batch/support/util/exception"
	"github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

// Package config provides utilities for loading and managing application configuration
// from various sources, including YAML files and environment variables.

const moduleName = "config"

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig      // EmbeddedConfig contains the raw bytes of the configuration file.
	EnvFilePath    string              `name:"envFilePath" optional:"true"` // EnvFilePath is the path to the .env file, if any.
	Expander       EnvironmentExpander `optional:"true"`
}

// loadConfig loads configuration from the embedded YAML, a .env file and environment variables.
//
// Order of precedence, lowest first: NewConfig defaults, embedded YAML (after ${VAR}
// expansion), environment variables named after the yaml tag path (IMPORTD_WORKER_BATCH_SIZE).
func loadConfig(envFilePath string, embeddedConfig EmbeddedConfig, expander EnvironmentExpander) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else {
		if err := godotenv.Load(); err != nil {
			logger.Debugf(".env file not found or could not be loaded: %v", err)
		}
	}

	if expander == nil {
		expander = NewOsEnvironmentExpander()
	}

	cfg := NewConfig()

	if len(embeddedConfig) > 0 {
		expanded, err := expander.Expand(embeddedConfig)
		if err != nil {
			return nil, exception.NewBatchError(moduleName, "failed to expand environment placeholders", err, false, false)
		}
		// Unmarshalling onto the defaults keeps every key the YAML does not mention.
		if err := yaml.Unmarshal(expanded, cfg); err != nil {
			return nil, exception.NewBatchError(moduleName, "failed to unmarshal embedded config", err, false, false)
		}
	}

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to load config from environment variables", err, false, false)
	}
	cfg.EmbeddedConfig = embeddedConfig
	return cfg, nil
}

// NewConfigProvider is an Fx provider that loads and provides *Config.
// It also sets the global logger level and format and validates configured error names.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := loadConfig(params.EnvFilePath, params.EmbeddedConfig, params.Expander)
	if err != nil {
		return nil, err
	}

	GlobalConfig = cfg

	logger.SetFormat(cfg.Importd.System.Logging.Format)
	logger.SetLogLevel(cfg.Importd.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Importd.System.Logging.Level)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig loads configuration without Fx. Used by the CLI subcommands that do not start the app.
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	cfg, err := loadConfig(envFilePath, embeddedConfig, nil)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and that configured error names are registered.
func Validate(cfg *Config) error {
	c := cfg.Importd
	if c.Worker.Concurrency < 1 {
		return exception.NewBatchErrorf(moduleName, "worker.concurrency must be at least 1, got %d", c.Worker.Concurrency)
	}
	if c.Worker.BatchSize < 1 {
		return exception.NewBatchErrorf(moduleName, "worker.batch_size must be at least 1, got %d", c.Worker.BatchSize)
	}
	if c.Queue.Retry.MaxAttempts < 1 {
		return exception.NewBatchErrorf(moduleName, "queue.retry.max_attempts must be at least 1, got %d", c.Queue.Retry.MaxAttempts)
	}
	if c.Queue.Retry.Factor < 1 {
		return exception.NewBatchErrorf(moduleName, "queue.retry.factor must be >= 1, got %v", c.Queue.Retry.Factor)
	}
	for _, name := range c.Queue.Retry.RetryableErrors {
		if !exception.IsErrorTypeRegistered(name) {
			return exception.NewBatchErrorf(moduleName, "queue.retry.retryable_errors references unknown error: '%s'", name)
		}
	}
	return nil
}

// loadStructFromEnv recursively loads configuration values into a struct from environment variables.
// It uses the "yaml" tag path to determine the environment variable name.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		switch {
		case field.Kind() == reflect.Struct:
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		case field.Kind() == reflect.Map && field.Type().Key().Kind() == reflect.String && field.Type().Elem().Kind() == reflect.Interface:
			loadRawMapFromEnv(field, envVarName+"_")
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// loadRawMapFromEnv overrides entries of a named adapter map from environment variables.
//
// Example: IMPORTD_ADAPTER_DATABASE_METADATA_HOST=db sets adapter.database.metadata.host.
// The value is stored as a string; adapter providers decode it with weak typing.
func loadRawMapFromEnv(mapField reflect.Value, prefix string) {
	if mapField.IsNil() {
		mapField.Set(reflect.MakeMap(mapField.Type()))
	}
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		parts := strings.SplitN(strings.TrimPrefix(env, prefix), "=", 2)
		if len(parts) != 2 {
			continue
		}
		keyAndField := strings.SplitN(parts[0], "_", 2)
		if len(keyAndField) != 2 {
			continue
		}
		mapKey := strings.ToLower(keyAndField[0])
		fieldName := strings.ToLower(keyAndField[1])

		entry := map[string]interface{}{}
		if existing := mapField.MapIndex(reflect.ValueOf(mapKey)); existing.IsValid() {
			if m, ok := existing.Interface().(map[string]interface{}); ok {
				entry = m
			}
		}
		entry[fieldName] = parts[1]
		mapField.SetMapIndex(reflect.ValueOf(mapKey), reflect.ValueOf(entry))
	}
}

// setField sets the value of a reflect.Value field based on its kind.
// Slices of strings are read as comma-separated lists.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return nil
		}
		var items []string
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
		field.Set(reflect.ValueOf(items))
	}
	return nil
}
