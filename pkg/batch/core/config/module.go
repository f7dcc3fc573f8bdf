// Package config provides core configuration structures and utilities for importd.
// This module defines Fx providers for configuration-related components.
package config

import "go.uber.org/fx"

// NewLoggingConfigProvider extracts and provides *LoggingConfig from *Config.
func NewLoggingConfigProvider(cfg *Config) *LoggingConfig {
	return &cfg.Importd.System.Logging
}

// Module provides configuration-related components to Fx.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(NewOsEnvironmentExpander, fx.As(new(EnvironmentExpander))),
		NewConfigProvider,
		NewLoggingConfigProvider,
	),
)
