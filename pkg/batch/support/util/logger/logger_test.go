package logger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

func TestSetLogLevel(t *testing.T) {
	t.Cleanup(func() { logger.SetLogLevel("INFO") })

	cases := map[string]logger.LogLevel{
		"debug":   logger.LevelDebug,
		"TRACE":   logger.LevelDebug,
		"WARN":    logger.LevelWarn,
		"error":   logger.LevelError,
		"SILENT":  logger.LevelFatal,
		"verbose": logger.LevelInfo,
	}
	for in, want := range cases {
		logger.SetLogLevel(in)
		assert.Equal(t, want, logger.CurrentLevel(), in)
	}
}

func TestSetFormatKeepsLogging(t *testing.T) {
	t.Cleanup(func() { logger.SetFormat("console") })
	logger.SetFormat("json")
	assert.NotPanics(t, func() {
		logger.Named("test").Infow("structured", "key", "value")
		logger.Infof("formatted %d", 1)
	})
}
