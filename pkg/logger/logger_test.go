package logger

import (
	"testing"

	"corrfuzz/config"

	"github.com/stretchr/testify/assert"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap/zapcore"
)

func TestNewLoggerLevels(t *testing.T) {
	for level, want := range map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"bogus":   zapcore.InfoLevel,
	} {
		cfg := config.Default()
		cfg.LogLevel = level
		lg := NewLogger(LoggerParams{Lc: fxtest.NewLifecycle(t), AppConfig: cfg})
		assert.True(t, lg.Core().Enabled(want), level)
		if want > zapcore.DebugLevel {
			assert.False(t, lg.Core().Enabled(want-1), level)
		}
	}
}

func TestProcessName(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, "launcher", processName(cfg))
	cfg.WorkerID = 2
	assert.Equal(t, "worker_2", processName(cfg))
}
