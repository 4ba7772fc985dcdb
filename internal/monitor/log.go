package monitor

import (
	"sort"

	"go.uber.org/zap"
)

type LogMonitor struct {
	logger *zap.Logger
}

func NewLogMonitor(logger *zap.Logger) *LogMonitor {
	return &LogMonitor{logger}
}

func (m *LogMonitor) Display(event string, stats *ClientStats) {
	fields := []zap.Field{
		zap.Duration("run_time", stats.RunTime),
		zap.Int("corpus", stats.Corpus),
		zap.Int("objectives", stats.Objectives),
		zap.Uint64("executions", stats.Executions),
		zap.Float64("exec_sec", stats.ExecsPerSec),
	}
	names := make([]string, 0, len(stats.UserStats))
	for name := range stats.UserStats {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fields = append(fields, zap.String(name, stats.UserStats[name]))
	}
	m.logger.Info(event, fields...)
}
