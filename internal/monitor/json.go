package monitor

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// JSONMonitor appends one JSON object per display to a file shared by all
// workers.
type JSONMonitor struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

type jsonRecord struct {
	Time  time.Time `json:"time"`
	Event string    `json:"event"`
	*ClientStats
}

func NewJSONMonitor(path string, logger *zap.Logger) *JSONMonitor {
	return &JSONMonitor{path: path, logger: logger}
}

func (m *JSONMonitor) Display(event string, stats *ClientStats) {
	line, err := json.Marshal(jsonRecord{time.Now(), event, stats})
	if err != nil {
		m.logger.Error("failed to encode stats", zap.Error(err))
		return
	}
	line = append(line, '\n')

	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := os.OpenFile(m.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		m.logger.Error("failed to open stats file", zap.String("path", m.path), zap.Error(err))
		return
	}
	defer f.Close()
	// a single write keeps lines from different workers intact
	if _, err := f.Write(line); err != nil {
		m.logger.Error("failed to write stats", zap.String("path", m.path), zap.Error(err))
	}
}
