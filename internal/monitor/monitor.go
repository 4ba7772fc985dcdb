// Package monitor fans fuzzing statistics out to logs, files and metric
// backends.
package monitor

import (
	"time"
)

// Event names passed to Display.
const (
	EventTestcase  = "Testcase"
	EventObjective = "Objective"
	EventUserStats = "UserStats"
	EventHeartbeat = "Client Heartbeat"
)

// ClientStats is a snapshot of one worker.
type ClientStats struct {
	Worker      int               `json:"worker"`
	Executions  uint64            `json:"executions"`
	Corpus      int               `json:"corpus"`
	Objectives  int               `json:"objectives"`
	ExecsPerSec float64           `json:"execs_per_sec"`
	RunTime     time.Duration     `json:"run_time"`
	ExecTimeP50 float64           `json:"exec_time_p50_ms"`
	ExecTimeP99 float64           `json:"exec_time_p99_ms"`
	UserStats   map[string]string `json:"user_stats,omitempty"`
}

type Monitor interface {
	Display(event string, stats *ClientStats)
}

// Multi forwards every display to all of its monitors in order.
type Multi []Monitor

func (m Multi) Display(event string, stats *ClientStats) {
	for _, mon := range m {
		mon.Display(event, stats)
	}
}
