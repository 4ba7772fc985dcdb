package engine

import (
	"maps"
	"time"

	"corrfuzz/internal/monitor"
)

// EventManager turns engine events into monitor displays.
type EventManager struct {
	monitor   monitor.Monitor
	worker    int
	heartbeat time.Duration
	userStats map[string]string
	lastShown time.Time
}

func NewEventManager(mon monitor.Monitor, worker int, heartbeat time.Duration) *EventManager {
	return &EventManager{mon, worker, heartbeat, make(map[string]string), time.Now()}
}

// FireUserStats records a named statistic and displays it right away.
func (m *EventManager) FireUserStats(state *State, name, value string) {
	m.userStats[name] = value
	m.display(monitor.EventUserStats, state)
}

func (m *EventManager) FireTestcase(state *State) {
	m.display(monitor.EventTestcase, state)
}

func (m *EventManager) FireObjective(state *State) {
	m.display(monitor.EventObjective, state)
}

// MaybeHeartbeat displays the stats if nothing was shown for a heartbeat
// interval.
func (m *EventManager) MaybeHeartbeat(state *State) {
	if m.heartbeat > 0 && time.Since(m.lastShown) >= m.heartbeat {
		m.display(monitor.EventHeartbeat, state)
	}
}

func (m *EventManager) Stats(state *State) *monitor.ClientStats {
	runTime := time.Since(state.Started())
	var perSec float64
	if secs := runTime.Seconds(); secs > 0 {
		perSec = float64(state.Executions()) / secs
	}
	return &monitor.ClientStats{
		Worker:      m.worker,
		Executions:  state.Executions(),
		Corpus:      state.Corpus().Count(),
		Objectives:  state.Solutions().Count(),
		ExecsPerSec: perSec,
		RunTime:     runTime,
		ExecTimeP50: state.ExecTimeQuantile(0.5),
		ExecTimeP99: state.ExecTimeQuantile(0.99),
		UserStats:   maps.Clone(m.userStats),
	}
}

func (m *EventManager) display(event string, state *State) {
	m.lastShown = time.Now()
	if m.monitor != nil {
		m.monitor.Display(event, m.Stats(state))
	}
}
