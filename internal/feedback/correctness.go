package feedback

import (
	"fmt"
	"strings"

	"corrfuzz/internal/engine"
	"corrfuzz/internal/executor"
	"corrfuzz/internal/observer"
)

const (
	CorrectnessName = "correctness"

	DefaultHistogramSize = 32
	DefaultReportEvery   = 100
)

// CorrectnessHistogram counts how often each progress step was reached.
// Steps beyond the last bucket are counted in the last bucket.
type CorrectnessHistogram struct {
	Counts     []uint64
	Executions uint64
}

func NewCorrectnessHistogram(size int) *CorrectnessHistogram {
	if size <= 0 {
		size = DefaultHistogramSize
	}
	return &CorrectnessHistogram{Counts: make([]uint64, size)}
}

func (h *CorrectnessHistogram) Record(step uint64) {
	last := uint64(len(h.Counts) - 1)
	h.Counts[min(step, last)]++
	h.Executions++
}

func (h *CorrectnessHistogram) Total() uint64 {
	var total uint64
	for _, c := range h.Counts {
		total += c
	}
	return total
}

// Relative renders "step: share" for every non-empty bucket.
func (h *CorrectnessHistogram) Relative() string {
	total := float64(h.Total())
	return h.render(func(c uint64) string { return fmt.Sprintf("%.3f", float64(c)/total) })
}

// Absolute renders "step: count" for every non-empty bucket.
func (h *CorrectnessHistogram) Absolute() string {
	return h.render(func(c uint64) string { return fmt.Sprintf("%d", c) })
}

func (h *CorrectnessHistogram) render(value func(uint64) string) string {
	var parts []string
	for step, c := range h.Counts {
		if c == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%d: %s", step, value(c)))
	}
	return strings.Join(parts, ", ")
}

// CorrectnessFeedback records the progress step of every run and periodically
// reports the distribution. It never marks an input interesting.
type CorrectnessFeedback struct {
	observer    *observer.CorrectnessObserver
	size        int
	reportEvery uint64
}

func NewCorrectnessFeedback(obs *observer.CorrectnessObserver, size int, reportEvery uint64) *CorrectnessFeedback {
	if size <= 0 {
		size = DefaultHistogramSize
	}
	if reportEvery == 0 {
		reportEvery = DefaultReportEvery
	}
	return &CorrectnessFeedback{obs, size, reportEvery}
}

func (f *CorrectnessFeedback) Name() string { return CorrectnessName }

func (f *CorrectnessFeedback) InitState(state *engine.State) error {
	if _, ok := state.NamedMetadata(CorrectnessName); !ok {
		state.SetNamedMetadata(CorrectnessName, NewCorrectnessHistogram(f.size))
	}
	return nil
}

// Histogram returns the histogram kept in state.
func (f *CorrectnessFeedback) Histogram(state *engine.State) *CorrectnessHistogram {
	return engine.MetadataOrInsert(state, CorrectnessName, func() *CorrectnessHistogram {
		return NewCorrectnessHistogram(f.size)
	})
}

func (f *CorrectnessFeedback) IsInteresting(state *engine.State, mgr *engine.EventManager, _ engine.Input, _ *executor.Result) (bool, error) {
	h := f.Histogram(state)
	h.Record(f.observer.Step())

	n := h.Executions
	if n%f.reportEvery == 0 {
		mgr.FireUserStats(state, CorrectnessName+"-relative", h.Relative())
	}
	if (n+f.reportEvery/2)%f.reportEvery == 0 {
		mgr.FireUserStats(state, CorrectnessName+"-absolute", h.Absolute())
	}
	return false, nil
}

func (f *CorrectnessFeedback) AppendMetadata(*engine.State, *engine.Testcase) error { return nil }
func (f *CorrectnessFeedback) DiscardMetadata(*engine.State) error                  { return nil }
