package feedback

import (
	"corrfuzz/internal/engine"
	"corrfuzz/internal/executor"
	"corrfuzz/internal/observer"
)

// MapHistory is the per-edge maximum ever committed to the corpus.
type MapHistory struct {
	Max []byte
}

// Filled counts edges seen at least once.
func (h *MapHistory) Filled() int {
	n := 0
	for _, v := range h.Max {
		if v != 0 {
			n++
		}
	}
	return n
}

// MaxMapFeedback is interesting when an edge reaches a bucket above its
// recorded maximum. The maximum only moves when a testcase is kept.
type MaxMapFeedback struct {
	observer *observer.EdgeObserver
}

func NewMaxMapFeedback(obs *observer.EdgeObserver) *MaxMapFeedback {
	return &MaxMapFeedback{obs}
}

func (f *MaxMapFeedback) Name() string {
	return "mapfeedback_metadata_" + f.observer.Name()
}

func (f *MaxMapFeedback) InitState(state *engine.State) error {
	f.History(state)
	return nil
}

func (f *MaxMapFeedback) History(state *engine.State) *MapHistory {
	return engine.MetadataOrInsert(state, f.Name(), func() *MapHistory {
		return &MapHistory{make([]byte, len(f.observer.Map()))}
	})
}

func (f *MaxMapFeedback) IsInteresting(state *engine.State, _ *engine.EventManager, _ engine.Input, _ *executor.Result) (bool, error) {
	history := f.History(state)
	for i, v := range f.observer.Map() {
		if v > history.Max[i] {
			return true, nil
		}
	}
	return false, nil
}

func (f *MaxMapFeedback) AppendMetadata(state *engine.State, tc *engine.Testcase) error {
	history := f.History(state)
	for i, v := range f.observer.Map() {
		history.Max[i] = max(history.Max[i], v)
	}
	tc.Metadata[engine.IndexesMetadata] = f.observer.Indexes()
	return nil
}

func (f *MaxMapFeedback) DiscardMetadata(*engine.State) error { return nil }
