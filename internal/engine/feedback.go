package engine

import "corrfuzz/internal/executor"

// Feedback judges one execution. IsInteresting may stage metadata which is
// then either committed to a testcase by AppendMetadata or dropped by
// DiscardMetadata, depending on what the fuzzer decides.
type Feedback interface {
	Name() string
	IsInteresting(state *State, mgr *EventManager, input Input, result *executor.Result) (bool, error)
	AppendMetadata(state *State, tc *Testcase) error
	DiscardMetadata(state *State) error
}

// StateInitializer is implemented by feedbacks that keep named metadata.
type StateInitializer interface {
	InitState(state *State) error
}
