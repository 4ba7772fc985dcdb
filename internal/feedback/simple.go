package feedback

import (
	"corrfuzz/internal/engine"
	"corrfuzz/internal/executor"
)

// TimeFeedback records execution time on kept testcases.
type TimeFeedback struct {
	last *executor.Result
}

func NewTimeFeedback() *TimeFeedback { return &TimeFeedback{} }

func (f *TimeFeedback) Name() string { return "time" }

func (f *TimeFeedback) IsInteresting(_ *engine.State, _ *engine.EventManager, _ engine.Input, result *executor.Result) (bool, error) {
	f.last = result
	return false, nil
}

func (f *TimeFeedback) AppendMetadata(_ *engine.State, tc *engine.Testcase) error {
	if f.last != nil {
		tc.Metadata["exec-time"] = f.last.Elapsed
		f.last = nil
	}
	return nil
}

func (f *TimeFeedback) DiscardMetadata(*engine.State) error {
	f.last = nil
	return nil
}

type Stream int

const (
	Stdout Stream = iota
	Stderr
)

// OutputFeedback copies one output stream of the run into testcase metadata.
type OutputFeedback struct {
	stream  Stream
	pending []byte
}

func NewOutputFeedback(stream Stream) *OutputFeedback {
	return &OutputFeedback{stream: stream}
}

func (f *OutputFeedback) Name() string {
	if f.stream == Stderr {
		return "stderr"
	}
	return "stdout"
}

func (f *OutputFeedback) IsInteresting(_ *engine.State, _ *engine.EventManager, _ engine.Input, result *executor.Result) (bool, error) {
	if f.stream == Stderr {
		f.pending = result.Stderr
	} else {
		f.pending = result.Stdout
	}
	return false, nil
}

func (f *OutputFeedback) AppendMetadata(_ *engine.State, tc *engine.Testcase) error {
	tc.Metadata[f.Name()] = string(f.pending)
	f.pending = nil
	return nil
}

func (f *OutputFeedback) DiscardMetadata(*engine.State) error {
	f.pending = nil
	return nil
}

// OutcomeFeedback is interesting for runs ending with a given outcome.
type OutcomeFeedback struct {
	outcome executor.Outcome
}

func NewCrashFeedback() *OutcomeFeedback   { return &OutcomeFeedback{executor.Crash} }
func NewTimeoutFeedback() *OutcomeFeedback { return &OutcomeFeedback{executor.Timeout} }

func (f *OutcomeFeedback) Name() string { return f.outcome.String() }

func (f *OutcomeFeedback) IsInteresting(_ *engine.State, _ *engine.EventManager, _ engine.Input, result *executor.Result) (bool, error) {
	return result.Outcome == f.outcome, nil
}

// the outcome itself is already on the testcase
func (f *OutcomeFeedback) AppendMetadata(*engine.State, *engine.Testcase) error { return nil }

func (f *OutcomeFeedback) DiscardMetadata(*engine.State) error { return nil }
