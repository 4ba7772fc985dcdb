package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"corrfuzz/internal/executor"

	"go.uber.org/zap"
)

// Executor runs one input against the target.
type Executor interface {
	Run(ctx context.Context, input Input) (*executor.Result, error)
}

// MaxStartFailures is the number of consecutive candidates whose target
// failed to start that Evaluate skips before giving up.
const MaxStartFailures = 16

type ExecuteResult int

const (
	None ExecuteResult = iota
	Added
	Solution
)

func (r ExecuteResult) String() string {
	switch r {
	case Added:
		return "corpus"
	case Solution:
		return "solution"
	}
	return "none"
}

// Objective is handed to the objective sink for every solution.
type Objective struct {
	Worker     int
	Data       []byte
	Outcome    executor.Outcome
	Stdout     []byte
	Stderr     []byte
	Executions uint64
	FoundAt    time.Time
}

type Config struct {
	Scheduler  Scheduler
	Feedback   Feedback
	Objective  Feedback
	Executor   Executor
	Events     *EventManager
	Filter     *InputFilter
	Render     RenderFunc
	Objectives chan<- Objective
	Worker     int
}

type Fuzzer struct {
	scheduler  Scheduler
	feedback   Feedback
	objective  Feedback
	executor   Executor
	mgr        *EventManager
	filter     *InputFilter
	render     RenderFunc
	objectives chan<- Objective
	worker     int
	logger     *zap.Logger

	startFailures int
}

func NewFuzzer(cfg Config, logger *zap.Logger) *Fuzzer {
	if cfg.Events == nil {
		cfg.Events = NewEventManager(nil, cfg.Worker, 0)
	}
	return &Fuzzer{
		cfg.Scheduler,
		cfg.Feedback,
		cfg.Objective,
		cfg.Executor,
		cfg.Events,
		cfg.Filter,
		cfg.Render,
		cfg.Objectives,
		cfg.Worker,
		logger,
		0,
	}
}

// InitState lets feedbacks create their named metadata.
func (f *Fuzzer) InitState(state *State) error {
	for _, fb := range []Feedback{f.feedback, f.objective} {
		if init, ok := fb.(StateInitializer); ok {
			if err := init.InitState(state); err != nil {
				return fmt.Errorf("failed to init %s: %w", fb.Name(), err)
			}
		}
	}
	return nil
}

func (f *Fuzzer) Events() *EventManager {
	return f.mgr
}

func (f *Fuzzer) execute(ctx context.Context, state *State, input Input) (*executor.Result, error) {
	result, err := f.executor.Run(ctx, input)
	if err != nil {
		return nil, err
	}
	f.startFailures = 0
	state.recordExecution(result.Elapsed)
	return result, nil
}

// judge runs the feedback first, so bookkeeping feedbacks see every
// execution, then the objective.
func (f *Fuzzer) judge(state *State, input Input, result *executor.Result) (interesting, solution bool, err error) {
	interesting, err = f.feedback.IsInteresting(state, f.mgr, input, result)
	if err != nil {
		return false, false, fmt.Errorf("feedback %s: %w", f.feedback.Name(), err)
	}
	solution, err = f.objective.IsInteresting(state, f.mgr, input, result)
	if err != nil {
		return false, false, fmt.Errorf("objective %s: %w", f.objective.Name(), err)
	}
	return interesting, solution, nil
}

// Evaluate executes input and files it as a solution, a new corpus entry or
// nothing. The returned id is only meaningful for Added and Solution.
//
// A candidate whose target cannot be started is skipped unless that happened
// MaxStartFailures times in a row.
func (f *Fuzzer) Evaluate(ctx context.Context, state *State, input Input) (ExecuteResult, int, error) {
	result, err := f.execute(ctx, state, input)
	if err != nil {
		if errors.Is(err, executor.ErrStartFailed) && ctx.Err() == nil {
			f.startFailures++
			if f.startFailures < MaxStartFailures {
				f.logger.Warn("skipping candidate, target did not start",
					zap.Int("consecutive", f.startFailures), zap.Error(err))
				return None, -1, nil
			}
		}
		return None, -1, err
	}
	interesting, solution, err := f.judge(state, input, result)
	if err != nil {
		return None, -1, err
	}

	switch {
	case solution:
		if err := f.feedback.DiscardMetadata(state); err != nil {
			return None, -1, err
		}
		id, err := f.addSolution(ctx, state, input, result)
		return Solution, id, err
	case interesting:
		if err := f.objective.DiscardMetadata(state); err != nil {
			return None, -1, err
		}
		id, err := f.addToCorpus(state, input, result)
		return Added, id, err
	default:
		if err := f.feedback.DiscardMetadata(state); err != nil {
			return None, -1, err
		}
		return None, -1, f.objective.DiscardMetadata(state)
	}
}

// EvaluateFiltered is Evaluate behind the duplicate input filter.
func (f *Fuzzer) EvaluateFiltered(ctx context.Context, state *State, input Input) (ExecuteResult, int, error) {
	if f.filter != nil {
		fresh, report := f.filter.Check(input)
		if report {
			f.mgr.FireUserStats(state, "filter-skip-ratio", fmt.Sprintf("%.3f", f.filter.SkipRatio()))
		}
		if !fresh {
			return None, -1, nil
		}
	}
	return f.Evaluate(ctx, state, input)
}

// AddInput executes input and adds it to the corpus whatever the feedback
// says. Seeds go through here.
func (f *Fuzzer) AddInput(ctx context.Context, state *State, input Input) (int, error) {
	result, err := f.execute(ctx, state, input)
	if err != nil {
		return -1, err
	}
	_, solution, err := f.judge(state, input, result)
	if err != nil {
		return -1, err
	}
	if solution {
		if _, err := f.addSolution(ctx, state, input.Clone(), result); err != nil {
			return -1, err
		}
	} else if err := f.objective.DiscardMetadata(state); err != nil {
		return -1, err
	}
	if f.filter != nil {
		f.filter.Check(input)
	}
	return f.addToCorpus(state, input, result)
}

func (f *Fuzzer) addToCorpus(state *State, input Input, result *executor.Result) (int, error) {
	tc := NewTestcase(input, result)
	if err := f.feedback.AppendMetadata(state, tc); err != nil {
		return -1, err
	}
	id, err := state.Corpus().Add(tc)
	if err != nil {
		return -1, err
	}
	if err := f.scheduler.OnAdd(state, id); err != nil {
		return -1, err
	}
	f.mgr.FireTestcase(state)
	return id, nil
}

func (f *Fuzzer) addSolution(ctx context.Context, state *State, input Input, result *executor.Result) (int, error) {
	tc := NewTestcase(input, result)
	if err := f.objective.AppendMetadata(state, tc); err != nil {
		return -1, err
	}
	id, err := state.Solutions().Add(tc)
	if err != nil {
		return -1, err
	}
	f.mgr.FireObjective(state)

	if f.objectives == nil {
		return id, nil
	}
	data, err := f.render(input)
	if err != nil {
		return id, fmt.Errorf("failed to render objective: %w", err)
	}
	obj := Objective{
		f.worker,
		data,
		result.Outcome,
		result.Stdout,
		result.Stderr,
		state.Executions(),
		time.Now(),
	}
	select {
	case f.objectives <- obj:
	case <-ctx.Done():
		return id, ctx.Err()
	}
	return id, nil
}

// FuzzOne lets the scheduler pick a testcase and runs stage on it.
func (f *Fuzzer) FuzzOne(ctx context.Context, state *State, stage Stage) error {
	id, err := f.scheduler.Next(state)
	if err != nil {
		return err
	}
	tc, err := state.Corpus().Get(id)
	if err != nil {
		return err
	}
	tc.Fuzzed++
	return stage.Perform(ctx, f, state, id)
}

// Loop fuzzes until ctx is done or an iteration fails. Inputs arriving on
// seeds are evaluated between iterations.
func (f *Fuzzer) Loop(ctx context.Context, state *State, stage Stage, seeds <-chan Input) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f.drain(ctx, state, seeds); err != nil {
			return err
		}
		if err := f.FuzzOne(ctx, state, stage); err != nil {
			return err
		}
		f.mgr.MaybeHeartbeat(state)
	}
}

func (f *Fuzzer) drain(ctx context.Context, state *State, seeds <-chan Input) error {
	for {
		select {
		case input, ok := <-seeds:
			if !ok {
				return nil
			}
			res, _, err := f.EvaluateFiltered(ctx, state, input)
			if err != nil {
				return err
			}
			f.logger.Debug("evaluated synced seed", zap.Stringer("result", res))
		default:
			return nil
		}
	}
}
