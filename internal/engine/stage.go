package engine

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

type MutationResult int

const (
	Mutated MutationResult = iota
	Skipped
)

type Mutator interface {
	Mutate(ctx context.Context, state *State, input Input) (Input, MutationResult, error)
}

type Stage interface {
	Perform(ctx context.Context, fuzzer *Fuzzer, state *State, id int) error
}

// MutationalStage mutates the selected testcase between 1 and maxIterations
// times, evaluating every mutant.
type MutationalStage struct {
	mutator       Mutator
	maxIterations int
}

func NewMutationalStage(mutator Mutator, maxIterations int) *MutationalStage {
	if maxIterations < 1 {
		maxIterations = 1
	}
	return &MutationalStage{mutator, maxIterations}
}

func (s *MutationalStage) MaxIterations() int {
	return s.maxIterations
}

func (s *MutationalStage) Perform(ctx context.Context, fuzzer *Fuzzer, state *State, id int) error {
	iterations := 1 + state.Rand().IntN(s.maxIterations)
	for range iterations {
		if err := ctx.Err(); err != nil {
			return err
		}
		tc, err := state.Corpus().Get(id)
		if err != nil {
			return err
		}
		mutant, result, err := s.mutator.Mutate(ctx, state, tc.Input.Clone())
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			fuzzer.logger.Debug("mutation failed", zap.Error(err))
			continue
		}
		if result == Skipped {
			continue
		}
		if _, _, err := fuzzer.EvaluateFiltered(ctx, state, mutant); err != nil {
			return err
		}
	}
	return nil
}
