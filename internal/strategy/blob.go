package strategy

import (
	"context"
	"fmt"

	"corrfuzz/internal/engine"
	"corrfuzz/internal/grammar"
)

type blobStrategy struct {
	seeder
}

func (b *blobStrategy) Kind() Kind { return Blob }

// Seeds falls back to a single empty input so the loop always has
// something to mutate.
func (b *blobStrategy) Seeds(ctx context.Context) ([]engine.Input, error) {
	raw, err := b.raw(ctx)
	if err != nil {
		return nil, err
	}
	inputs := make([]engine.Input, 0, max(len(raw), 1))
	for _, data := range raw {
		inputs = append(inputs, engine.BytesInput(data))
	}
	if len(inputs) == 0 {
		inputs = append(inputs, engine.BytesInput{})
	}
	return inputs, nil
}

func (b *blobStrategy) Mutator() engine.Mutator {
	return &grammarMutator{b.params.Grammar}
}

func (b *blobStrategy) MaxIterations() int { return 1 }

func (b *blobStrategy) Scheduler() engine.Scheduler {
	return engine.NewQueueScheduler()
}

func (b *blobStrategy) Encode(data []byte) (engine.Input, error) {
	return engine.BytesInput(data), nil
}

func (b *blobStrategy) Decode(input engine.Input) ([]byte, error) {
	data, ok := input.(engine.BytesInput)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrWrongInput, input)
	}
	return data, nil
}

func (b *blobStrategy) Executor(base Runner) engine.Executor {
	return decodingExecutor{b.Decode, base}
}

// grammarMutator hands raw bytes to the grammar for mutation.
type grammarMutator struct {
	grammar grammar.Mutator
}

func (g *grammarMutator) Mutate(ctx context.Context, state *engine.State, input engine.Input) (engine.Input, engine.MutationResult, error) {
	data, ok := input.(engine.BytesInput)
	if !ok {
		return input, engine.Skipped, fmt.Errorf("%w: %T", ErrWrongInput, input)
	}
	out, err := g.grammar.Mutate(ctx, data)
	if err != nil {
		return input, engine.Skipped, err
	}
	if len(out) > state.MaxSize() {
		return input, engine.Skipped, nil
	}
	return engine.BytesInput(out), engine.Mutated, nil
}
