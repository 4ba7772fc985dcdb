package strategy

import (
	"context"
	"fmt"

	"corrfuzz/internal/engine"

	"go.uber.org/zap"
)

// TreeMaxIterations is the most mutants derived per scheduled testcase.
const TreeMaxIterations = 128

type treeStrategy struct {
	seeder
	codec *TokenCodec
}

func newTreeStrategy(s seeder) *treeStrategy {
	return &treeStrategy{s, NewTokenCodec()}
}

func (t *treeStrategy) Kind() Kind { return Tree }

func (t *treeStrategy) Codec() *TokenCodec { return t.codec }

// Seeds tokenizes every raw seed. Seeds that are not text are dropped.
func (t *treeStrategy) Seeds(ctx context.Context) ([]engine.Input, error) {
	raw, err := t.raw(ctx)
	if err != nil {
		return nil, err
	}
	inputs := make([]engine.Input, 0, len(raw))
	for i, data := range raw {
		codes, err := t.codec.Encode(data)
		if err != nil {
			t.logger.Warn("Dropping seed", zap.Int("index", i), zap.Error(err))
			continue
		}
		inputs = append(inputs, codes)
	}
	t.logger.Info("Encoded seeds", zap.Int("count", len(inputs)), zap.Int("vocabulary", t.codec.Size()))
	return inputs, nil
}

func (t *treeStrategy) Mutator() engine.Mutator {
	return NewHavocMutator(EncodedMutations())
}

func (t *treeStrategy) MaxIterations() int { return TreeMaxIterations }

func (t *treeStrategy) Scheduler() engine.Scheduler {
	return engine.NewMinimizerScheduler(engine.NewQueueScheduler())
}

func (t *treeStrategy) Encode(data []byte) (engine.Input, error) {
	return t.codec.Encode(data)
}

func (t *treeStrategy) Decode(input engine.Input) ([]byte, error) {
	codes, ok := input.(engine.EncodedInput)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrWrongInput, input)
	}
	return t.codec.Decode(codes), nil
}

func (t *treeStrategy) Executor(base Runner) engine.Executor {
	return decodingExecutor{t.Decode, base}
}
