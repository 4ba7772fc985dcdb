package strategy

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"

	"corrfuzz/internal/engine"
)

const (
	// ArithMax bounds the delta of the add mutation.
	ArithMax = 35
	// MaxStack is the most mutations applied to one candidate.
	MaxStack = 4

	maxInsertCopy = 16
)

// EncodedMutation changes codes in place or returns a new slice. It reports
// false when it could not apply to the input.
type EncodedMutation struct {
	Name  string
	Apply func(state *engine.State, codes engine.EncodedInput) (engine.EncodedInput, bool)
}

// EncodedMutations is the token-level mutation set.
func EncodedMutations() []EncodedMutation {
	return []EncodedMutation{
		{"rand", mutateRand},
		{"inc", mutateInc},
		{"dec", mutateDec},
		{"add", mutateAdd},
		{"delete", mutateDelete},
		{"insert-copy", mutateInsertCopy},
		{"copy", mutateCopy},
		{"crossover-insert", mutateCrossoverInsert},
		{"crossover-replace", mutateCrossoverReplace},
	}
}

func mutateRand(state *engine.State, codes engine.EncodedInput) (engine.EncodedInput, bool) {
	if len(codes) == 0 {
		return codes, false
	}
	r := state.Rand()
	codes[r.IntN(len(codes))] = r.Uint32()
	return codes, true
}

func mutateInc(state *engine.State, codes engine.EncodedInput) (engine.EncodedInput, bool) {
	if len(codes) == 0 {
		return codes, false
	}
	codes[state.Rand().IntN(len(codes))]++
	return codes, true
}

func mutateDec(state *engine.State, codes engine.EncodedInput) (engine.EncodedInput, bool) {
	if len(codes) == 0 {
		return codes, false
	}
	codes[state.Rand().IntN(len(codes))]--
	return codes, true
}

func mutateAdd(state *engine.State, codes engine.EncodedInput) (engine.EncodedInput, bool) {
	if len(codes) == 0 {
		return codes, false
	}
	r := state.Rand()
	i := r.IntN(len(codes))
	delta := 1 + r.Uint32N(ArithMax)
	if r.IntN(2) == 0 {
		codes[i] += delta
	} else {
		codes[i] -= delta
	}
	return codes, true
}

func mutateDelete(state *engine.State, codes engine.EncodedInput) (engine.EncodedInput, bool) {
	if len(codes) <= 2 {
		return codes, false
	}
	r := state.Rand()
	off := r.IntN(len(codes))
	n := r.IntN(len(codes) - off)
	if n == 0 {
		return codes, false
	}
	return slices.Delete(codes, off, off+n), true
}

// mutateInsertCopy repeats one existing code a few times at a random offset.
func mutateInsertCopy(state *engine.State, codes engine.EncodedInput) (engine.EncodedInput, bool) {
	if len(codes) == 0 {
		return codes, false
	}
	r := state.Rand()
	off := r.IntN(len(codes) + 1)
	n := 1 + r.IntN(min(maxInsertCopy, len(codes)))
	if len(codes)+n > state.MaxSize() {
		return codes, false
	}
	val := codes[r.IntN(len(codes))]
	ins := make(engine.EncodedInput, n)
	for i := range ins {
		ins[i] = val
	}
	return slices.Insert(codes, off, ins...), true
}

func mutateCopy(state *engine.State, codes engine.EncodedInput) (engine.EncodedInput, bool) {
	if len(codes) <= 1 {
		return codes, false
	}
	r := state.Rand()
	from := r.IntN(len(codes))
	to := r.IntN(len(codes))
	n := 1 + r.IntN(len(codes)-max(from, to))
	copy(codes[to:to+n], codes[from:from+n])
	return codes, true
}

// other picks a random corpus entry other than the one being fuzzed.
func other(state *engine.State, r *rand.Rand) (engine.EncodedInput, bool) {
	count := state.Corpus().Count()
	if count == 0 {
		return nil, false
	}
	id := r.IntN(count)
	if cur, ok := state.CurrentID(); ok && id == cur {
		return nil, false
	}
	tc, err := state.Corpus().Get(id)
	if err != nil {
		return nil, false
	}
	codes, ok := tc.Input.(engine.EncodedInput)
	if !ok || len(codes) == 0 {
		return nil, false
	}
	return codes, true
}

func mutateCrossoverInsert(state *engine.State, codes engine.EncodedInput) (engine.EncodedInput, bool) {
	r := state.Rand()
	src, ok := other(state, r)
	if !ok {
		return codes, false
	}
	from := r.IntN(len(src))
	to := r.IntN(len(codes) + 1)
	n := 1 + r.IntN(len(src)-from)
	if len(codes)+n > state.MaxSize() {
		return codes, false
	}
	return slices.Insert(codes, to, src[from:from+n]...), true
}

func mutateCrossoverReplace(state *engine.State, codes engine.EncodedInput) (engine.EncodedInput, bool) {
	if len(codes) == 0 {
		return codes, false
	}
	r := state.Rand()
	src, ok := other(state, r)
	if !ok {
		return codes, false
	}
	from := r.IntN(len(src))
	to := r.IntN(len(codes))
	n := 1 + r.IntN(min(len(src)-from, len(codes)-to))
	copy(codes[to:to+n], src[from:from+n])
	return codes, true
}

// HavocMutator stacks between one and MaxStack randomly chosen encoded
// mutations on a candidate.
type HavocMutator struct {
	mutations []EncodedMutation
}

func NewHavocMutator(mutations []EncodedMutation) *HavocMutator {
	return &HavocMutator{mutations}
}

func (h *HavocMutator) Mutate(ctx context.Context, state *engine.State, input engine.Input) (engine.Input, engine.MutationResult, error) {
	codes, ok := input.(engine.EncodedInput)
	if !ok {
		return input, engine.Skipped, fmt.Errorf("havoc mutator needs encoded input, got %T", input)
	}
	r := state.Rand()
	result := engine.Skipped
	for range 1 + r.IntN(MaxStack) {
		m := h.mutations[r.IntN(len(h.mutations))]
		var applied bool
		codes, applied = m.Apply(state, codes)
		if applied {
			result = engine.Mutated
		}
	}
	if len(codes) > state.MaxSize() {
		return input, engine.Skipped, nil
	}
	return codes, result, nil
}
