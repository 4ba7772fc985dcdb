// Package strategy ties together how a worker seeds its corpus, mutates
// candidates and renders them for the target.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"corrfuzz/internal/engine"
	"corrfuzz/internal/executor"
	"corrfuzz/internal/grammar"

	"go.uber.org/zap"
)

type Kind string

const (
	// Blob mutates raw bytes through a grammar tool.
	Blob Kind = "blob"
	// Tree mutates token sequences of grammar generated programs.
	Tree Kind = "tree"
)

type SeedMode string

const (
	SeedCorpus   SeedMode = "corpus"
	SeedGenerate SeedMode = "generate"
	SeedBoth     SeedMode = "both"
)

const DefaultNumGenerated = 4096

var (
	ErrUnknownBackend  = errors.New("unknown strategy backend")
	ErrUnknownSeedMode = errors.New("unknown seed mode")
	ErrWrongInput      = errors.New("input does not belong to this strategy")
)

// Runner executes raw bytes against the target.
type Runner interface {
	Run(ctx context.Context, input []byte) (*executor.Result, error)
}

type Strategy interface {
	Kind() Kind
	// Seeds produces the initial inputs.
	Seeds(ctx context.Context) ([]engine.Input, error)
	Mutator() engine.Mutator
	MaxIterations() int
	Scheduler() engine.Scheduler
	Encode(data []byte) (engine.Input, error)
	Decode(input engine.Input) ([]byte, error)
	// Executor adapts a byte runner to the strategy's inputs.
	Executor(base Runner) engine.Executor
}

type Params struct {
	Kind     Kind
	SeedMode SeedMode
	// Grammar may be nil for a tree strategy seeded from a corpus only.
	Grammar      grammar.Grammar
	LoadCorpus   func() ([][]byte, error)
	NumGenerated int
	// InitialDir receives generated seeds as id_<n>.
	InitialDir string
}

func New(p Params, logger *zap.Logger) (Strategy, error) {
	switch p.SeedMode {
	case SeedCorpus, SeedGenerate, SeedBoth:
	case "":
		p.SeedMode = SeedCorpus
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSeedMode, p.SeedMode)
	}
	if p.SeedMode != SeedCorpus && p.Grammar == nil {
		return nil, fmt.Errorf("seed mode %s: %w", p.SeedMode, grammar.ErrNoGrammar)
	}
	if p.NumGenerated <= 0 {
		p.NumGenerated = DefaultNumGenerated
	}

	switch p.Kind {
	case Blob, "":
		if p.Grammar == nil {
			return nil, fmt.Errorf("blob strategy: %w", grammar.ErrNoGrammar)
		}
		return &blobStrategy{seeder{p, logger}}, nil
	case Tree:
		return newTreeStrategy(seeder{p, logger}), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, p.Kind)
}

// seeder collects raw seeds according to the seed mode.
type seeder struct {
	params Params
	logger *zap.Logger
}

func (s seeder) raw(ctx context.Context) ([][]byte, error) {
	var seeds [][]byte
	if s.params.SeedMode == SeedCorpus || s.params.SeedMode == SeedBoth {
		if s.params.LoadCorpus == nil {
			return nil, errors.New("no corpus loader configured")
		}
		corpus, err := s.params.LoadCorpus()
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, corpus...)
	}
	if s.params.SeedMode == SeedGenerate || s.params.SeedMode == SeedBoth {
		generated, err := s.generate(ctx)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, generated...)
	}
	return seeds, nil
}

func (s seeder) generate(ctx context.Context) ([][]byte, error) {
	if s.params.InitialDir != "" {
		if err := os.MkdirAll(s.params.InitialDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create initial dir: %w", err)
		}
	}
	out := make([][]byte, 0, s.params.NumGenerated)
	for i := range s.params.NumGenerated {
		data, err := s.params.Grammar.Generate(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to generate seed %d: %w", i, err)
		}
		if s.params.InitialDir != "" {
			path := filepath.Join(s.params.InitialDir, fmt.Sprintf("id_%d", i))
			if err := os.WriteFile(path, data, 0644); err != nil {
				return nil, fmt.Errorf("failed to write seed: %w", err)
			}
		}
		out = append(out, data)
	}
	s.logger.Info("Generated seeds", zap.Int("count", len(out)), zap.String("dir", s.params.InitialDir))
	return out, nil
}

type decodingExecutor struct {
	decode func(engine.Input) ([]byte, error)
	base   Runner
}

func (d decodingExecutor) Run(ctx context.Context, input engine.Input) (*executor.Result, error) {
	data, err := d.decode(input)
	if err != nil {
		return nil, err
	}
	return d.base.Run(ctx, data)
}
