// Package grammar produces and mutates inputs from a grammar, either through
// an external tool or from a Nautilus style JSON rule list.
package grammar

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

var (
	ErrNoGrammar      = errors.New("no grammar configured")
	ErrInvalidGrammar = errors.New("invalid grammar")
	ErrToolFailed     = errors.New("grammar tool failed")
)

// Generator produces a fresh input from the grammar.
type Generator interface {
	Generate(ctx context.Context) ([]byte, error)
}

// Mutator derives a new input from an existing one.
type Mutator interface {
	Mutate(ctx context.Context, input []byte) ([]byte, error)
}

// Grammar can do both.
type Grammar interface {
	Generator
	Mutator
}

// Open picks the grammar backend: an external tool when command is set, the
// Nautilus JSON grammar in file otherwise.
func Open(command, file string, maxDepth int, seed uint64, logger *zap.Logger) (Grammar, error) {
	switch {
	case command != "":
		return NewCommand(command, file, DefaultToolTimeout, logger)
	case file != "":
		return LoadNautilus(file, maxDepth, seed)
	}
	return nil, ErrNoGrammar
}
