package strategy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"corrfuzz/internal/engine"
	"corrfuzz/internal/executor"
	"corrfuzz/internal/grammar"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeGrammar struct {
	generated int
	fail      bool
}

func (g *fakeGrammar) Generate(ctx context.Context) ([]byte, error) {
	if g.fail {
		return nil, grammar.ErrToolFailed
	}
	g.generated++
	return []byte("int x ;"), nil
}

func (g *fakeGrammar) Mutate(ctx context.Context, input []byte) ([]byte, error) {
	if g.fail {
		return nil, grammar.ErrToolFailed
	}
	return append(append([]byte(nil), input...), '!'), nil
}

type recordingRunner struct {
	last []byte
}

func (r *recordingRunner) Run(ctx context.Context, input []byte) (*executor.Result, error) {
	r.last = input
	return &executor.Result{Outcome: executor.Ok}, nil
}

func corpusOf(seeds ...string) func() ([][]byte, error) {
	return func() ([][]byte, error) {
		var out [][]byte
		for _, s := range seeds {
			out = append(out, []byte(s))
		}
		return out, nil
	}
}

func newState(maxSize int) *engine.State {
	return engine.NewState(1, engine.NewInMemoryCorpus(), engine.NewInMemoryCorpus(), maxSize)
}

func TestNewValidation(t *testing.T) {
	log := zap.NewNop()

	_, err := New(Params{Kind: "graph"}, log)
	assert.ErrorIs(t, err, ErrUnknownBackend)

	_, err = New(Params{Kind: Tree, SeedMode: "random"}, log)
	assert.ErrorIs(t, err, ErrUnknownSeedMode)

	_, err = New(Params{Kind: Blob}, log)
	assert.ErrorIs(t, err, grammar.ErrNoGrammar)

	_, err = New(Params{Kind: Tree, SeedMode: SeedGenerate}, log)
	assert.ErrorIs(t, err, grammar.ErrNoGrammar)

	s, err := New(Params{Kind: Tree, LoadCorpus: corpusOf("a")}, log)
	require.NoError(t, err)
	assert.Equal(t, Tree, s.Kind())
}

func TestBlobStrategy(t *testing.T) {
	g := &fakeGrammar{}
	s, err := New(Params{Kind: Blob, Grammar: g, LoadCorpus: corpusOf("abc")}, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, 1, s.MaxIterations())
	assert.IsType(t, &engine.QueueScheduler{}, s.Scheduler())

	seeds, err := s.Seeds(context.Background())
	require.NoError(t, err)
	require.Len(t, seeds, 1)
	assert.Equal(t, engine.BytesInput("abc"), seeds[0])

	mutant, res, err := s.Mutator().Mutate(context.Background(), newState(0), seeds[0])
	require.NoError(t, err)
	assert.Equal(t, engine.Mutated, res)
	assert.Equal(t, engine.BytesInput("abc!"), mutant)

	// oversized mutants are skipped
	_, res, err = s.Mutator().Mutate(context.Background(), newState(3), seeds[0])
	require.NoError(t, err)
	assert.Equal(t, engine.Skipped, res)

	runner := &recordingRunner{}
	_, err = s.Executor(runner).Run(context.Background(), engine.BytesInput("xyz"))
	require.NoError(t, err)
	assert.Equal(t, []byte("xyz"), runner.last)

	_, err = s.Decode(engine.EncodedInput{1})
	assert.ErrorIs(t, err, ErrWrongInput)
}

func TestBlobEmptyCorpusYieldsEmptyInput(t *testing.T) {
	s, err := New(Params{Kind: Blob, Grammar: &fakeGrammar{}, LoadCorpus: corpusOf()}, zap.NewNop())
	require.NoError(t, err)
	seeds, err := s.Seeds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []engine.Input{engine.BytesInput{}}, seeds)
}

func TestBlobMutationFailure(t *testing.T) {
	s, err := New(Params{Kind: Blob, Grammar: &fakeGrammar{fail: true}, LoadCorpus: corpusOf("a")}, zap.NewNop())
	require.NoError(t, err)
	_, res, err := s.Mutator().Mutate(context.Background(), newState(0), engine.BytesInput("a"))
	assert.ErrorIs(t, err, grammar.ErrToolFailed)
	assert.Equal(t, engine.Skipped, res)
}

func TestCorpusLoaderError(t *testing.T) {
	boom := errors.New("no seeds")
	s, err := New(Params{Kind: Tree, LoadCorpus: func() ([][]byte, error) { return nil, boom }}, zap.NewNop())
	require.NoError(t, err)
	_, err = s.Seeds(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestTreeStrategyGeneratesSeeds(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "initial")
	g := &fakeGrammar{}
	s, err := New(Params{
		Kind:         Tree,
		SeedMode:     SeedBoth,
		Grammar:      g,
		LoadCorpus:   corpusOf("int y ;", "\xff\xfe"),
		NumGenerated: 3,
		InitialDir:   dir,
	}, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, TreeMaxIterations, s.MaxIterations())
	assert.IsType(t, &engine.MinimizerScheduler{}, s.Scheduler())

	seeds, err := s.Seeds(context.Background())
	require.NoError(t, err)
	// the binary corpus entry is dropped
	assert.Len(t, seeds, 4)
	assert.Equal(t, 3, g.generated)
	for i := range 3 {
		data, err := os.ReadFile(filepath.Join(dir, "id_"+string(rune('0'+i))))
		require.NoError(t, err)
		assert.Equal(t, "int x ;", string(data))
	}

	runner := &recordingRunner{}
	_, err = s.Executor(runner).Run(context.Background(), seeds[0])
	require.NoError(t, err)
	assert.Equal(t, "int y ;\x00", string(runner.last))
}

func TestTreeGenerateFailure(t *testing.T) {
	s, err := New(Params{Kind: Tree, SeedMode: SeedGenerate, Grammar: &fakeGrammar{fail: true}, NumGenerated: 1}, zap.NewNop())
	require.NoError(t, err)
	_, err = s.Seeds(context.Background())
	assert.ErrorIs(t, err, grammar.ErrToolFailed)
}
