package engine

import (
	"math/rand/v2"
	"time"

	"github.com/VividCortex/gohistogram"
)

// DefaultMaxSize bounds the length of mutated inputs.
const DefaultMaxSize = 1 << 20

// State is everything one worker accumulates while fuzzing.
type State struct {
	rand       *rand.Rand
	corpus     *Corpus
	solutions  *Corpus
	executions uint64
	metadata   map[string]any
	maxSize    int
	currentID  int
	execTimes  *gohistogram.NumericHistogram
	started    time.Time
}

func NewState(seed uint64, corpus, solutions *Corpus, maxSize int) *State {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &State{
		rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		corpus,
		solutions,
		0,
		make(map[string]any),
		maxSize,
		-1,
		gohistogram.NewHistogram(32),
		time.Now(),
	}
}

func (s *State) Rand() *rand.Rand    { return s.rand }
func (s *State) Corpus() *Corpus     { return s.corpus }
func (s *State) Solutions() *Corpus  { return s.solutions }
func (s *State) Executions() uint64  { return s.executions }
func (s *State) MaxSize() int        { return s.maxSize }
func (s *State) Started() time.Time  { return s.started }
func (s *State) SetCurrentID(id int) { s.currentID = id }

// CurrentID is the testcase selected by the scheduler for this round.
func (s *State) CurrentID() (int, bool) {
	return s.currentID, s.currentID >= 0
}

func (s *State) recordExecution(elapsed time.Duration) {
	s.executions++
	s.execTimes.Add(float64(elapsed.Microseconds()) / 1000)
}

// ExecTimeQuantile returns the q-quantile of execution times in milliseconds.
func (s *State) ExecTimeQuantile(q float64) float64 {
	if s.executions == 0 {
		return 0
	}
	return s.execTimes.Quantile(q)
}

func (s *State) NamedMetadata(name string) (any, bool) {
	v, ok := s.metadata[name]
	return v, ok
}

func (s *State) SetNamedMetadata(name string, v any) {
	s.metadata[name] = v
}

// MetadataOrInsert returns the named metadata of type T, creating it with
// init when absent.
func MetadataOrInsert[T any](s *State, name string, init func() T) T {
	if v, ok := s.metadata[name].(T); ok {
		return v
	}
	v := init()
	s.metadata[name] = v
	return v
}
