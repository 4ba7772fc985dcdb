package feedback

import (
	"testing"
	"time"

	"corrfuzz/internal/engine"
	"corrfuzz/internal/executor"
	"corrfuzz/internal/monitor"
	"corrfuzz/internal/observer"
	"corrfuzz/pkg/shmem"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newState() *engine.State {
	return engine.NewState(7, engine.NewInMemoryCorpus(), engine.NewInMemoryCorpus(), 0)
}

func newChannel(t *testing.T, guards int) *shmem.Channel {
	t.Helper()
	_, ch, err := shmem.Create(t.TempDir(), shmem.WordSize+guards)
	require.NoError(t, err)
	t.Cleanup(func() { ch.Close() })
	return ch
}

// userStats captures the last value of each user stat and when it was set.
type userStats struct {
	values map[string]string
	at     map[string][]uint64
	count  uint64
}

func (u *userStats) Display(event string, stats *monitor.ClientStats) {
	if event != monitor.EventUserStats {
		return
	}
	for k, v := range stats.UserStats {
		if u.values[k] != v || len(u.at[k]) == 0 {
			u.at[k] = append(u.at[k], u.count)
		}
		u.values[k] = v
	}
}

func runSteps(t *testing.T, steps []uint64, size int) (*userStats, *CorrectnessHistogram) {
	ch := newChannel(t, 1)
	obs := observer.NewCorrectnessObserver("correctness", ch)
	fb := NewCorrectnessFeedback(obs, size, 100)
	state := newState()
	require.NoError(t, fb.InitState(state))

	stats := &userStats{map[string]string{}, map[string][]uint64{}, 0}
	mgr := engine.NewEventManager(stats, 0, 0)
	for _, step := range steps {
		stats.count++
		require.NoError(t, obs.PreExec())
		ch.SetStep(step)
		require.NoError(t, obs.PostExec(&executor.Result{}))
		interesting, err := fb.IsInteresting(state, mgr, engine.BytesInput("x"), &executor.Result{})
		require.NoError(t, err)
		assert.False(t, interesting)
	}
	return stats, fb.Histogram(state)
}

func repeat(step uint64, n int) []uint64 {
	steps := make([]uint64, n)
	for i := range steps {
		steps[i] = step
	}
	return steps
}

func TestCorrectnessRelativeReport(t *testing.T) {
	stats, hist := runSteps(t, repeat(3, 100), 32)
	assert.Equal(t, "3: 1.000", stats.values["correctness-relative"])
	assert.Equal(t, []uint64{100}, stats.at["correctness-relative"])
	assert.Equal(t, "3: 50", stats.values["correctness-absolute"])
	assert.Equal(t, []uint64{50}, stats.at["correctness-absolute"])
	assert.Equal(t, uint64(100), hist.Counts[3])
}

func TestCorrectnessMixedSteps(t *testing.T) {
	steps := append(repeat(0, 25), repeat(2, 75)...)
	stats, _ := runSteps(t, steps, 32)
	assert.Equal(t, "0: 0.250, 2: 0.750", stats.values["correctness-relative"])
}

func TestCorrectnessClampsLargeSteps(t *testing.T) {
	_, hist := runSteps(t, []uint64{1 << 40, 31, 4}, 32)
	assert.Equal(t, uint64(2), hist.Counts[31])
	assert.Equal(t, uint64(1), hist.Counts[4])
	assert.Equal(t, uint64(3), hist.Total())
}

func TestHistogramRendering(t *testing.T) {
	h := NewCorrectnessHistogram(4)
	assert.Empty(t, h.Relative())
	h.Record(1)
	h.Record(1)
	h.Record(3)
	h.Record(9)
	assert.Equal(t, "1: 0.500, 3: 0.500", h.Relative())
	assert.Equal(t, "1: 2, 3: 2", h.Absolute())
}

func TestMaxMapFeedback(t *testing.T) {
	ch := newChannel(t, 4)
	obs := observer.NewEdgeObserver("edges", ch)
	fb := NewMaxMapFeedback(obs)
	state := newState()
	require.NoError(t, fb.InitState(state))

	run := func(edges ...byte) bool {
		require.NoError(t, obs.PreExec())
		copy(ch.Edges(), edges)
		require.NoError(t, obs.PostExec(&executor.Result{}))
		ok, err := fb.IsInteresting(state, nil, engine.BytesInput("x"), &executor.Result{})
		require.NoError(t, err)
		return ok
	}

	assert.True(t, run(0, 1, 0, 0))
	// not committed, so still novel
	require.NoError(t, fb.DiscardMetadata(state))
	assert.True(t, run(0, 1, 0, 0))

	tc := engine.NewTestcase(engine.BytesInput("x"), nil)
	require.NoError(t, fb.AppendMetadata(state, tc))
	assert.Equal(t, []int{1}, tc.Metadata[engine.IndexesMetadata])
	assert.Equal(t, 1, fb.History(state).Filled())

	assert.False(t, run(0, 1, 0, 0))
	// 3 hits land in a higher bucket than 1 hit
	assert.True(t, run(0, 3, 0, 0))
	assert.True(t, run(0, 0, 0, 1))
	assert.Equal(t, "mapfeedback_metadata_edges", fb.Name())
}

type countingFeedback struct {
	interesting bool
	calls       int
	appended    int
}

func (c *countingFeedback) Name() string { return "counting" }
func (c *countingFeedback) IsInteresting(*engine.State, *engine.EventManager, engine.Input, *executor.Result) (bool, error) {
	c.calls++
	return c.interesting, nil
}
func (c *countingFeedback) AppendMetadata(*engine.State, *engine.Testcase) error {
	c.appended++
	return nil
}
func (c *countingFeedback) DiscardMetadata(*engine.State) error { return nil }

func TestOrVersusFastOr(t *testing.T) {
	state := newState()
	a, b := &countingFeedback{interesting: true}, &countingFeedback{}
	ok, err := Or(a, b).IsInteresting(state, nil, nil, &executor.Result{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, b.calls)

	c, d := &countingFeedback{interesting: true}, &countingFeedback{}
	ok, err = FastOr(c, d).IsInteresting(state, nil, nil, &executor.Result{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, d.calls)

	tc := engine.NewTestcase(engine.BytesInput("x"), nil)
	require.NoError(t, FastOr(c, d).AppendMetadata(state, tc))
	assert.Equal(t, 1, c.appended)
	assert.Equal(t, 1, d.appended)
	assert.Equal(t, "(counting || counting)", FastOr(c, d).Name())
}

func TestOutcomeAndOutputFeedback(t *testing.T) {
	state := newState()
	crash, timeout := NewCrashFeedback(), NewTimeoutFeedback()
	res := &executor.Result{Outcome: executor.Timeout, Stdout: []byte("out"), Stderr: []byte("err"), Elapsed: time.Millisecond}

	ok, _ := crash.IsInteresting(state, nil, nil, res)
	assert.False(t, ok)
	ok, _ = timeout.IsInteresting(state, nil, nil, res)
	assert.True(t, ok)

	stdout, stderr, tf := NewOutputFeedback(Stdout), NewOutputFeedback(Stderr), NewTimeFeedback()
	objective := FastOr(stdout, stderr, crash, timeout, tf)
	ok, err := objective.IsInteresting(state, nil, nil, res)
	require.NoError(t, err)
	assert.True(t, ok)

	tc := engine.NewTestcase(engine.BytesInput("x"), res)
	require.NoError(t, objective.AppendMetadata(state, tc))
	assert.Equal(t, "out", tc.Metadata["stdout"])
	assert.Equal(t, "err", tc.Metadata["stderr"])
	assert.NotContains(t, tc.Metadata, "exec-time", "time feedback was never reached")
}
