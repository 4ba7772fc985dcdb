package shim

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"corrfuzz/pkg/shmem"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTarget struct {
	count     int
	countOk   bool
	values    []int32
	valuesOk  bool
	step      uint64
	stepOk    bool
	panicOnGo bool
}

func (f *fakeTarget) GuardCount() (int, bool) { return f.count, f.countOk }

func (f *fakeTarget) GuardValues(n int) ([]int32, bool) {
	if f.panicOnGo {
		var p *int32
		_ = *p
	}
	return f.values, f.valuesOk
}

func (f *fakeTarget) ProgressStep() (uint64, bool) { return f.step, f.stepOk }

func newChannel(t *testing.T, guards int) (shmem.Descriptor, *shmem.Channel) {
	t.Helper()
	desc, ch, err := shmem.Create(t.TempDir(), shmem.WordSize+guards)
	require.NoError(t, err)
	t.Cleanup(func() { ch.Close() })
	return desc, ch
}

func load(desc shmem.Descriptor) *Shim {
	env := map[string]string{shmem.EnvDescriptor: desc.String()}
	return Load(func(k string) string { return env[k] }, zap.NewNop())
}

func TestFinalizeCopiesEdgesAndStep(t *testing.T) {
	desc, ch := newChannel(t, 4)
	s := load(desc)

	err := s.Finalize(&fakeTarget{
		count: 4, countOk: true,
		values: []int32{0, 1, 300, -2}, valuesOk: true,
		step: 3, stepOk: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 255, 0}, ch.Edges())
	assert.Equal(t, uint64(3), ch.Step())
}

func TestFinalizeSkipsZeroStep(t *testing.T) {
	desc, ch := newChannel(t, 1)
	ch.SetStep(9)
	s := load(desc)

	require.NoError(t, s.Finalize(&fakeTarget{
		count: 1, countOk: true, values: []int32{1}, valuesOk: true, stepOk: true,
	}))
	assert.Equal(t, uint64(9), ch.Step())
}

func TestFinalizeSizeMismatchStillWritesStep(t *testing.T) {
	desc, ch := newChannel(t, 4)
	s := load(desc)

	err := s.Finalize(&fakeTarget{
		count: 8, countOk: true, values: make([]int32, 8), valuesOk: true,
		step: 5, stepOk: true,
	})
	assert.ErrorIs(t, err, ErrSizeMismatch)
	assert.Equal(t, make([]byte, 4), ch.Edges())
	assert.Equal(t, uint64(5), ch.Step())
}

func TestFinalizeMissingSymbols(t *testing.T) {
	desc, ch := newChannel(t, 2)
	s := load(desc)

	err := s.Finalize(&fakeTarget{})
	assert.ErrorIs(t, err, ErrSymbolMissing)
	assert.Zero(t, ch.Step())
}

func TestFinalizeRecoversFaults(t *testing.T) {
	desc, ch := newChannel(t, 2)
	s := load(desc)

	var err error
	assert.NotPanics(t, func() {
		err = s.Finalize(&fakeTarget{count: 2, countOk: true, panicOnGo: true, step: 1, stepOk: true})
	})
	assert.ErrorIs(t, err, ErrFault)
	assert.Equal(t, uint64(1), ch.Step())
}

func TestLoadWithoutDescriptor(t *testing.T) {
	s := Load(func(string) string { return "" }, zap.NewNop())
	_, ok := s.Descriptor()
	assert.False(t, ok)
	assert.ErrorIs(t, s.Finalize(&fakeTarget{}), ErrNoDescriptor)

	s = Load(func(string) string { return "{broken" }, zap.NewNop())
	_, ok = s.Descriptor()
	assert.False(t, ok)
}

func TestFinalizeStaleDescriptor(t *testing.T) {
	desc, ch := newChannel(t, 2)
	require.NoError(t, ch.Close())
	s := load(desc)
	assert.ErrorIs(t, s.Finalize(&fakeTarget{}), shmem.ErrChannelUnavailable)
}

func TestSaturate(t *testing.T) {
	assert.Equal(t, byte(0), Saturate(-1))
	assert.Equal(t, byte(0), Saturate(0))
	assert.Equal(t, byte(17), Saturate(17))
	assert.Equal(t, byte(255), Saturate(255))
	assert.Equal(t, byte(255), Saturate(1<<20))
}

func TestFaultLoggerAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), FaultLogName)
	lg := NewFaultLogger(path)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "log file created before first entry")

	lg.Error("first")
	lg.Error("second", zap.String("phase", "edges"))
	require.NoError(t, lg.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "first")
	assert.Contains(t, lines[1], `"phase": "edges"`)
}
