package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"corrfuzz/config"
	"corrfuzz/internal/corpus"
	"corrfuzz/internal/crash"
	"corrfuzz/internal/guards"
	"corrfuzz/internal/utils"
	"corrfuzz/pkg/telemetry"
	"corrfuzz/pkg/watchdog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sys/unix"
)

func writeExec(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

// target prints a guard count when probed and runs body otherwise.
func target(t *testing.T, body string) string {
	return writeExec(t, "target.sh", `if [ -z "$SHMEM_DESCRIPTION" ]; then echo 16; exit 0; fi
`+body)
}

type fixture struct {
	cfg    *config.AppConfig
	crash  *crash.CrashManager
	out    string
	logger *zap.Logger
}

func newFixture(t *testing.T, targetBody string) *fixture {
	t.Helper()
	out := t.TempDir()
	seeds := filepath.Join(t.TempDir(), "valid_corpus")
	require.NoError(t, os.Mkdir(seeds, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(seeds, "0.c"), []byte("int a;"), 0644))

	// ld.so skips an unloadable preload object with a warning
	lib := filepath.Join(t.TempDir(), "lib.so")
	require.NoError(t, os.WriteFile(lib, nil, 0644))

	cfg := config.Default()
	cfg.Target.Binary = target(t, targetBody)
	cfg.Target.ShimLibrary = lib
	cfg.Target.GuardLibrary = lib
	cfg.Strategy.SeedDir = seeds
	cfg.Strategy.GrammarCommand = writeExec(t, "mutate.sh", "cat; printf x")
	cfg.Reporting.HeartbeatInterval = 0
	cfg.OutputDir = out
	cfg.WorkerID = 0

	cm, err := crash.New(crash.CrashFolder(out, 0), nil, nil, zap.NewNop())
	require.NoError(t, err)
	return &fixture{cfg, cm, out, zap.NewNop()}
}

func (f *fixture) worker() *Worker {
	return &Worker{
		f.cfg,
		f.logger,
		telemetry.NewTracerFactory(telemetry.TracerFactoryParams{}),
		f.crash,
		watchdog.NewWatchDogFactory(zap.NewNop()),
		nil,
		nil,
		make(chan struct{}),
	}
}

func (f *fixture) run(t *testing.T, d time.Duration) error {
	t.Helper()
	f.crash.Start()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	err := f.worker().Run(ctx)
	f.crash.Stop()
	return err
}

func TestRunFuzzesUntilCancelled(t *testing.T) {
	f := newFixture(t, "cat >/dev/null; echo ok")
	require.NoError(t, f.run(t, 2*time.Second))

	workDir := WorkDir(f.out, 0)
	seed, err := os.ReadFile(filepath.Join(workDir, "initial", "0.c"))
	require.NoError(t, err)
	assert.Equal(t, "int a;", string(seed))

	_, err = os.Stat(filepath.Join(workDir, "corpus", utils.ContentName([]byte("int a;"))))
	assert.NoError(t, err)

	stats, err := os.ReadFile(filepath.Join(f.out, "stats.json"))
	require.NoError(t, err)
	assert.NotEmpty(t, stats)

	crashes, err := os.ReadDir(crash.CrashFolder(f.out, 0))
	require.NoError(t, err)
	assert.Empty(t, crashes)
}

func TestRunSeedsSingleInputOnce(t *testing.T) {
	f := newFixture(t, "cat >/dev/null; echo ok")
	seeds := filepath.Join(t.TempDir(), "seeds")
	require.NoError(t, os.Mkdir(seeds, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(seeds, "only"), []byte("abc"), 0644))
	f.cfg.Strategy.SeedDir = seeds
	core, logs := observer.New(zap.InfoLevel)
	f.logger = zap.New(core)

	require.NoError(t, f.run(t, time.Second))

	initial, err := os.ReadDir(filepath.Join(WorkDir(f.out, 0), "initial"))
	require.NoError(t, err)
	assert.Len(t, initial, 1)

	loaded := logs.FilterMessage("Initial inputs loaded").All()
	require.Len(t, loaded, 1)
	fields := loaded[0].ContextMap()
	assert.Equal(t, uint64(1), fields["executions"])
	assert.Equal(t, int64(1), fields["corpus"])
	assert.Equal(t, int64(0), fields["objectives"])

	crashes, err := os.ReadDir(crash.CrashFolder(f.out, 0))
	require.NoError(t, err)
	assert.Empty(t, crashes)
}

func TestRunStoresCrashingSeed(t *testing.T) {
	f := newFixture(t, "cat >/dev/null; kill -SEGV $$")
	require.NoError(t, f.run(t, time.Second))

	data, err := os.ReadFile(filepath.Join(crash.CrashFolder(f.out, 0), utils.ContentName([]byte("int a;"))))
	require.NoError(t, err)
	assert.Equal(t, "int a;", string(data))
}

func TestRunFailsWithoutTarget(t *testing.T) {
	f := newFixture(t, "true")
	f.cfg.Target.Binary = filepath.Join(t.TempDir(), "missing")
	assert.ErrorIs(t, f.run(t, time.Second), guards.ErrBinaryNotFound)
}

func TestRunFailsWithoutSeeds(t *testing.T) {
	f := newFixture(t, "true")
	f.cfg.Strategy.Backend = "tree"
	f.cfg.Strategy.SeedDir = t.TempDir()
	assert.ErrorIs(t, f.run(t, time.Second), corpus.ErrNoSeeds)
}

func TestPinToCore(t *testing.T) {
	var set unix.CPUSet
	require.NoError(t, unix.SchedGetaffinity(0, &set))
	core := -1
	for i := range 1024 {
		if set.IsSet(i) {
			core = i
			break
		}
	}
	require.GreaterOrEqual(t, core, 0)
	assert.NoError(t, pinToCore(core))
	require.NoError(t, setAffinity(&set))
}
