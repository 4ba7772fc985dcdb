package watchdog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWatchDogReportsSettledFiles(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notify := make(chan string, 4)
	factory := NewWatchDogFactory(zap.NewNop()).WithSettle(20 * time.Millisecond)
	wd, err := factory.New(ctx, notify, func(name string) bool {
		return !strings.HasPrefix(filepath.Base(name), ".")
	})
	require.NoError(t, err)
	require.NoError(t, wd.AddDir(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seed"), []byte("int main(){}"), 0644))

	select {
	case name := <-notify:
		assert.Equal(t, filepath.Join(dir, "seed"), name)
	case <-time.After(5 * time.Second):
		t.Fatal("no notification for new seed")
	}

	select {
	case name := <-notify:
		t.Fatalf("unexpected notification for %s", name)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	for range notify {
	}
}

func TestAddDirMissing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wd, err := NewWatchDogFactory(zap.NewNop()).New(ctx, make(chan string), nil)
	require.NoError(t, err)
	assert.Error(t, wd.AddDir(filepath.Join(t.TempDir(), "missing")))
}
