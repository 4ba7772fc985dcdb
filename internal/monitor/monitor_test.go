package monitor

import (
	"bufio"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func sample() *ClientStats {
	return &ClientStats{
		Worker:      1,
		Executions:  100,
		Corpus:      3,
		Objectives:  1,
		ExecsPerSec: 12.5,
		RunTime:     8 * time.Second,
		UserStats:   map[string]string{"correctness-relative": "3: 1.000"},
	}
}

type recorder struct{ events []string }

func (r *recorder) Display(event string, _ *ClientStats) { r.events = append(r.events, event) }

func TestMulti(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Multi{a, b}.Display(EventHeartbeat, sample())
	assert.Equal(t, []string{EventHeartbeat}, a.events)
	assert.Equal(t, []string{EventHeartbeat}, b.events)
}

func TestLogMonitor(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	NewLogMonitor(zap.New(core)).Display(EventUserStats, sample())

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, EventUserStats, entry.Message)
	assert.Equal(t, "3: 1.000", entry.ContextMap()["correctness-relative"])
	assert.Equal(t, uint64(100), entry.ContextMap()["executions"])
}

func TestJSONMonitorAppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	m := NewJSONMonitor(path, zap.NewNop())
	m.Display(EventTestcase, sample())
	m.Display(EventObjective, sample())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		events = append(events, rec["event"].(string))
		assert.Equal(t, float64(100), rec["executions"])
	}
	assert.Equal(t, []string{EventTestcase, EventObjective}, events)
}

func TestPrometheusMonitor(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewPrometheusMonitor(reg)
	require.NoError(t, err)

	m.Display(EventHeartbeat, sample())
	m.Display(EventHeartbeat, sample())

	assert.Equal(t, float64(100), testutil.ToFloat64(m.executions.WithLabelValues("1")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.events.WithLabelValues("1", EventHeartbeat)))

	_, err = NewPrometheusMonitor(reg)
	assert.Error(t, err, "double registration must fail")
}

func TestWorkerAddr(t *testing.T) {
	addr, err := WorkerAddr("127.0.0.1:9100", 3)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9103", addr)

	addr, err = WorkerAddr(":9100", 0)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(addr, ":9100"))

	_, err = WorkerAddr("nonsense", 1)
	assert.Error(t, err)
}

func TestRedisKey(t *testing.T) {
	assert.Equal(t, "corrfuzz:worker:4", RedisKey(4))
}

type blockingMonitor struct {
	release chan struct{}
	mu      sync.Mutex
	events  []string
}

func (b *blockingMonitor) Display(event string, _ *ClientStats) {
	<-b.release
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func TestAsyncNeverBlocksCaller(t *testing.T) {
	inner := &blockingMonitor{release: make(chan struct{})}
	a := NewAsync(inner, 2, zap.NewNop())

	start := time.Now()
	for range 10 {
		a.Display(EventTestcase, sample())
	}
	assert.Less(t, time.Since(start), time.Second)

	close(inner.release)
	a.Close()
	// one display in flight plus a full queue at most
	assert.GreaterOrEqual(t, len(inner.events), 2)
	assert.LessOrEqual(t, len(inner.events), 3)
	assert.Equal(t, uint64(10-len(inner.events)), a.Dropped())

	a.Display(EventHeartbeat, sample())
	assert.NotContains(t, inner.events, EventHeartbeat)
}

func TestAsyncFlushesOnClose(t *testing.T) {
	r := &recorder{}
	a := NewAsync(r, 0, zap.NewNop())
	a.Display(EventTestcase, sample())
	a.Display(EventObjective, sample())
	a.Close()
	assert.Equal(t, []string{EventTestcase, EventObjective}, r.events)
}

// silentServer accepts connections and never answers.
func silentServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})
	return ln.Addr().String()
}

func TestRedisBehindAsyncDoesNotStall(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: silentServer(t), ContextTimeoutEnabled: true})
	defer client.Close()
	a := NewAsync(NewRedisMonitor(client, zap.NewNop()), AsyncBuffer, zap.NewNop())

	start := time.Now()
	for range 3 {
		a.Display(EventTestcase, sample())
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	a.Close()
}
