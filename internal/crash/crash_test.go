package crash

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"corrfuzz/internal/engine"
	"corrfuzz/internal/executor"
	"corrfuzz/internal/utils"
	"corrfuzz/pkg/telemetry"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMQ struct {
	mu       sync.Mutex
	messages []ObjectiveMessage
}

func (f *fakeMQ) GetChannel() *amqp.Channel { return nil }

func (f *fakeMQ) PublishJSON(ctx context.Context, queue string, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, v.(ObjectiveMessage))
	return nil
}

func TestCrashFolder(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "worker_2", "crashes"), CrashFolder("out", 2))
}

func TestObjectivesAreStoredByContent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "crashes")
	broker := &fakeMQ{}
	c, err := New(dir, nil, broker, zap.NewNop())
	require.NoError(t, err)
	c.Start()

	ctx := context.WithValue(context.Background(), telemetry.TracerKey{}, &telemetry.DummyTracer{})
	ch := make(chan engine.Objective)
	c.RegisterObjectiveChan(ctx, ch)
	ch <- engine.Objective{Worker: 1, Data: []byte("boom"), Outcome: executor.Crash, Executions: 10}
	ch <- engine.Objective{Worker: 1, Data: []byte("boom"), Outcome: executor.Crash, Executions: 11}
	ch <- engine.Objective{Worker: 1, Data: []byte("slow"), Outcome: executor.Timeout, Executions: 12}
	close(ch)
	c.Stop()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	data, err := os.ReadFile(filepath.Join(dir, utils.ContentName([]byte("slow"))))
	require.NoError(t, err)
	assert.Equal(t, "slow", string(data))

	require.Len(t, broker.messages, 3)
	assert.Equal(t, "timeout", broker.messages[2].Outcome)
	assert.Equal(t, filepath.Join(dir, utils.ContentName([]byte("slow"))), broker.messages[2].Path)
}
