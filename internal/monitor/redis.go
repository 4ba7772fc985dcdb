package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisTimeout = time.Second

// RedisMonitor mirrors the latest snapshot of each worker into a hash at
// corrfuzz:worker:<id>.
type RedisMonitor struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisMonitor(client *redis.Client, logger *zap.Logger) *RedisMonitor {
	return &RedisMonitor{client, logger}
}

func RedisKey(worker int) string {
	return fmt.Sprintf("corrfuzz:worker:%d", worker)
}

func (m *RedisMonitor) Display(event string, stats *ClientStats) {
	values := map[string]any{
		"event":         event,
		"executions":    stats.Executions,
		"corpus":        stats.Corpus,
		"objectives":    stats.Objectives,
		"execs_per_sec": stats.ExecsPerSec,
		"run_time_ms":   stats.RunTime.Milliseconds(),
	}
	for name, value := range stats.UserStats {
		values["user:"+name] = value
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	if err := m.client.HSet(ctx, RedisKey(stats.Worker), values).Err(); err != nil {
		m.logger.Warn("failed to publish stats to redis", zap.Error(err))
	}
}
