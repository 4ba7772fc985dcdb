package corpus

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"corrfuzz/internal/engine"
	"corrfuzz/pkg/watchdog"

	"go.uber.org/zap"
)

// SyncBuffer is how many synced seeds may wait for the fuzz loop.
const SyncBuffer = 64

type EncodeFunc func([]byte) (engine.Input, error)

// Syncer turns files that appear in a seed directory into inputs.
type Syncer struct {
	watchdogs *watchdog.WatchDogFactory
	encode    EncodeFunc
	logger    *zap.Logger
}

func NewSyncer(watchdogs *watchdog.WatchDogFactory, encode EncodeFunc, logger *zap.Logger) *Syncer {
	return &Syncer{watchdogs, encode, logger}
}

// Start watches dir until ctx is done. The returned channel is closed when
// watching stops.
func (s *Syncer) Start(ctx context.Context, dir string) (<-chan engine.Input, error) {
	files := make(chan string)
	wd, err := s.watchdogs.New(ctx, files, func(name string) bool {
		return !strings.HasPrefix(filepath.Base(name), ".")
	})
	if err != nil {
		return nil, err
	}
	if err := wd.AddDir(dir); err != nil {
		return nil, fmt.Errorf("failed to watch seed dir: %w", err)
	}

	out := make(chan engine.Input, SyncBuffer)
	go func() {
		defer close(out)
		for name := range files {
			data, err := os.ReadFile(name)
			if err != nil {
				s.logger.Warn("failed to read synced seed", zap.String("seed", name), zap.Error(err))
				continue
			}
			input, err := s.encode(data)
			if err != nil {
				s.logger.Warn("failed to encode synced seed", zap.String("seed", name), zap.Error(err))
				continue
			}
			select {
			case out <- input:
				s.logger.Debug("synced seed", zap.String("seed", name))
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
