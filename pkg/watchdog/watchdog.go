package watchdog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultSettle is how long a file must stay untouched before it is reported.
const DefaultSettle = 200 * time.Millisecond

type WatchDogFactory struct {
	logger *zap.Logger
	settle time.Duration
}

type filterFun func(string) bool

type WatchDog struct {
	watchCtx   context.Context
	notifyChan chan<- string
	filter     filterFun
	logger     *zap.Logger
	settle     time.Duration

	// states
	watcher *fsnotify.Watcher
	pending map[string]time.Time
}

func NewWatchDogFactory(logger *zap.Logger) *WatchDogFactory {
	return &WatchDogFactory{
		logger: logger,
		settle: DefaultSettle,
	}
}

// WithSettle overrides the quiet period for watchdogs created afterwards.
func (w *WatchDogFactory) WithSettle(settle time.Duration) *WatchDogFactory {
	if settle <= 0 {
		settle = DefaultSettle
	}
	w.settle = settle
	return w
}

// create a new WatchDog reporting files that appear in the watched directories
//
// - `watchCtx` is the context to control the lifecycle of the watcher. After the context is done, the watcher will stop watching.
//
// - `notifyChan` receives the path of every new file once it stopped changing. It is closed when the watcher stops.
//
// - `filter` is a function to filter the events. If it returns false, the event will be ignored. If set to nil, all events will be sent.
func (w *WatchDogFactory) New(watchCtx context.Context, notifyChan chan<- string, filter filterFun) (*WatchDog, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	watchDog := &WatchDog{
		watchCtx,
		notifyChan, // send only channel
		filter,
		w.logger,
		w.settle,
		watcher,
		make(map[string]time.Time),
	}

	go watchDog.watch()

	return watchDog, nil
}

// add a directory to the watch list
func (w *WatchDog) AddDir(dir string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path of %s: %w", dir, err)
	}
	if _, err := os.Stat(absDir); err != nil {
		return fmt.Errorf("directory %s is not accessible: %w", absDir, err)
	}
	if err := w.watcher.Add(absDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", absDir, err)
	}
	w.logger.Debug("Added directory to watch list", zap.String("dir", absDir))
	return nil
}

func (w *WatchDog) watch() {
	defer w.watcher.Close()
	defer close(w.notifyChan)

	ticker := time.NewTicker(w.settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.watchCtx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				w.logger.Debug("fsnotify channel closed")
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				w.logger.Debug("fsnotify error channel closed")
				return
			}
			w.logger.Error("fsnotify error", zap.Error(err))
		case now := <-ticker.C:
			if !w.flush(now) {
				return
			}
		}
	}
}

func (w *WatchDog) handleEvent(event fsnotify.Event) {
	w.logger.Debug("fsnotify event", zap.String("event", event.String()))
	switch {
	case event.Has(fsnotify.Create):
		if w.filter != nil && !w.filter(event.Name) {
			w.logger.Debug("File ignored by filter", zap.String("file", event.Name))
			return
		}
		w.pending[event.Name] = time.Now()
	case event.Has(fsnotify.Write):
		// still being written, push the deadline
		if _, ok := w.pending[event.Name]; ok {
			w.pending[event.Name] = time.Now()
		}
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		delete(w.pending, event.Name)
	}
}

// flush reports settled files. It returns false when the context ended while
// a send was blocked.
func (w *WatchDog) flush(now time.Time) bool {
	for name, last := range w.pending {
		if now.Sub(last) < w.settle {
			continue
		}
		delete(w.pending, name)
		select {
		case w.notifyChan <- name:
			w.logger.Debug("File added to notify channel", zap.String("file", name))
		case <-w.watchCtx.Done():
			return false
		}
	}
	return true
}
