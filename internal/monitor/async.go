package monitor

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// AsyncBuffer is the default number of snapshots an Async monitor queues.
const AsyncBuffer = 64

type display struct {
	event string
	stats *ClientStats
}

// Async hands displays to a goroutine that feeds the wrapped monitor, so sinks
// doing I/O never stall the fuzz loop. Displays arriving while the queue is
// full are dropped and counted. Snapshots must not be modified after Display.
type Async struct {
	inner    Monitor
	logger   *zap.Logger
	queue    chan display
	stop     chan struct{}
	done     chan struct{}
	dropped  atomic.Uint64
	stopOnce sync.Once
}

func NewAsync(inner Monitor, buffer int, logger *zap.Logger) *Async {
	if buffer <= 0 {
		buffer = AsyncBuffer
	}
	a := &Async{
		inner:  inner,
		logger: logger,
		queue:  make(chan display, buffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) Display(event string, stats *ClientStats) {
	select {
	case <-a.stop:
		return
	default:
	}
	select {
	case a.queue <- display{event, stats}:
	default:
		a.dropped.Add(1)
	}
}

// Dropped is the number of displays discarded on a full queue.
func (a *Async) Dropped() uint64 {
	return a.dropped.Load()
}

// Close flushes the queued displays and stops the goroutine. Later displays
// are ignored.
func (a *Async) Close() {
	a.stopOnce.Do(func() { close(a.stop) })
	<-a.done
	if n := a.Dropped(); n > 0 {
		a.logger.Debug("stats displays dropped", zap.Uint64("count", n))
	}
}

func (a *Async) run() {
	defer close(a.done)
	for {
		select {
		case d := <-a.queue:
			a.inner.Display(d.event, d.stats)
		case <-a.stop:
			for {
				select {
				case d := <-a.queue:
					a.inner.Display(d.event, d.stats)
				default:
					return
				}
			}
		}
	}
}
