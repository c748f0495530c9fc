package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering. A disabled config yields a nil
// dispatcher, whose methods are all no-ops.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events instead of blocking the caller when the
	// buffer is full. Dropped events are counted.
	DropIfFull bool
}

// Dispatcher forwards events to a sink from one background goroutine, so
// a slow sink never runs on the request path.
type Dispatcher struct {
	sink       Sink
	queue      chan Event
	stop       chan struct{}
	dropIfFull bool

	wg      sync.WaitGroup
	dropped atomic.Uint64
	closed  atomic.Bool
	once    sync.Once
}

func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink:       sink,
		queue:      make(chan Event, size),
		stop:       make(chan struct{}),
		dropIfFull: cfg.DropIfFull,
	}
	d.wg.Add(1)
	go d.deliver()
	return d
}

func (d *Dispatcher) deliver() {
	defer d.wg.Done()
	ctx := context.Background()

	for {
		select {
		case event := <-d.queue:
			d.sink.Emit(ctx, event)
		case <-d.stop:
			// Drain what was queued before Close.
			for {
				select {
				case event := <-d.queue:
					d.sink.Emit(ctx, event)
				default:
					return
				}
			}
		}
	}
}

// Emit queues event. It blocks only when the buffer is full and DropIfFull
// is off, and then gives up when ctx ends or the dispatcher closes.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}

	if d.dropIfFull {
		select {
		case d.queue <- event:
		case <-d.stop:
		default:
			d.dropped.Add(1)
		}
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.stop:
	}
}

// Close stops accepting events, flushes the buffer to the sink and waits
// for delivery to finish. It is safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.stop)
		d.wg.Wait()
	})
}

// Dropped counts events lost to a full buffer or a cancelled context.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Pending is the number of queued, undelivered events.
func (d *Dispatcher) Pending() int {
	if d == nil {
		return 0
	}
	return len(d.queue)
}
