package dispatch

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/janus-scope/backend/internal/event"
	"github.com/janus-scope/backend/internal/metrics"
)

// Sink consumes dispatched envelopes and lifecycle notifications. All
// callbacks for one sink run on that sink's own worker goroutine, in
// enqueue order; a sink may block or fail without affecting the
// transport or other sinks.
type Sink interface {
	Name() string
	OnConnected()
	OnEnvelope(env *event.Envelope)
	OnSessionLost(err error)
}

// Options configures the Dispatcher.
type Options struct {
	// QueueSize bounds each sink's pending queue. When a sink's queue
	// is saturated the oldest pending item is dropped, never the
	// caller blocked.
	QueueSize int

	// DrainTimeout caps how long Close waits for sink workers to
	// finish their queues.
	DrainTimeout time.Duration
}

const (
	defaultQueueSize    = 256
	defaultDrainTimeout = 5 * time.Second
)

// item is one unit of work for a sink worker. Lifecycle notifications
// travel through the same queue as envelopes so a sink observes them in
// order relative to event delivery.
type item struct {
	env       *event.Envelope
	lost      error
	connected bool
}

type sinkWorker struct {
	sink  Sink
	queue chan item
	done  chan struct{}
	drops atomic.Uint64

	// mu serializes enqueue against stop so no producer can write to
	// queue after it closes. Producers keep worker references outside
	// the dispatcher lock, so the worker carries its own guard.
	mu     sync.Mutex
	closed bool
}

// Dispatcher fans decoded envelopes out to registered sinks without
// blocking the caller. It owns its worker pool explicitly: one worker
// per sink, created on Register and torn down on Unregister or Close.
type Dispatcher struct {
	opts Options

	mu     sync.Mutex
	sinks  map[string]*sinkWorker
	closed bool
}

func New(opts Options) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaultDrainTimeout
	}
	return &Dispatcher{
		opts:  opts,
		sinks: make(map[string]*sinkWorker),
	}
}

// Register adds a sink and starts its worker. Sink names must be unique.
func (d *Dispatcher) Register(s Sink) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("dispatcher closed")
	}
	if _, exists := d.sinks[s.Name()]; exists {
		return fmt.Errorf("sink %q already registered", s.Name())
	}
	w := &sinkWorker{
		sink:  s,
		queue: make(chan item, d.opts.QueueSize),
		done:  make(chan struct{}),
	}
	d.sinks[s.Name()] = w
	go w.run()
	return nil
}

// Unregister removes a sink; its worker drains what is already queued
// and exits.
func (d *Dispatcher) Unregister(name string) {
	d.mu.Lock()
	w, ok := d.sinks[name]
	if ok {
		delete(d.sinks, name)
	}
	d.mu.Unlock()
	if ok {
		w.stop()
	}
}

// Dispatch hands the envelope to every sink's queue and returns
// immediately. Called once per decoded envelope on the receive path.
func (d *Dispatcher) Dispatch(env *event.Envelope) {
	d.each(item{env: env})
}

// NotifyConnected tells every sink the transport is up.
func (d *Dispatcher) NotifyConnected() {
	d.each(item{connected: true})
}

// OnSessionLost broadcasts a session-lost notification to every sink.
// Implements the gateway observer interface.
func (d *Dispatcher) OnSessionLost(err error) {
	d.each(item{lost: err})
}

func (d *Dispatcher) each(it item) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	workers := make([]*sinkWorker, 0, len(d.sinks))
	for _, w := range d.sinks {
		workers = append(workers, w)
	}
	d.mu.Unlock()

	for _, w := range workers {
		w.enqueue(it)
	}
}

// Drops returns the number of items dropped for the named sink.
func (d *Dispatcher) Drops(name string) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok := d.sinks[name]; ok {
		return w.drops.Load()
	}
	return 0
}

// Close stops accepting work and drains the sink workers, waiting at
// most DrainTimeout before giving up. Idempotent.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	workers := make([]*sinkWorker, 0, len(d.sinks))
	for _, w := range d.sinks {
		workers = append(workers, w)
	}
	d.sinks = make(map[string]*sinkWorker)
	d.mu.Unlock()

	for _, w := range workers {
		w.stop()
	}

	drained := make(chan struct{})
	go func() {
		for _, w := range workers {
			<-w.done
		}
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-time.After(d.opts.DrainTimeout):
		return fmt.Errorf("drain timeout after %s", d.opts.DrainTimeout)
	}
}

// enqueue adds the item without ever blocking: when the queue is full
// the oldest pending item is discarded and counted as a drop. Items
// arriving after stop are discarded silently.
func (w *sinkWorker) enqueue(it item) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	for {
		select {
		case w.queue <- it:
			return
		default:
		}
		select {
		case <-w.queue:
			w.drops.Add(1)
			metrics.DispatchDrops.WithLabelValues(w.sink.Name()).Inc()
		default:
		}
	}
}

// stop closes the queue once no enqueue is in flight, letting the
// worker drain what is already buffered and exit. Idempotent.
func (w *sinkWorker) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.queue)
}

// run delivers queued items until the queue closes. Sink panics are
// contained here so one misbehaving sink cannot take down the others.
func (w *sinkWorker) run() {
	defer close(w.done)
	for it := range w.queue {
		w.deliver(it)
	}
}

func (w *sinkWorker) deliver(it item) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("sink %q panicked: %v", w.sink.Name(), r)
		}
	}()
	switch {
	case it.connected:
		w.sink.OnConnected()
	case it.lost != nil:
		w.sink.OnSessionLost(it.lost)
	case it.env != nil:
		w.sink.OnEnvelope(it.env)
	}
}
