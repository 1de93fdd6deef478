// Package sink provides dispatcher sinks.
package sink

import (
	"log"
	"sync"
	"time"

	"github.com/janus-scope/backend/internal/event"
	"github.com/janus-scope/backend/internal/store"
)

const (
	defaultFlushSize     = 64
	defaultFlushInterval = 2 * time.Second

	// maxBuffered caps the retry buffer when the store is down.
	maxBuffered = 4096
)

// Persistence batches envelopes and flushes them to the event store.
// Store failures are logged and the batch retried on the next flush;
// they never propagate to the dispatcher.
type Persistence struct {
	store         *store.Store
	flushSize     int
	flushInterval time.Duration

	mu  sync.Mutex
	buf []*event.Envelope

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewPersistence(st *store.Store, flushSize int, flushInterval time.Duration) *Persistence {
	if flushSize <= 0 {
		flushSize = defaultFlushSize
	}
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	p := &Persistence{
		store:         st,
		flushSize:     flushSize,
		flushInterval: flushInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go p.flushLoop()
	return p
}

func (p *Persistence) Name() string { return "persistence" }

func (p *Persistence) OnConnected() {}

func (p *Persistence) OnEnvelope(env *event.Envelope) {
	p.mu.Lock()
	p.buf = append(p.buf, env)
	if len(p.buf) > maxBuffered {
		p.buf = p.buf[len(p.buf)-maxBuffered:]
	}
	shouldFlush := len(p.buf) >= p.flushSize
	p.mu.Unlock()

	if shouldFlush {
		p.Flush()
	}
}

func (p *Persistence) OnSessionLost(err error) {
	// Make sure everything seen before the loss is durable.
	p.Flush()
}

// Flush writes the buffered envelopes. On failure the batch stays
// buffered for the next attempt.
func (p *Persistence) Flush() {
	p.mu.Lock()
	batch := p.buf
	p.buf = nil
	p.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	if err := p.store.BatchInsert(batch); err != nil {
		log.Printf("event store flush failed, will retry: %v", err)
		p.mu.Lock()
		p.buf = append(batch, p.buf...)
		if len(p.buf) > maxBuffered {
			p.buf = p.buf[len(p.buf)-maxBuffered:]
		}
		p.mu.Unlock()
	}
}

func (p *Persistence) flushLoop() {
	defer close(p.done)
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.Flush()
		case <-p.stop:
			p.Flush()
			return
		}
	}
}

// Close flushes outstanding envelopes and stops the flush loop.
func (p *Persistence) Close() {
	p.stopOnce.Do(func() {
		close(p.stop)
	})
	<-p.done
}
