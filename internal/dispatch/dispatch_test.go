package dispatch

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/janus-scope/backend/internal/event"
)

// testSink records everything it observes. block, when non-nil, gates
// each OnEnvelope call.
type testSink struct {
	name  string
	block chan struct{}

	mu        sync.Mutex
	envelopes []*event.Envelope
	lost      []error
	connected int
	panicOn   int64 // session id that triggers a panic
}

func newTestSink(name string) *testSink {
	return &testSink{name: name}
}

func (s *testSink) Name() string { return s.name }

func (s *testSink) OnConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected++
}

func (s *testSink) OnEnvelope(env *event.Envelope) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	if s.panicOn != 0 && env.SessionID == s.panicOn {
		s.mu.Unlock()
		panic("sink failure")
	}
	s.envelopes = append(s.envelopes, env)
	s.mu.Unlock()
}

func (s *testSink) OnSessionLost(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lost = append(s.lost, err)
}

func (s *testSink) received() []*event.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*event.Envelope, len(s.envelopes))
	copy(out, s.envelopes)
	return out
}

func envelope(sessionID int64) *event.Envelope {
	return &event.Envelope{Type: event.TypeSession, SessionID: sessionID}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func TestDispatchPreservesPerSinkOrder(t *testing.T) {
	d := New(Options{QueueSize: 128})
	defer d.Close()

	sink := newTestSink("order")
	if err := d.Register(sink); err != nil {
		t.Fatal(err)
	}

	const n = 100
	for i := int64(1); i <= n; i++ {
		d.Dispatch(envelope(i))
	}

	waitFor(t, func() bool { return len(sink.received()) == n })

	got := sink.received()
	for i, env := range got {
		if env.SessionID != int64(i+1) {
			t.Fatalf("envelope[%d].SessionID = %d, want %d", i, env.SessionID, i+1)
		}
	}
}

func TestSlowSinkDropsOldestNotCaller(t *testing.T) {
	const bound = 8
	d := New(Options{QueueSize: bound})
	defer d.Close()

	slow := newTestSink("slow")
	slow.block = make(chan struct{})
	if err := d.Register(slow); err != nil {
		t.Fatal(err)
	}

	// Saturate: one envelope is parked in the worker, bound more fit
	// in the queue, the rest push out the oldest.
	start := time.Now()
	const total = 50
	for i := int64(1); i <= total; i++ {
		d.Dispatch(envelope(i))
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("dispatch blocked for %s", elapsed)
	}

	waitFor(t, func() bool { return d.Drops("slow") > 0 })
	drops := d.Drops("slow")

	close(slow.block)
	waitFor(t, func() bool { return len(slow.received()) >= total-int(drops)-1 })

	if got := len(slow.received()); got > bound+1 {
		// At most one in-flight plus a full queue survive saturation.
		t.Errorf("sink received %d envelopes, queue bound %d", got, bound)
	}
	if d.Drops("slow") < drops {
		t.Error("drop counter decreased")
	}

	// The newest envelopes survive; the oldest were dropped.
	got := slow.received()
	if len(got) == 0 || got[len(got)-1].SessionID != total {
		t.Errorf("newest envelope missing, last = %+v", got[len(got)-1])
	}
}

func TestSinkFailureIsolation(t *testing.T) {
	d := New(Options{QueueSize: 16})
	defer d.Close()

	bad := newTestSink("bad")
	bad.panicOn = 2
	good := newTestSink("good")
	if err := d.Register(bad); err != nil {
		t.Fatal(err)
	}
	if err := d.Register(good); err != nil {
		t.Fatal(err)
	}

	for i := int64(1); i <= 3; i++ {
		d.Dispatch(envelope(i))
	}

	waitFor(t, func() bool { return len(good.received()) == 3 })
	waitFor(t, func() bool { return len(bad.received()) == 2 }) // 1 and 3; 2 panicked
}

func TestLifecycleNotificationsInOrder(t *testing.T) {
	d := New(Options{QueueSize: 16})
	defer d.Close()

	sink := newTestSink("life")
	if err := d.Register(sink); err != nil {
		t.Fatal(err)
	}

	d.NotifyConnected()
	d.Dispatch(envelope(1))
	d.OnSessionLost(fmt.Errorf("lost"))

	waitFor(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return sink.connected == 1 && len(sink.envelopes) == 1 && len(sink.lost) == 1
	})
}

func TestCloseDrainsQueuedWork(t *testing.T) {
	d := New(Options{QueueSize: 64, DrainTimeout: 2 * time.Second})

	sink := newTestSink("drain")
	if err := d.Register(sink); err != nil {
		t.Fatal(err)
	}

	const n = 20
	for i := int64(1); i <= n; i++ {
		d.Dispatch(envelope(i))
	}

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := len(sink.received()); got != n {
		t.Errorf("drained %d envelopes, want %d", got, n)
	}

	// Dispatch after close is a no-op, not a panic.
	d.Dispatch(envelope(99))
	if err := d.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestCloseDrainTimeout(t *testing.T) {
	d := New(Options{QueueSize: 4, DrainTimeout: 50 * time.Millisecond})

	stuck := newTestSink("stuck")
	stuck.block = make(chan struct{})
	defer close(stuck.block)
	if err := d.Register(stuck); err != nil {
		t.Fatal(err)
	}

	d.Dispatch(envelope(1))
	d.Dispatch(envelope(2))

	start := time.Now()
	err := d.Close()
	if err == nil {
		t.Fatal("expected drain timeout error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Close took %s, drain timeout not honored", elapsed)
	}
}

func TestCloseWhileDispatchingDoesNotPanic(t *testing.T) {
	// Dispatchers race against Close here: producers snapshot the
	// worker set before Close tears it down, so late enqueues must be
	// discarded rather than hit a closed queue.
	for round := 0; round < 25; round++ {
		d := New(Options{QueueSize: 4, DrainTimeout: 50 * time.Millisecond})

		stuck := newTestSink("stuck")
		stuck.block = make(chan struct{})
		if err := d.Register(stuck); err != nil {
			t.Fatal(err)
		}

		var panics atomic.Int64
		start := make(chan struct{})
		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						panics.Add(1)
						t.Errorf("Dispatch panicked: %v", r)
					}
				}()
				<-start
				for i := int64(1); i <= 200; i++ {
					d.Dispatch(envelope(i))
				}
			}()
		}

		close(start)
		d.Close()
		close(stuck.block)
		wg.Wait()

		if panics.Load() != 0 {
			t.Fatalf("round %d: %d producers panicked", round, panics.Load())
		}
	}
}

func TestRegisterDuplicate(t *testing.T) {
	d := New(Options{})
	defer d.Close()

	if err := d.Register(newTestSink("dup")); err != nil {
		t.Fatal(err)
	}
	if err := d.Register(newTestSink("dup")); err == nil {
		t.Error("duplicate registration accepted")
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	d := New(Options{QueueSize: 16})
	defer d.Close()

	sink := newTestSink("gone")
	if err := d.Register(sink); err != nil {
		t.Fatal(err)
	}

	d.Dispatch(envelope(1))
	waitFor(t, func() bool { return len(sink.received()) == 1 })

	d.Unregister("gone")
	d.Dispatch(envelope(2))

	time.Sleep(20 * time.Millisecond)
	if got := len(sink.received()); got != 1 {
		t.Errorf("received %d envelopes after unregister, want 1", got)
	}
}
