package mock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/janus-scope/backend/internal/dispatch"
	"github.com/janus-scope/backend/internal/event"
	"github.com/janus-scope/backend/internal/sink"
)

type captureSink struct {
	mu        sync.Mutex
	envelopes []*event.Envelope
	connected int
}

func (c *captureSink) Name() string { return "capture" }

func (c *captureSink) OnConnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected++
}

func (c *captureSink) OnEnvelope(env *event.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envelopes = append(c.envelopes, env)
}

func (c *captureSink) OnSessionLost(err error) {}

func (c *captureSink) byType() map[event.Type][]*event.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[event.Type][]*event.Envelope)
	for _, env := range c.envelopes {
		out[env.Type] = append(out[env.Type], env)
	}
	return out
}

func TestGeneratorProducesLifecycle(t *testing.T) {
	d := dispatch.New(dispatch.Options{QueueSize: 1024})
	defer d.Close()
	capture := &captureSink{}
	if err := d.Register(capture); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g := NewGenerator(d)
	g.interval = 2 * time.Millisecond
	g.Start(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		byType := capture.byType()
		if len(byType[event.TypeSession]) > 0 && len(byType[event.TypeHandle]) > 0 &&
			len(byType[event.TypePlugin]) > 0 && len(byType[event.TypeMedia]) > 5 &&
			len(byType[event.TypeCore]) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	byType := capture.byType()
	if len(byType[event.TypeSession]) == 0 {
		t.Error("no session events generated")
	}
	if len(byType[event.TypeMedia]) == 0 {
		t.Fatal("no media events generated")
	}
	if len(byType[event.TypeCore]) == 0 {
		t.Error("no core status events generated")
	}

	capture.mu.Lock()
	connected := capture.connected
	capture.mu.Unlock()
	if connected != 1 {
		t.Errorf("OnConnected fired %d times, want 1", connected)
	}

	for _, env := range byType[event.TypePlugin] {
		if env.Plugin == nil || env.Plugin.Plugin != event.VideoRoomPlugin {
			t.Fatalf("plugin envelope without videoroom payload: %+v", env)
		}
		if env.Plugin.VideoRoom == nil {
			t.Fatal("videoroom data not decoded on generated event")
		}
		if env.Plugin.VideoRoom.Room == "" {
			t.Error("generated videoroom event has no room")
		}
	}

	for _, env := range byType[event.TypeMedia] {
		if env.Emitter != emitter {
			t.Fatalf("emitter = %q, want %q", env.Emitter, emitter)
		}
		if env.Timestamp == 0 {
			t.Fatal("generated envelope without timestamp")
		}
	}
}

func TestGeneratorFeedsRoomTracker(t *testing.T) {
	d := dispatch.New(dispatch.Options{QueueSize: 1024})
	defer d.Close()

	tracker := event.NewRoomTracker()
	if err := d.Register(sink.NewRooms(tracker)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g := NewGenerator(d)
	g.interval = 2 * time.Millisecond
	g.Start(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(tracker.Participants("1234")) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if len(tracker.Participants("1234")) == 0 {
		t.Fatal("room tracker saw no joins from generated traffic")
	}
}
