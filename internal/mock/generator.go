// Package mock synthesizes gateway event traffic for demo mode, when no
// real gateway is available.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/janus-scope/backend/internal/dispatch"
	"github.com/janus-scope/backend/internal/event"
)

const emitter = "mock-janus"

// mockPeer is one scripted publisher: it creates a session, attaches a
// videoroom handle, joins a room, publishes media stats and leaves.
type mockPeer struct {
	sessionID int64
	handleID  int64
	room      event.RoomID
	display   string

	joinTick  int
	leaveTick int // 0 = stays until the generator stops

	started   bool
	joined    bool
	left      bool
	bytesSent int64
	bytesRecv int64
}

type Generator struct {
	dispatcher *dispatch.Dispatcher
	interval   time.Duration
	peers      []*mockPeer
}

func NewGenerator(d *dispatch.Dispatcher) *Generator {
	return &Generator{
		dispatcher: d,
		interval:   500 * time.Millisecond,
		peers: []*mockPeer{
			{sessionID: 1001, handleID: 2001, room: "1234", display: "alice", joinTick: 2, leaveTick: 80},
			{sessionID: 1002, handleID: 2002, room: "1234", display: "bob", joinTick: 5, leaveTick: 0},
			{sessionID: 1003, handleID: 2003, room: "1234", display: "carol", joinTick: 9, leaveTick: 60},
			{sessionID: 1004, handleID: 2004, room: "lobby", display: "dave", joinTick: 4, leaveTick: 0},
			{sessionID: 1005, handleID: 2005, room: "lobby", display: "erin", joinTick: 12, leaveTick: 100},
		},
	}
}

func (g *Generator) Start(ctx context.Context) {
	g.dispatcher.NotifyConnected()
	go g.run(ctx)
}

func (g *Generator) run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			for _, p := range g.peers {
				g.advancePeer(p, tick)
			}
			if tick%20 == 0 {
				g.emitCoreStatus()
			}
		}
	}
}

func (g *Generator) advancePeer(p *mockPeer, tick int) {
	if p.left || tick < p.joinTick {
		return
	}

	switch {
	case !p.started:
		p.started = true
		g.emit(&event.Envelope{
			Type:      event.TypeSession,
			SessionID: p.sessionID,
			Session:   &event.SessionPayload{Name: "created"},
		})
		g.emit(&event.Envelope{
			Type:      event.TypeHandle,
			SessionID: p.sessionID,
			HandleID:  p.handleID,
			Handle:    &event.HandlePayload{Name: "attached", Plugin: event.VideoRoomPlugin},
		})

	case !p.joined:
		p.joined = true
		g.emit(&event.Envelope{
			Type:      event.TypeWebRTCState,
			Subtype:   1,
			SessionID: p.sessionID,
			HandleID:  p.handleID,
			WebRTC:    &event.WebRTCStatePayload{ICE: "connected", DTLS: "connected"},
		})
		g.emitVideoRoom(p, map[string]any{
			"event":   "joined",
			"room":    p.room,
			"id":      p.sessionID,
			"display": p.display,
		})

	case p.leaveTick > 0 && tick >= p.leaveTick:
		p.left = true
		g.emitVideoRoom(p, map[string]any{
			"event": "leaving",
			"room":  p.room,
			"id":    p.sessionID,
		})
		g.emit(&event.Envelope{
			Type:      event.TypeSession,
			SessionID: p.sessionID,
			Session:   &event.SessionPayload{Name: "destroyed"},
		})

	default:
		p.bytesSent += int64(8000 + rand.Intn(4000))
		p.bytesRecv += int64(24000 + rand.Intn(8000))
		g.emit(&event.Envelope{
			Type:      event.TypeMedia,
			SessionID: p.sessionID,
			HandleID:  p.handleID,
			Media: &event.MediaPayload{
				Media:         "video",
				BytesSent:     p.bytesSent,
				BytesReceived: p.bytesRecv,
				RTT:           10 + rand.Intn(40),
			},
		})
	}
}

func (g *Generator) emitVideoRoom(p *mockPeer, data map[string]any) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	env := &event.Envelope{
		Type:      event.TypePlugin,
		SessionID: p.sessionID,
		HandleID:  p.handleID,
		Plugin: &event.PluginPayload{
			Plugin: event.VideoRoomPlugin,
			Data:   raw,
		},
	}
	var vr event.VideoRoomData
	if err := json.Unmarshal(raw, &vr); err == nil {
		env.Plugin.VideoRoom = &vr
	}
	g.emit(env)
}

func (g *Generator) emitCoreStatus() {
	active := 0
	for _, p := range g.peers {
		if p.started && !p.left {
			active++
		}
	}
	g.emit(&event.Envelope{
		Type: event.TypeCore,
		Core: &event.CorePayload{
			Status: "update",
			Info: event.CoreInfo{
				Sessions:        int64(active),
				Handles:         int64(active),
				PeerConnections: int64(active),
			},
		},
	})
}

func (g *Generator) emit(env *event.Envelope) {
	env.Emitter = emitter
	env.Timestamp = time.Now().UnixMicro()
	if env.OpaqueID == "" && env.SessionID != 0 {
		env.OpaqueID = fmt.Sprintf("mock-%d", env.SessionID)
	}
	g.dispatcher.Dispatch(env)
}
