package sink

import (
	"log"

	"github.com/janus-scope/backend/internal/event"
)

// Rooms feeds dispatched envelopes into a room occupancy tracker.
type Rooms struct {
	tracker *event.RoomTracker
}

func NewRooms(tracker *event.RoomTracker) *Rooms {
	return &Rooms{tracker: tracker}
}

func (r *Rooms) Name() string { return "rooms" }

func (r *Rooms) OnConnected() {}

func (r *Rooms) OnEnvelope(env *event.Envelope) {
	r.tracker.Observe(env)
}

func (r *Rooms) OnSessionLost(err error) {
	log.Printf("room tracking paused, session lost: %v", err)
}
