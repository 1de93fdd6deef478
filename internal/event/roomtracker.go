package event

import "sync"

// RoomObserver receives video-room occupancy callbacks derived from
// plugin events. Callbacks run synchronously on the goroutine that calls
// RoomTracker.Observe, one at a time.
type RoomObserver interface {
	OnParticipantJoined(room string, p Participant)
	OnParticipantLeft(room string, p Participant)

	// OnRoomStarted fires when the first participant joins an empty room.
	OnRoomStarted(room string, first Participant)

	// OnRoomEnded fires when the last participant leaves.
	OnRoomEnded(room string)
}

// RoomTracker maintains per-room participant lists from video-room
// joined/leaving events and notifies observers of occupancy changes.
// Safe for concurrent use.
type RoomTracker struct {
	mu        sync.Mutex
	rooms     map[string][]Participant
	observers []RoomObserver
}

func NewRoomTracker(observers ...RoomObserver) *RoomTracker {
	return &RoomTracker{
		rooms:     make(map[string][]Participant),
		observers: observers,
	}
}

// Observe inspects a decoded envelope and updates room occupancy.
// Envelopes that are not video-room joined/leaving events are ignored.
func (t *RoomTracker) Observe(env *Envelope) {
	if env.Type != TypePlugin || env.Plugin == nil || env.Plugin.VideoRoom == nil {
		return
	}
	data := env.Plugin.VideoRoom
	room := data.Room.String()
	if room == "" {
		return
	}

	switch data.Event {
	case "joined":
		t.joined(room, data.Participant())
	case "leaving":
		t.leaving(room, data.ID)
	}
}

func (t *RoomTracker) joined(room string, p Participant) {
	t.mu.Lock()
	existing := t.rooms[room]
	first := len(existing) == 0
	t.rooms[room] = append(existing, p)
	t.mu.Unlock()

	if first {
		for _, o := range t.observers {
			o.OnRoomStarted(room, p)
		}
	}
	for _, o := range t.observers {
		o.OnParticipantJoined(room, p)
	}
}

func (t *RoomTracker) leaving(room string, id int64) {
	t.mu.Lock()
	participants, ok := t.rooms[room]
	if !ok {
		t.mu.Unlock()
		return
	}
	var left *Participant
	for i, p := range participants {
		if p.ID == id {
			left = &p
			t.rooms[room] = append(participants[:i], participants[i+1:]...)
			break
		}
	}
	empty := len(t.rooms[room]) == 0
	if empty {
		delete(t.rooms, room)
	}
	t.mu.Unlock()

	if left == nil {
		return
	}
	for _, o := range t.observers {
		o.OnParticipantLeft(room, *left)
	}
	if empty {
		for _, o := range t.observers {
			o.OnRoomEnded(room)
		}
	}
}

// Participants returns a snapshot of the room's current members.
func (t *RoomTracker) Participants(room string) []Participant {
	t.mu.Lock()
	defer t.mu.Unlock()
	src := t.rooms[room]
	out := make([]Participant, len(src))
	copy(out, src)
	return out
}
