package dashboard

import (
	"github.com/janus-scope/backend/internal/event"
	"github.com/janus-scope/backend/internal/store"
)

type MessageType string

const (
	MsgSnapshot MessageType = "snapshot"
	MsgEvents   MessageType = "events"
	MsgStatus   MessageType = "status"
)

// Message is the envelope of every frame sent to dashboard clients.
type Message struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload"`
}

// SnapshotPayload carries the stored history a client receives on connect.
type SnapshotPayload struct {
	Events []store.StoredEvent `json:"events"`
}

// EventsPayload carries a throttled batch of live envelopes.
type EventsPayload struct {
	Events []*event.Envelope `json:"events"`
}

// StatusPayload reports gateway connectivity transitions.
type StatusPayload struct {
	Gateway string `json:"gateway"`
	Detail  string `json:"detail,omitempty"`
}
