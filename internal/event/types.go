package event

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Type identifies the category of a gateway event. The wire field is
// declared as a bitmask for forward compatibility with the gateway's C
// API, but every frame carries exactly one set bit, so it is modeled as
// a closed enumeration.
type Type int

const (
	TypeSession     Type = 1   // session created/destroyed/timeout
	TypeHandle      Type = 2   // plugin handle attached/detached
	TypeJSEP        Type = 8   // SDP offer/answer exchanged
	TypeWebRTCState Type = 16  // ICE/DTLS state, candidates
	TypePlugin      Type = 32  // plugin-originated event
	TypeMedia       Type = 64  // media state and RTP statistics
	TypeTransport   Type = 128 // transport-originated (e.g. ws connect)
	TypeCore        Type = 256 // gateway startup/shutdown/status
)

var typeNames = map[Type]string{
	TypeSession:     "session",
	TypeHandle:      "handle",
	TypeJSEP:        "jsep",
	TypeWebRTCState: "webrtc",
	TypePlugin:      "plugin",
	TypeMedia:       "media",
	TypeTransport:   "transport",
	TypeCore:        "core",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("unknown(%d)", int(t))
}

// Known reports whether t is one of the recognized single-bit values.
func (t Type) Known() bool {
	_, ok := typeNames[t]
	return ok
}

// Envelope is the decoded, immutable representation of one inbound
// gateway frame. Exactly one payload pointer is non-nil, selected by
// Type. Envelopes are constructed once by Decode and never mutated, so
// they are safe to share across goroutines.
type Envelope struct {
	Type      Type   `json:"type"`
	Subtype   int    `json:"subtype,omitempty"`
	Emitter   string `json:"emitter,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"` // microseconds since epoch
	SessionID int64  `json:"session_id,omitempty"`
	HandleID  int64  `json:"handle_id,omitempty"`
	OpaqueID  string `json:"opaque_id,omitempty"`

	Session   *SessionPayload     `json:"session,omitempty"`
	Handle    *HandlePayload      `json:"handle,omitempty"`
	JSEP      *JSEPPayload        `json:"jsep,omitempty"`
	WebRTC    *WebRTCStatePayload `json:"webrtc,omitempty"`
	Plugin    *PluginPayload      `json:"plugin,omitempty"`
	Media     *MediaPayload       `json:"media,omitempty"`
	Transport *TransportPayload   `json:"transport,omitempty"`
	Core      *CorePayload        `json:"core,omitempty"`
}

// SessionPayload carries a session lifecycle event (type 1).
type SessionPayload struct {
	Name      string            `json:"name,omitempty"`
	Transport *SessionTransport `json:"transport,omitempty"`
}

// SessionTransport identifies the transport a session was created on.
type SessionTransport struct {
	Transport string `json:"transport,omitempty"`
	ID        int64  `json:"id,omitempty"`
}

// HandlePayload carries a handle lifecycle event (type 2).
type HandlePayload struct {
	Name     string `json:"name,omitempty"`
	Plugin   string `json:"plugin,omitempty"`
	OpaqueID string `json:"opaque_id,omitempty"`
}

// JSEPPayload carries an SDP offer or answer (type 8).
type JSEPPayload struct {
	Owner string `json:"owner,omitempty"`
	JSEP  *JSEP  `json:"jsep,omitempty"`
}

// JSEP is a single SDP description.
type JSEP struct {
	Type string `json:"type,omitempty"` // "offer" or "answer"
	SDP  string `json:"sdp,omitempty"`
}

// WebRTCStatePayload carries ICE/DTLS progress for one component (type 16).
type WebRTCStatePayload struct {
	ICE             string `json:"ice,omitempty"`
	DTLS            string `json:"dtls,omitempty"`
	Connection      string `json:"connection,omitempty"`
	StreamID        int    `json:"stream_id,omitempty"`
	ComponentID     int    `json:"component_id,omitempty"`
	LocalCandidate  string `json:"local-candidate,omitempty"`
	RemoteCandidate string `json:"remote-candidate,omitempty"`
	SelectedPair    string `json:"selected-pair,omitempty"`
}

// MediaPayload carries media state and RTP statistics (type 64).
type MediaPayload struct {
	Mid                     string `json:"mid,omitempty"`
	Receiving               bool   `json:"receiving,omitempty"`
	Media                   string `json:"media,omitempty"` // "audio" or "video"
	Codec                   string `json:"codec,omitempty"`
	Base                    int    `json:"base,omitempty"`
	RTT                     int    `json:"rtt,omitempty"`
	Lost                    int    `json:"lost,omitempty"`
	LostByRemote            int    `json:"lost_by_remote,omitempty"`
	JitterLocal             int    `json:"jitter_local,omitempty"`
	JitterRemote            int    `json:"jitter_remote,omitempty"`
	InLinkQuality           int    `json:"in_link_quality,omitempty"`
	InMediaLinkQuality      int    `json:"in_media_link_quality,omitempty"`
	OutLinkQuality          int    `json:"out_link_quality,omitempty"`
	OutMediaLinkQuality     int    `json:"out_media_link_quality,omitempty"`
	PacketsReceived         int    `json:"packets_received,omitempty"`
	PacketsSent             int    `json:"packets_sent,omitempty"`
	BytesReceived           int64  `json:"bytes_received,omitempty"`
	BytesSent               int64  `json:"bytes_sent,omitempty"`
	BytesReceivedLastSec    int64  `json:"bytes_received_lastsec,omitempty"`
	BytesSentLastSec        int64  `json:"bytes_sent_lastsec,omitempty"`
	NacksReceived           int    `json:"nacks_received,omitempty"`
	NacksSent               int    `json:"nacks_sent,omitempty"`
	RetransmissionsReceived int    `json:"retransmissions_received,omitempty"`
}

// TransportPayload carries a transport-originated event (type 128).
type TransportPayload struct {
	Transport string        `json:"transport,omitempty"`
	ID        string        `json:"id,omitempty"`
	Data      TransportData `json:"data"`
}

// TransportData is the raw transport payload.
type TransportData struct {
	Event    string `json:"event,omitempty"`
	AdminAPI bool   `json:"admin_api,omitempty"`
	IP       string `json:"ip,omitempty"`
	Port     int    `json:"port,omitempty"`
}

// CorePayload carries a gateway status event (type 256).
type CorePayload struct {
	Status string   `json:"status,omitempty"`
	Info   CoreInfo `json:"info"`
}

// CoreInfo aggregates gateway-wide counters.
type CoreInfo struct {
	Sessions        int64 `json:"sessions,omitempty"`
	Handles         int64 `json:"handles,omitempty"`
	PeerConnections int64 `json:"peerconnections,omitempty"`
	StatsPeriod     int64 `json:"stats-period,omitempty"`
}

// PluginPayload carries a plugin-originated event (type 32). The inner
// payload shape depends on the plugin, not on a discriminant field:
// video-room payloads are decoded into VideoRoom, every other plugin's
// payload stays available as raw JSON.
type PluginPayload struct {
	Plugin string          `json:"plugin,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`

	// VideoRoom is populated by the second decode pass when Plugin is
	// the video-room plugin; nil otherwise.
	VideoRoom *VideoRoomData `json:"-"`
}

// VideoRoomPlugin is the canonical identifier of the video-room plugin.
const VideoRoomPlugin = "janus.plugin.videoroom"

// StreamingPlugin is the canonical identifier of the streaming plugin.
const StreamingPlugin = "janus.plugin.streaming"

// RoomID is a video-room identifier. The gateway emits it as either a
// JSON number or a JSON string depending on the room's configuration, so
// both forms decode into the string representation.
type RoomID string

func (r *RoomID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = RoomID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*r = RoomID(n.String())
	return nil
}

func (r RoomID) String() string { return string(r) }

// Int returns the numeric form of the room id, or false when the id is
// not numeric.
func (r RoomID) Int() (int64, bool) {
	n, err := strconv.ParseInt(string(r), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// VideoRoomData is the decoded inner payload of a video-room plugin event.
type VideoRoomData struct {
	Event     string            `json:"event,omitempty"` // "joined", "leaving", ...
	Room      RoomID            `json:"room,omitempty"`
	ID        int64             `json:"id,omitempty"`
	PrivateID int64             `json:"private_id,omitempty"`
	Display   string            `json:"display,omitempty"`
	Bitrate   int64             `json:"bitrate,omitempty"`
	OpaqueID  string            `json:"opaque_id,omitempty"`
	Streams   []VideoRoomStream `json:"streams,omitempty"`
}

// VideoRoomStream describes one published stream within a video room.
type VideoRoomStream struct {
	Type        string `json:"type,omitempty"`
	Mindex      int    `json:"mindex,omitempty"`
	Mid         string `json:"mid,omitempty"`
	Codec       string `json:"codec,omitempty"`
	Ready       bool   `json:"ready,omitempty"`
	Send        bool   `json:"send,omitempty"`
	FeedID      int64  `json:"feed_id,omitempty"`
	FeedDisplay string `json:"feed_display,omitempty"`
	FeedMid     string `json:"feed_mid,omitempty"`
}

// Participant returns the participant described by this payload.
func (d *VideoRoomData) Participant() Participant {
	return Participant{ID: d.ID, Display: d.Display, PrivateID: d.PrivateID}
}

// Participant is a video-room member derived from plugin events. It is
// transient state; the tracker owns the authoritative per-room lists.
type Participant struct {
	ID        int64  `json:"id"`
	Display   string `json:"display,omitempty"`
	PrivateID int64  `json:"private_id,omitempty"`
}
