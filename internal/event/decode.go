package event

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MalformedEventError reports a frame that could not be decoded: invalid
// JSON, a missing type field, or a type value outside the known set. The
// raw payload is retained for diagnostics.
type MalformedEventError struct {
	Raw    []byte
	Reason string
	Err    error
}

func (e *MalformedEventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed event: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed event: %s", e.Reason)
}

func (e *MalformedEventError) Unwrap() error { return e.Err }

func malformed(raw []byte, reason string, err error) *MalformedEventError {
	return &MalformedEventError{Raw: raw, Reason: reason, Err: err}
}

// wireEnvelope is the outer shape of an inbound frame. Only the type
// field is mandatory; the gateway omits the rest depending on its build
// configuration, and absent fields default to zero values.
type wireEnvelope struct {
	Emitter   string          `json:"emitter"`
	Type      *int            `json:"type"`
	Subtype   int             `json:"subtype"`
	Timestamp int64           `json:"timestamp"`
	SessionID int64           `json:"session_id"`
	HandleID  int64           `json:"handle_id"`
	OpaqueID  string          `json:"opaque_id"`
	Event     json.RawMessage `json:"event"`
}

// Decode turns one raw frame holding a single JSON object into an
// Envelope. Decoding is pure: it performs no I/O and never panics on bad
// input. Failures are reported as *MalformedEventError.
func Decode(raw []byte) (*Envelope, error) {
	var wire wireEnvelope
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, malformed(raw, "invalid JSON", err)
	}
	if wire.Type == nil {
		return nil, malformed(raw, "missing type field", nil)
	}
	t := Type(*wire.Type)
	if !t.Known() {
		return nil, malformed(raw, fmt.Sprintf("unrecognized type %d", *wire.Type), nil)
	}

	env := &Envelope{
		Type:      t,
		Subtype:   wire.Subtype,
		Emitter:   wire.Emitter,
		Timestamp: wire.Timestamp,
		SessionID: wire.SessionID,
		HandleID:  wire.HandleID,
		OpaqueID:  wire.OpaqueID,
	}

	inner := wire.Event
	if len(inner) == 0 {
		inner = []byte("{}")
	}

	var err error
	switch t {
	case TypeSession:
		env.Session = &SessionPayload{}
		err = json.Unmarshal(inner, env.Session)
	case TypeHandle:
		env.Handle = &HandlePayload{}
		err = json.Unmarshal(inner, env.Handle)
	case TypeJSEP:
		env.JSEP = &JSEPPayload{}
		err = json.Unmarshal(inner, env.JSEP)
	case TypeWebRTCState:
		env.WebRTC = &WebRTCStatePayload{}
		err = json.Unmarshal(inner, env.WebRTC)
	case TypePlugin:
		env.Plugin = &PluginPayload{}
		if err = json.Unmarshal(inner, env.Plugin); err == nil {
			err = decodePluginData(env.Plugin)
		}
	case TypeMedia:
		env.Media = &MediaPayload{}
		err = json.Unmarshal(inner, env.Media)
	case TypeTransport:
		env.Transport = &TransportPayload{}
		err = json.Unmarshal(inner, env.Transport)
	case TypeCore:
		env.Core = &CorePayload{}
		err = json.Unmarshal(inner, env.Core)
	}
	if err != nil {
		return nil, malformed(raw, fmt.Sprintf("bad %s payload", t), err)
	}
	return env, nil
}

// decodePluginData runs the second decode pass on a plugin payload. The
// plugin field, not a discriminant in the data itself, selects the inner
// shape; payloads of plugins without a known shape stay raw.
func decodePluginData(p *PluginPayload) error {
	if p.Plugin != VideoRoomPlugin || len(p.Data) == 0 {
		return nil
	}
	vr := &VideoRoomData{}
	if err := json.Unmarshal(p.Data, vr); err != nil {
		return err
	}
	p.VideoRoom = vr
	return nil
}

// DecodeFrame decodes a raw text frame that holds either a single event
// object or a JSON array of them; the gateway batches events when
// configured to. Array elements decode independently: the first
// malformed element aborts with its error and the envelopes decoded so
// far.
func DecodeFrame(raw []byte) ([]*Envelope, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, malformed(raw, "empty frame", nil)
	}
	if trimmed[0] != '[' {
		env, err := Decode(trimmed)
		if err != nil {
			return nil, err
		}
		return []*Envelope{env}, nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return nil, malformed(raw, "invalid JSON array", err)
	}
	envs := make([]*Envelope, 0, len(elems))
	for _, elem := range elems {
		env, err := Decode(elem)
		if err != nil {
			return envs, err
		}
		envs = append(envs, env)
	}
	return envs, nil
}

// Payload returns the populated payload variant as a marshalable value.
func (e *Envelope) Payload() any {
	switch e.Type {
	case TypeSession:
		return e.Session
	case TypeHandle:
		return e.Handle
	case TypeJSEP:
		return e.JSEP
	case TypeWebRTCState:
		return e.WebRTC
	case TypePlugin:
		return e.Plugin
	case TypeMedia:
		return e.Media
	case TypeTransport:
		return e.Transport
	case TypeCore:
		return e.Core
	}
	return nil
}
