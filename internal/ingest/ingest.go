// Package ingest binds the transport socket to the decode/dispatch
// pipeline: one receive goroutine per connection decodes frames and
// enqueues envelopes, never blocking on sink work.
package ingest

import (
	"log"
	"time"

	"github.com/janus-scope/backend/internal/dispatch"
	"github.com/janus-scope/backend/internal/event"
	"github.com/janus-scope/backend/internal/metrics"
	"github.com/janus-scope/backend/internal/transport"
)

// Subprotocol is the WebSocket subprotocol the gateway's event
// endpoint speaks.
const Subprotocol = "janus-protocol"

// Stream is one live connection to the gateway's event endpoint.
type Stream struct {
	sock *transport.Socket
}

// Connect dials the event endpoint and starts feeding the dispatcher.
// Malformed frames are counted, logged with their raw payload, and
// skipped; the receive loop keeps going. Reconnection after a drop is
// the caller's decision, signalled through onClose.
func Connect(url string, d *dispatch.Dispatcher, onClose func(code int, err error)) (*Stream, error) {
	sock, err := transport.Dial(url, transport.Options{
		Subprotocol:      Subprotocol,
		HandshakeTimeout: 10 * time.Second,
		OnFrame: func(raw []byte) {
			envs, err := event.DecodeFrame(raw)
			if err != nil {
				metrics.DecodeFailures.Inc()
				log.Printf("dropping malformed frame: %v (raw: %.512s)", err, raw)
			}
			for _, env := range envs {
				metrics.EventsDecoded.WithLabelValues(env.Type.String()).Inc()
				d.Dispatch(env)
			}
		},
		OnClose: onClose,
	})
	if err != nil {
		return nil, err
	}

	d.NotifyConnected()
	return &Stream{sock: sock}, nil
}

// Send transmits a raw signalling control message to the gateway.
func (s *Stream) Send(payload []byte) error {
	return s.sock.Send(payload)
}

// Close shuts the connection down. Idempotent.
func (s *Stream) Close() error {
	return s.sock.Close()
}

// State reports the underlying socket state.
func (s *Stream) State() transport.State {
	return s.sock.State()
}
