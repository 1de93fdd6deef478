// Package metrics defines the process-wide Prometheus collectors. They
// are registered on the default registry and exposed by the dashboard
// server under /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsDecoded counts envelopes successfully decoded, by type.
	EventsDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "janus_events_decoded_total",
		Help: "Envelopes decoded from inbound frames, by event type.",
	}, []string{"type"})

	// DecodeFailures counts frames dropped as malformed.
	DecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "janus_decode_failures_total",
		Help: "Inbound frames dropped because they could not be decoded.",
	})

	// DispatchDrops counts envelopes dropped per sink when its queue
	// saturates.
	DispatchDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "janus_dispatch_drops_total",
		Help: "Envelopes dropped per sink due to queue saturation.",
	}, []string{"sink"})

	// KeepaliveFailures counts failed keepalive transactions.
	KeepaliveFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "janus_keepalive_failures_total",
		Help: "Keepalive transactions that failed.",
	})

	// SessionsLost counts sessions declared lost after keepalive
	// exhaustion.
	SessionsLost = promauto.NewCounter(prometheus.CounterOpts{
		Name: "janus_sessions_lost_total",
		Help: "Gateway sessions declared lost.",
	})

	// StoredEvents counts envelopes durably persisted.
	StoredEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "janus_stored_events_total",
		Help: "Envelopes written to the event store.",
	})
)
