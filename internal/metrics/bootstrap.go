package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BootstrapsInitiated tracks bootstrap handshakes started, by role.
	BootstrapsInitiated = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bootstrap",
			Name:      "initiated_total",
			Help:      "Total number of bootstrap handshakes initiated",
		},
		[]string{"role"}, // creator, invitee
	)

	// BootstrapsCompleted tracks completed bootstrap handshakes.
	BootstrapsCompleted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bootstrap",
			Name:      "completed_total",
			Help:      "Total number of bootstrap handshakes completed",
		},
		[]string{"status"}, // success, failure
	)

	// BootstrapsFailed tracks failed bootstrap handshakes by error kind.
	BootstrapsFailed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bootstrap",
			Name:      "failed_total",
			Help:      "Total number of failed bootstrap handshakes by error kind",
		},
		[]string{"kind"}, // timeout, relay_closed, key_package_error, marshal_error, accept_welcome_error, create_group_error, invite_member_error
	)

	// BootstrapDuration tracks bootstrap phase durations.
	BootstrapDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bootstrap",
			Name:      "duration_seconds",
			Help:      "Bootstrap handshake phase duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		},
		[]string{"phase"}, // request_key_package, key_package, request_welcome, welcome
	)

	// EnvelopesSent tracks signed relay envelopes sent by type.
	EnvelopesSent = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bootstrap",
			Name:      "envelopes_sent_total",
			Help:      "Total number of signed bootstrap envelopes sent",
		},
		[]string{"envelope_type"},
	)

	// EnvelopesReceived tracks signed relay envelopes received by type.
	EnvelopesReceived = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bootstrap",
			Name:      "envelopes_received_total",
			Help:      "Total number of signed bootstrap envelopes received",
		},
		[]string{"envelope_type", "status"}, // status: accepted, duplicate, invalid
	)
)
