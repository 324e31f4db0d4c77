package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesEncrypted tracks audio frames encrypted for transmission.
	FramesEncrypted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "media",
			Name:      "frames_encrypted_total",
			Help:      "Total number of audio frames encrypted",
		},
		[]string{"track"},
	)

	// FramesDecrypted tracks audio frames successfully decrypted.
	FramesDecrypted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "media",
			Name:      "frames_decrypted_total",
			Help:      "Total number of audio frames decrypted",
		},
		[]string{"track"},
	)

	// FramesDropped tracks frames dropped (AEAD failure, queue overflow, subscriber backpressure).
	FramesDropped = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "media",
			Name:      "frames_dropped_total",
			Help:      "Total number of audio frames dropped",
		},
		[]string{"reason"}, // aead_failure, queue_overflow, subscriber_backpressure
	)

	// PendingFrameQueueDepth reports the controller's retry queue depth.
	PendingFrameQueueDepth = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "pending_frame_queue_depth",
			Help:      "Current depth of the pending (undecryptable) frame retry queue",
		},
	)

	// TransportReconnects tracks reconnect attempts by the MoQ bridge.
	TransportReconnects = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "reconnects_total",
			Help:      "Total number of transport reconnect attempts",
		},
		[]string{"outcome"}, // success, failure
	)

	// FrameProcessingDuration tracks encrypt/decrypt latency.
	FrameProcessingDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "media",
			Name:      "frame_processing_duration_seconds",
			Help:      "Audio frame encrypt/decrypt duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12), // 0.1ms to ~205ms
		},
		[]string{"operation"}, // encrypt, decrypt
	)
)
