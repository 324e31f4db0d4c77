package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GroupEpoch reports the current MLS epoch number per group.
	GroupEpoch = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mls",
			Name:      "epoch",
			Help:      "Current MLS epoch number for a group",
		},
		[]string{"group_id"},
	)

	// GroupMembers reports the current roster size per group.
	GroupMembers = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mls",
			Name:      "members",
			Help:      "Current roster size for a group",
		},
		[]string{"group_id"},
	)

	// CommitsMerged tracks commits merged into group state.
	CommitsMerged = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mls",
			Name:      "commits_merged_total",
			Help:      "Total number of MLS commits merged",
		},
		[]string{"group_id", "origin"}, // origin: self, remote
	)

	// ProposalsReceived tracks proposals ingested before a commit merges them.
	ProposalsReceived = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mls",
			Name:      "proposals_received_total",
			Help:      "Total number of MLS proposals received",
		},
		[]string{"group_id", "kind"}, // add, remove, update
	)

	// SessionDuration tracks session bootstrap-to-close duration.
	SessionDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "duration_seconds",
			Help:      "Process session duration from bootstrap to close, in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 16), // 1s to ~9h
		},
	)
)
