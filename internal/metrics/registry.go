package metrics

import "github.com/prometheus/client_golang/prometheus"

// namespace prefixes every metric name exported by this engine.
const namespace = "marmot"

// Registry is the engine-wide Prometheus registry. Every metric in this
// package is registered against it via promauto.With(Registry) rather than
// the global prometheus.DefaultRegisterer, so a host process embedding this
// engine can mount /metrics without colliding with its own metrics.
var Registry = prometheus.NewRegistry()
