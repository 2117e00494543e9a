// Package observability provides structured logging, Prometheus metrics,
// health probes, and graceful shutdown coordination.
//
// Metrics are registered on the default Prometheus registry and exposed at
// /metrics by the server binary. The counters that matter operationally are
// authorization denials, quota rejections, and coupon redemption outcomes;
// the rest is standard HTTP traffic accounting.
package observability
