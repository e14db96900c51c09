// Package observability provides structured logging and Prometheus metrics
// for the gateway.
//
// The Metrics registry doubles as a usage sink: every accounted chat call
// updates request, token, cost and latency series labelled by provider,
// model and status.
package observability
