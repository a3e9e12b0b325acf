// Package metrics defines the Prometheus metrics of the service. Metrics are
// registered on a per-instance registry so tests and embedders can create
// as many independent sets as they need.
package metrics
