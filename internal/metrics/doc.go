// Package metrics defines the Prometheus metrics exported by the speech check
// client and the reference analysis service.
package metrics
