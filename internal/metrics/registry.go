// Package metrics provides Prometheus metrics collection for the 9P server.
//
// All metrics are optional: if InitRegistry is never called, the
// constructors return no-op implementations with zero overhead, so the
// session and acceptor layers can be handed a Collector unconditionally.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// registry is the global Prometheus registry for all server metrics.
	// Write-once via registryOnce, read-many afterwards.
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry. Safe to call
// multiple times; subsequent calls are ignored. If never called,
// GetRegistry returns nil and NewCollector returns a no-op implementation.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the global Prometheus registry, or nil when metrics
// collection is disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
