// Package metrics provides registry telemetry. It wraps Prometheus
// collectors covering locator traffic, dependency graph validation,
// health classification, and recovery outcomes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Resolution levels, used as the "level" label on resolution metrics.
const (
	LevelCache  = "cache"
	LevelExact  = "exact"
	LevelZone   = "zone_wildcard"
	LevelRegion = "region_wildcard"
	LevelGlobal = "global"
	LevelMiss   = "miss"
)

// Collector is the Prometheus-backed metrics collector.
type Collector struct {
	registry *prometheus.Registry

	// Locator metrics
	registrations  *prometheus.CounterVec
	unregistrations *prometheus.CounterVec
	activeServices prometheus.Gauge
	resolutions    *prometheus.CounterVec
	cacheSize      prometheus.Gauge

	// Dependency metrics
	dependencyEdges   prometheus.Gauge
	dependencyCycles  prometheus.Counter
	dependencyMissing prometheus.Counter

	// Health metrics
	healthStatus     *prometheus.GaugeVec
	operationLatency *prometheus.HistogramVec

	// Recovery metrics
	recoveryAttempts  *prometheus.CounterVec
	recoverySuccesses *prometheus.CounterVec
	recoveryFailures  *prometheus.CounterVec
	recoveryExhausted *prometheus.CounterVec

	uptime    prometheus.Gauge
	startTime time.Time
}

// NewCollector creates a registry metrics collector under the given
// namespace ("registry" when empty).
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "registry"
	}

	c := &Collector{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
	}

	c.registrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "locator",
			Name:      "registrations_total",
			Help:      "Total number of service registrations.",
		},
		[]string{"service"},
	)

	c.unregistrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "locator",
			Name:      "unregistrations_total",
			Help:      "Total number of service unregistrations.",
		},
		[]string{"service"},
	)

	c.activeServices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "locator",
			Name:      "active_services",
			Help:      "Current number of registered service entries.",
		},
	)

	c.resolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "locator",
			Name:      "resolutions_total",
			Help:      "Total number of resolutions by match level (cache, exact, zone_wildcard, region_wildcard, global, miss).",
		},
		[]string{"service", "level"},
	)

	c.cacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "locator",
			Name:      "cache_entries",
			Help:      "Current number of memoized resolution cache entries.",
		},
	)

	c.dependencyEdges = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dependency",
			Name:      "edges",
			Help:      "Current number of registered dependency edges.",
		},
	)

	c.dependencyCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dependency",
			Name:      "cycles_detected_total",
			Help:      "Total number of rejected cyclic edge registrations.",
		},
	)

	c.dependencyMissing = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dependency",
			Name:      "missing_total",
			Help:      "Total number of missing mandatory dependencies reported by validation.",
		},
	)

	c.healthStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "status",
			Help:      "Current health status of a service (0=unknown, 1=healthy, 2=degraded, 3=critical, 4=failed).",
		},
		[]string{"service", "scope"},
	)

	c.operationLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "operation_duration_seconds",
			Help:      "Reported service operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"service", "result"},
	)

	c.recoveryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "attempts_total",
			Help:      "Total number of recovery attempts.",
		},
		[]string{"service"},
	)

	c.recoverySuccesses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "successes_total",
			Help:      "Total number of successful recoveries.",
		},
		[]string{"service"},
	)

	c.recoveryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "failures_total",
			Help:      "Total number of failed recovery attempts.",
		},
		[]string{"service"},
	)

	c.recoveryExhausted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "exhausted_total",
			Help:      "Total number of services whose recovery attempts were exhausted.",
		},
		[]string{"service"},
	)

	c.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Registry uptime in seconds.",
		},
	)

	c.registry.MustRegister(
		c.registrations,
		c.unregistrations,
		c.activeServices,
		c.resolutions,
		c.cacheSize,
		c.dependencyEdges,
		c.dependencyCycles,
		c.dependencyMissing,
		c.healthStatus,
		c.operationLatency,
		c.recoveryAttempts,
		c.recoverySuccesses,
		c.recoveryFailures,
		c.recoveryExhausted,
		c.uptime,
	)

	return c
}

// Registry returns the Prometheus registry for exposition.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordRegistration counts a service registration and the new entry total.
func (c *Collector) RecordRegistration(service string, active int) {
	c.registrations.WithLabelValues(service).Inc()
	c.activeServices.Set(float64(active))
}

// RecordUnregistration counts a service unregistration and the new entry total.
func (c *Collector) RecordUnregistration(service string, active int) {
	c.unregistrations.WithLabelValues(service).Inc()
	c.activeServices.Set(float64(active))
}

// RecordResolution counts a resolution at the given match level.
func (c *Collector) RecordResolution(service, level string) {
	c.resolutions.WithLabelValues(service, level).Inc()
}

// RecordCacheSize records the current resolution cache size.
func (c *Collector) RecordCacheSize(entries int) {
	c.cacheSize.Set(float64(entries))
}

// RecordDependencyEdges records the current edge count.
func (c *Collector) RecordDependencyEdges(edges int) {
	c.dependencyEdges.Set(float64(edges))
}

// RecordDependencyCycle counts a rejected cyclic registration.
func (c *Collector) RecordDependencyCycle() {
	c.dependencyCycles.Inc()
}

// RecordDependencyMissing counts missing mandatory dependencies.
func (c *Collector) RecordDependencyMissing(count int) {
	c.dependencyMissing.Add(float64(count))
}

// RecordHealthStatus records a service's current health status code.
func (c *Collector) RecordHealthStatus(service, scope string, status int) {
	c.healthStatus.WithLabelValues(service, scope).Set(float64(status))
}

// RecordOperation records a reported service operation.
func (c *Collector) RecordOperation(service string, responseTime time.Duration, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.operationLatency.WithLabelValues(service, result).Observe(responseTime.Seconds())
}

// RecordRecoveryAttempt counts a recovery attempt.
func (c *Collector) RecordRecoveryAttempt(service string) {
	c.recoveryAttempts.WithLabelValues(service).Inc()
}

// RecordRecoveryResult counts a recovery outcome.
func (c *Collector) RecordRecoveryResult(service string, err error) {
	if err != nil {
		c.recoveryFailures.WithLabelValues(service).Inc()
		return
	}
	c.recoverySuccesses.WithLabelValues(service).Inc()
}

// RecordRecoveryExhausted counts a service giving up on recovery.
func (c *Collector) RecordRecoveryExhausted(service string) {
	c.recoveryExhausted.WithLabelValues(service).Inc()
}

// UpdateUptime refreshes the uptime gauge.
func (c *Collector) UpdateUptime() {
	c.uptime.Set(time.Since(c.startTime).Seconds())
}

// NopCollector discards all metrics.
type NopCollector struct{}

func (NopCollector) RecordRegistration(service string, active int)                          {}
func (NopCollector) RecordUnregistration(service string, active int)                        {}
func (NopCollector) RecordResolution(service, level string)                                 {}
func (NopCollector) RecordCacheSize(entries int)                                            {}
func (NopCollector) RecordDependencyEdges(edges int)                                        {}
func (NopCollector) RecordDependencyCycle()                                                 {}
func (NopCollector) RecordDependencyMissing(count int)                                      {}
func (NopCollector) RecordHealthStatus(service, scope string, status int)                   {}
func (NopCollector) RecordOperation(service string, d time.Duration, success bool)          {}
func (NopCollector) RecordRecoveryAttempt(service string)                                   {}
func (NopCollector) RecordRecoveryResult(service string, err error)                         {}
func (NopCollector) RecordRecoveryExhausted(service string)                                 {}
func (NopCollector) UpdateUptime()                                                          {}

// Recorder is the interface for metrics collection.
type Recorder interface {
	RecordRegistration(service string, active int)
	RecordUnregistration(service string, active int)
	RecordResolution(service, level string)
	RecordCacheSize(entries int)
	RecordDependencyEdges(edges int)
	RecordDependencyCycle()
	RecordDependencyMissing(count int)
	RecordHealthStatus(service, scope string, status int)
	RecordOperation(service string, responseTime time.Duration, success bool)
	RecordRecoveryAttempt(service string)
	RecordRecoveryResult(service string, err error)
	RecordRecoveryExhausted(service string)
	UpdateUptime()
}

// Verify interface compliance
var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = NopCollector{}
)
