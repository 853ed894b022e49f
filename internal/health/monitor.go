package health

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	regerrors "github.com/atlasframe/registry/internal/errors"
	"github.com/atlasframe/registry/internal/events"
	"github.com/atlasframe/registry/internal/logging"
	"github.com/atlasframe/registry/internal/metrics"
	"github.com/atlasframe/registry/internal/scope"
)

// Config holds monitor tuning knobs.
type Config struct {
	// CheckInterval is how much elapsed time passes between periodic
	// reclassifications of a record.
	CheckInterval time.Duration `yaml:"check_interval"`

	// MaxRecoveryAttempts caps automatic recovery attempts per record.
	// Once exhausted the record stays Failed permanently.
	MaxRecoveryAttempts int `yaml:"max_recovery_attempts"`

	// MinRecoveryInterval is the wall-clock gap required between two
	// recovery attempts for the same record.
	MinRecoveryInterval time.Duration `yaml:"min_recovery_interval"`

	// ResponseTimeThreshold downgrades a Healthy service to Degraded
	// when its average response time exceeds it.
	ResponseTimeThreshold time.Duration `yaml:"response_time_threshold"`

	// CPUThresholdPercent downgrades a Healthy service to Degraded when
	// system CPU usage exceeds it.
	CPUThresholdPercent float64 `yaml:"cpu_threshold_percent"`

	// WindowSize bounds the response-time sample window per record.
	WindowSize int `yaml:"window_size"`

	// DefaultImportance is assigned to records created lazily by
	// ReportOperation or registered without an explicit weight.
	DefaultImportance float64 `yaml:"default_importance"`

	// CriticalImportance is the minimum importance at which a Critical
	// service qualifies for automatic recovery.
	CriticalImportance float64 `yaml:"critical_importance"`
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() Config {
	return Config{
		CheckInterval:         5 * time.Second,
		MaxRecoveryAttempts:   3,
		MinRecoveryInterval:   30 * time.Second,
		ResponseTimeThreshold: 100 * time.Millisecond,
		CPUThresholdPercent:   90,
		WindowSize:            100,
		DefaultImportance:     0.5,
		CriticalImportance:    0.7,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CheckInterval <= 0 {
		c.CheckInterval = d.CheckInterval
	}
	if c.MaxRecoveryAttempts <= 0 {
		c.MaxRecoveryAttempts = d.MaxRecoveryAttempts
	}
	if c.MinRecoveryInterval <= 0 {
		c.MinRecoveryInterval = d.MinRecoveryInterval
	}
	if c.ResponseTimeThreshold <= 0 {
		c.ResponseTimeThreshold = d.ResponseTimeThreshold
	}
	if c.CPUThresholdPercent <= 0 {
		c.CPUThresholdPercent = d.CPUThresholdPercent
	}
	if c.WindowSize <= 0 {
		c.WindowSize = d.WindowSize
	}
	if c.DefaultImportance <= 0 {
		c.DefaultImportance = d.DefaultImportance
	}
	if c.CriticalImportance <= 0 {
		c.CriticalImportance = d.CriticalImportance
	}
	return c
}

// RecoveryStrategy attempts to bring a service back. The default probe
// only checks liveness via the locator; real remediation strategies can
// be plugged in instead.
type RecoveryStrategy interface {
	Recover(key scope.Key) error
}

// RecoveryFunc adapts a function to a RecoveryStrategy.
type RecoveryFunc func(key scope.Key) error

// Recover calls f(key).
func (f RecoveryFunc) Recover(key scope.Key) error { return f(key) }

// Resolver is the slice of the locator the probe strategy needs.
type Resolver interface {
	Has(t scope.ServiceType, zone, region int32) bool
}

// ProbeStrategy considers a service recovered if it still resolves. A
// conservative liveness probe, not re-initialization.
type ProbeStrategy struct {
	Resolver Resolver
}

// Recover implements RecoveryStrategy.
func (p ProbeStrategy) Recover(key scope.Key) error {
	if p.Resolver != nil && p.Resolver.Has(key.Type, key.Zone, key.Region) {
		return nil
	}
	return regerrors.ErrNotFound
}

// record is the monitoring state for one scope.
type record struct {
	key        scope.Key
	status     Status
	successes  uint64
	failures   uint64
	importance float64

	window  []float64 // response times, ms, bounded by WindowSize
	avgMs   float64
	peakMs  float64

	sinceCheck       time.Duration
	recoveryAttempts int
	lastRecoveryAt   time.Time
	recoveries       int
	gaveUp           bool
	recovering       bool
}

// RecordInfo is a read-only snapshot of a record for status queries.
type RecordInfo struct {
	Key              scope.Key `json:"key"`
	Status           Status    `json:"status"`
	Successes        uint64    `json:"successes"`
	Failures         uint64    `json:"failures"`
	Importance       float64   `json:"importance"`
	AvgResponseMs    float64   `json:"avg_response_ms"`
	PeakResponseMs   float64   `json:"peak_response_ms"`
	RecoveryAttempts int       `json:"recovery_attempts"`
	Recoveries       int       `json:"recoveries"`
	RecoveryGivenUp  bool      `json:"recovery_given_up"`
	LastRecoveryAt   time.Time `json:"last_recovery_at"`
}

// Monitor tracks health records for registered scopes and drives
// automatic recovery. Update is cooperatively driven by an external
// caller and is safe to interleave with concurrent ReportOperation
// calls; all state sits behind one mutex, and the recovery strategy is
// always invoked outside it.
type Monitor struct {
	mu      sync.Mutex
	cfg     Config
	records map[scope.Key]*record

	strategy RecoveryStrategy
	cpu      CPUSampler
	now      func() time.Time

	log         *logging.Logger
	events      events.Sink
	metrics     metrics.Recorder
	warnLimiter *rate.Limiter
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithRecoveryStrategy replaces the default locator probe.
func WithRecoveryStrategy(s RecoveryStrategy) Option {
	return func(m *Monitor) { m.strategy = s }
}

// WithCPUSampler replaces the gopsutil-backed CPU sampler.
func WithCPUSampler(s CPUSampler) Option {
	return func(m *Monitor) { m.cpu = s }
}

// WithClock replaces the wall clock. Used by tests to simulate time.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// NewMonitor creates a health monitor. Nil collaborators default to
// no-op implementations; with no explicit strategy, recovery probes the
// given resolver.
func NewMonitor(cfg Config, resolver Resolver, log *logging.Logger, sink events.Sink, rec metrics.Recorder, opts ...Option) *Monitor {
	if log == nil {
		log = logging.NewDefault("health")
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	if rec == nil {
		rec = metrics.NopCollector{}
	}
	m := &Monitor{
		cfg:      cfg.withDefaults(),
		records:  make(map[scope.Key]*record),
		strategy: ProbeStrategy{Resolver: resolver},
		cpu:      NewCPUSampler(time.Second),
		now:      time.Now,
		log:      log,
		events:   sink,
		metrics:  rec,
		// At most one unhealthy-service warning burst per check interval.
		warnLimiter: rate.NewLimiter(rate.Every(5*time.Second), 3),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register creates a monitoring record for (t, zone, region) with the
// given importance weight, clamped to [0,1]. Registering an existing
// scope only updates its importance.
func (m *Monitor) Register(t scope.ServiceType, importance float64, zone, region int32) error {
	if !t.Valid() {
		return regerrors.InvalidArgumentf("service type %q", t)
	}
	if importance < 0 {
		importance = 0
	}
	if importance > 1 {
		importance = 1
	}

	key := scope.NewKey(t, zone, region)
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.records[key]; ok {
		r.importance = importance
		return nil
	}
	m.records[key] = &record{key: key, importance: importance}
	return nil
}

// IsMonitored reports whether a record exists for the exact scope.
func (m *Monitor) IsMonitored(t scope.ServiceType, zone, region int32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[scope.NewKey(t, zone, region)]
	return ok
}

// Unregister drops the record for the exact scope.
func (m *Monitor) Unregister(t scope.ServiceType, zone, region int32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := scope.NewKey(t, zone, region)
	if _, ok := m.records[key]; !ok {
		return false
	}
	delete(m.records, key)
	return true
}

// ReportOperation records the outcome of one service operation. A record
// is created lazily at default importance. The status is reclassified
// immediately, not at the next periodic tick, and the record's periodic
// timer is reset.
func (m *Monitor) ReportOperation(t scope.ServiceType, success bool, responseTime time.Duration, zone, region int32) {
	if !t.Valid() {
		return
	}
	key := scope.NewKey(t, zone, region)

	m.mu.Lock()
	r, ok := m.records[key]
	if !ok {
		r = &record{key: key, importance: m.cfg.DefaultImportance}
		m.records[key] = r
	}

	if success {
		r.successes++
	} else {
		r.failures++
	}

	ms := float64(responseTime) / float64(time.Millisecond)
	if len(r.window) == m.cfg.WindowSize {
		r.window = r.window[1:]
	}
	r.window = append(r.window, ms)
	var sum float64
	r.peakMs = 0
	for _, v := range r.window {
		sum += v
		if v > r.peakMs {
			r.peakMs = v
		}
	}
	r.avgMs = sum / float64(len(r.window))
	r.sinceCheck = 0

	transition := m.reclassifyLocked(r)
	m.mu.Unlock()

	m.metrics.RecordOperation(string(t), responseTime, success)
	m.emitTransition(transition)
}

// Update advances elapsed time for every record by dt; any record whose
// check interval has elapsed is reclassified and, if it qualifies,
// recovery is attempted. An attempt ineligible only because of
// throttling simply waits for a later tick; there are no blocking waits.
func (m *Monitor) Update(dt time.Duration) {
	var transitions []transition
	var candidates []*record

	m.mu.Lock()
	for _, r := range m.records {
		r.sinceCheck += dt
		if r.sinceCheck < m.cfg.CheckInterval {
			continue
		}
		r.sinceCheck = 0
		transitions = append(transitions, m.reclassifyLocked(r))
		if m.eligibleLocked(r) {
			r.recovering = true
			candidates = append(candidates, r)
		}
	}
	m.mu.Unlock()

	for _, tr := range transitions {
		m.emitTransition(tr)
	}
	for _, r := range candidates {
		m.attemptRecovery(r)
	}
}

// transition captures a status change for post-lock emission.
type transition struct {
	key      scope.Key
	from, to Status
	changed  bool
}

// reclassifyLocked recomputes a record's status from its counters and
// the response-time/CPU downgrade rule. Exhausted records stay Failed.
func (m *Monitor) reclassifyLocked(r *record) transition {
	old := r.status

	next := classify(r.successes, r.failures)
	if next == StatusHealthy {
		thresholdMs := float64(m.cfg.ResponseTimeThreshold) / float64(time.Millisecond)
		if r.avgMs > thresholdMs || m.cpu() > m.cfg.CPUThresholdPercent {
			next = StatusDegraded
		}
	}
	if r.gaveUp {
		next = StatusFailed
	}
	r.status = next
	return transition{key: r.key, from: old, to: next, changed: old != next}
}

// eligibleLocked decides whether a record qualifies for an automatic
// recovery attempt right now.
func (m *Monitor) eligibleLocked(r *record) bool {
	if r.recovering || r.gaveUp {
		return false
	}
	qualifies := r.status == StatusFailed ||
		(r.status == StatusCritical && r.importance >= m.cfg.CriticalImportance) ||
		(r.failures >= 5 && r.successes == 0)
	if !qualifies {
		return false
	}
	if r.recoveryAttempts >= m.cfg.MaxRecoveryAttempts {
		return false
	}
	if !r.lastRecoveryAt.IsZero() && m.now().Sub(r.lastRecoveryAt) < m.cfg.MinRecoveryInterval {
		return false
	}
	return true
}

// attemptRecovery runs the strategy for one record outside the lock and
// applies the outcome.
func (m *Monitor) attemptRecovery(r *record) {
	key := r.key
	m.metrics.RecordRecoveryAttempt(string(key.Type))
	m.events.Log(events.Event{
		Type:     events.EventRecoveryStarted,
		Severity: events.SeverityWarning,
		Service:  key.Type,
		Zone:     key.Zone,
		Region:   key.Region,
		Message:  "recovery attempt for " + key.String(),
	})

	err := m.strategy.Recover(key)

	m.mu.Lock()
	r.recovering = false
	r.lastRecoveryAt = m.now()
	var exhausted bool
	if err != nil {
		r.recoveryAttempts++
		if r.recoveryAttempts >= m.cfg.MaxRecoveryAttempts {
			r.gaveUp = true
			r.status = StatusFailed
			exhausted = true
		}
	} else {
		r.successes = 0
		r.failures = 0
		r.recoveryAttempts = 0
		r.recoveries++
		r.status = classify(r.successes, r.failures)
	}
	m.mu.Unlock()

	m.metrics.RecordRecoveryResult(string(key.Type), err)
	if err != nil {
		m.events.Log(events.Event{
			Type:     events.EventRecoveryFailed,
			Severity: events.SeverityError,
			Service:  key.Type,
			Zone:     key.Zone,
			Region:   key.Region,
			Error:    err.Error(),
		})
		if exhausted {
			m.metrics.RecordRecoveryExhausted(string(key.Type))
			m.events.Log(events.Event{
				Type:     events.EventRecoveryExhausted,
				Severity: events.SeverityError,
				Service:  key.Type,
				Zone:     key.Zone,
				Region:   key.Region,
				Message:  "recovery attempts exhausted for " + key.String(),
			})
			m.log.WithField("key", key.String()).Error("recovery attempts exhausted; service stays failed")
		}
		return
	}
	m.events.Log(events.Event{
		Type:    events.EventRecoverySucceeded,
		Service: key.Type,
		Zone:    key.Zone,
		Region:  key.Region,
		Message: "service recovered at " + key.String(),
	})
}

// emitTransition publishes a status change to metrics, events, and the
// throttled warning log.
func (m *Monitor) emitTransition(tr transition) {
	if !tr.changed {
		return
	}
	m.metrics.RecordHealthStatus(string(tr.key.Type), tr.key.String(), int(tr.to))
	sev := events.SeverityInfo
	if tr.to == StatusCritical || tr.to == StatusFailed {
		sev = events.SeverityError
	} else if tr.to == StatusDegraded {
		sev = events.SeverityWarning
	}
	m.events.Log(events.Event{
		Type:     events.EventHealthChanged,
		Severity: sev,
		Service:  tr.key.Type,
		Zone:     tr.key.Zone,
		Region:   tr.key.Region,
		Message:  tr.from.String() + " -> " + tr.to.String(),
	})
	if tr.to > StatusHealthy && m.warnLimiter.Allow() {
		m.log.WithField("key", tr.key.String()).
			WithField("status", tr.to.String()).
			Warn("service health degraded")
	}
}

// Status returns the current classification for the exact scope.
func (m *Monitor) Status(t scope.ServiceType, zone, region int32) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[scope.NewKey(t, zone, region)]
	if !ok {
		return StatusUnknown, false
	}
	return r.status, true
}

// Record returns a snapshot of the record for the exact scope.
func (m *Monitor) Record(t scope.ServiceType, zone, region int32) (RecordInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[scope.NewKey(t, zone, region)]
	if !ok {
		return RecordInfo{}, false
	}
	return r.info(), true
}

// Snapshot returns snapshots of every record, in no particular order.
func (m *Monitor) Snapshot() []RecordInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordInfo, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r.info())
	}
	return out
}

// Shutdown drops every record.
func (m *Monitor) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[scope.Key]*record)
}

func (r *record) info() RecordInfo {
	return RecordInfo{
		Key:              r.key,
		Status:           r.status,
		Successes:        r.successes,
		Failures:         r.failures,
		Importance:       r.importance,
		AvgResponseMs:    r.avgMs,
		PeakResponseMs:   r.peakMs,
		RecoveryAttempts: r.recoveryAttempts,
		Recoveries:       r.recoveries,
		RecoveryGivenUp:  r.gaveUp,
		LastRecoveryAt:   r.lastRecoveryAt,
	}
}
