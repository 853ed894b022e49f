// Package locator implements the scoped service locator: a registry of
// live service instances keyed by (type, zone, region) with fallback
// resolution and memoization.
//
// Resolution narrows in a strict order: exact scope, zone wildcard,
// region wildcard, fully global. Zones nest inside regions, so a
// zone-specific override beats a region-wide default, which beats a
// global default. The first hit is memoized under the original requested
// key, so a repeat lookup is a single cache probe even when the match was
// a wildcard entry.
package locator

import (
	"sync"
	"time"

	"github.com/google/uuid"

	regerrors "github.com/atlasframe/registry/internal/errors"
	"github.com/atlasframe/registry/internal/events"
	"github.com/atlasframe/registry/internal/logging"
	"github.com/atlasframe/registry/internal/metrics"
	"github.com/atlasframe/registry/internal/scope"
)

// lifecycle state of the locator. Shutdown is terminal.
type state int

const (
	stateUninitialized state = iota
	stateInitialized
	stateShutdown
)

// Entry is a live service registration.
type Entry struct {
	// ID uniquely identifies this registration for diagnostics.
	ID string `json:"id"`

	// Key is the scope the instance was registered under.
	Key scope.Key `json:"key"`

	// Instance is the caller-supplied service handle. The locator never
	// dereferences it.
	Instance any `json:"-"`

	// RegisteredAt is when the entry was created.
	RegisteredAt time.Time `json:"registered_at"`
}

// Locator is the scoped service registry. All state is serialized behind
// a single mutex; readers and writers take the same path.
type Locator struct {
	mu      sync.Mutex
	state   state
	entries map[scope.Key]*Entry
	cache   map[scope.Key]*Entry

	// scans counts primary-map fallback walks, i.e. resolutions that
	// missed the cache. Exposed for tests and diagnostics.
	scans uint64

	log     *logging.Logger
	events  events.Sink
	metrics metrics.Recorder
}

// New creates an uninitialized Locator. Nil collaborators default to
// no-op implementations.
func New(log *logging.Logger, sink events.Sink, rec metrics.Recorder) *Locator {
	if log == nil {
		log = logging.NewDefault("locator")
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	if rec == nil {
		rec = metrics.NopCollector{}
	}
	return &Locator{
		log:     log,
		events:  sink,
		metrics: rec,
	}
}

// Initialize transitions the locator into its operative state. It fails
// once shut down; shutdown is terminal.
func (l *Locator) Initialize() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case stateInitialized:
		return nil
	case stateShutdown:
		return regerrors.ErrShutdown
	}
	l.entries = make(map[scope.Key]*Entry)
	l.cache = make(map[scope.Key]*Entry)
	l.state = stateInitialized
	return nil
}

// Shutdown releases all registrations. The locator cannot be reused.
func (l *Locator) Shutdown() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != stateInitialized {
		return regerrors.ErrNotInitialized
	}
	l.entries = nil
	l.cache = nil
	l.state = stateShutdown
	return nil
}

// Register adds (or replaces) the instance under (t, zone, region). An
// existing entry at the exact key is overwritten with a warning. The
// primary map and the exact-key cache entry are updated atomically under
// the lock, so the cache is never inconsistent with the primary map.
func (l *Locator) Register(instance any, t scope.ServiceType, zone, region int32) error {
	if instance == nil {
		return regerrors.InvalidArgumentf("nil instance for %q", t)
	}
	if !t.Valid() {
		return regerrors.InvalidArgumentf("service type %q", t)
	}

	key := scope.NewKey(t, zone, region)

	l.mu.Lock()
	if l.state != stateInitialized {
		l.mu.Unlock()
		return l.stateErr()
	}

	replaced := false
	if _, exists := l.entries[key]; exists {
		replaced = true
	}

	entry := &Entry{
		ID:           uuid.NewString(),
		Key:          key,
		Instance:     instance,
		RegisteredAt: time.Now().UTC(),
	}
	l.entries[key] = entry

	// Drop memoizations that pointed at the displaced entry, then update
	// the exact-key memo so repeat lookups hit immediately.
	l.invalidateResolvedToLocked(key)
	l.cache[key] = entry

	active := len(l.entries)
	cacheSize := len(l.cache)
	l.mu.Unlock()

	if replaced {
		l.log.WithField("key", key.String()).Warn("service registration replaced existing entry")
	}
	l.metrics.RecordRegistration(string(t), active)
	l.metrics.RecordCacheSize(cacheSize)

	evt := events.EventServiceRegistered
	if replaced {
		evt = events.EventServiceReplaced
	}
	l.events.Log(events.Event{
		Type:    evt,
		Service: t,
		Zone:    zone,
		Region:  region,
		Message: "service registered at " + key.String(),
	})
	return nil
}

// Resolve looks up a service for (t, zone, region). The cache is probed
// first; on a miss the primary map is walked in fallback order and the
// first hit is memoized under the requested key. Returns (nil, false)
// outside the Initialized state or when nothing matches.
func (l *Locator) Resolve(t scope.ServiceType, zone, region int32) (any, bool) {
	e, ok := l.resolveEntry(t, zone, region, true)
	if !ok {
		return nil, false
	}
	return e.Instance, true
}

// Has reports whether a registration matching (t, zone, region) exists,
// using the same fallback walk as Resolve but never touching the cache.
func (l *Locator) Has(t scope.ServiceType, zone, region int32) bool {
	_, ok := l.resolveEntry(t, zone, region, false)
	return ok
}

// Unregister removes the registration matching (t, zone, region) via the
// fallback walk and invalidates every cache entry that resolved to it.
// It reports whether anything was removed.
func (l *Locator) Unregister(t scope.ServiceType, zone, region int32) bool {
	if !t.Valid() {
		return false
	}
	requested := scope.NewKey(t, zone, region)

	l.mu.Lock()
	if l.state != stateInitialized {
		l.mu.Unlock()
		return false
	}

	var removed *Entry
	for _, k := range requested.Fallbacks() {
		if e, ok := l.entries[k]; ok {
			removed = e
			delete(l.entries, k)
			break
		}
	}
	if removed == nil {
		l.mu.Unlock()
		return false
	}
	l.invalidateResolvedToLocked(removed.Key)

	active := len(l.entries)
	cacheSize := len(l.cache)
	l.mu.Unlock()

	l.metrics.RecordUnregistration(string(t), active)
	l.metrics.RecordCacheSize(cacheSize)
	l.events.Log(events.Event{
		Type:    events.EventServiceUnregistered,
		Service: t,
		Zone:    removed.Key.Zone,
		Region:  removed.Key.Region,
		Message: "service unregistered from " + removed.Key.String(),
	})
	return true
}

// resolveEntry is the shared lookup path. When memoize is set, fallback
// hits are cached under the requested key and cache hits are counted.
func (l *Locator) resolveEntry(t scope.ServiceType, zone, region int32, memoize bool) (*Entry, bool) {
	if !t.Valid() {
		return nil, false
	}
	requested := scope.NewKey(t, zone, region)

	l.mu.Lock()
	if l.state != stateInitialized {
		l.mu.Unlock()
		return nil, false
	}

	if memoize {
		if e, ok := l.cache[requested]; ok {
			l.mu.Unlock()
			l.metrics.RecordResolution(string(t), metrics.LevelCache)
			return e, true
		}
		l.scans++
	}

	for _, k := range requested.Fallbacks() {
		if e, ok := l.entries[k]; ok {
			level := matchLevel(requested, k)
			if memoize {
				l.cache[requested] = e
			}
			l.mu.Unlock()
			if memoize {
				l.metrics.RecordResolution(string(t), level)
			}
			return e, true
		}
	}
	l.mu.Unlock()
	if memoize {
		l.metrics.RecordResolution(string(t), metrics.LevelMiss)
	}
	return nil, false
}

// invalidateResolvedToLocked removes every cache entry whose memoized
// target was registered at key.
func (l *Locator) invalidateResolvedToLocked(key scope.Key) {
	for req, e := range l.cache {
		if e.Key == key {
			delete(l.cache, req)
		}
	}
}

func (l *Locator) stateErr() error {
	if l.state == stateShutdown {
		return regerrors.ErrShutdown
	}
	return regerrors.ErrNotInitialized
}

// matchLevel classifies which fallback step satisfied the request.
func matchLevel(requested, matched scope.Key) string {
	switch {
	case requested == matched:
		return metrics.LevelExact
	case matched.IsGlobal():
		return metrics.LevelGlobal
	case matched.Zone == scope.AnyZone:
		return metrics.LevelZone
	default:
		return metrics.LevelRegion
	}
}

// ScanCount returns the number of primary-map fallback walks performed.
// A repeat resolve served by the cache does not advance it.
func (l *Locator) ScanCount() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.scans
}

// Len returns the number of live registrations.
func (l *Locator) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Snapshot returns a copy of every live entry for diagnostics, in no
// particular order.
func (l *Locator) Snapshot() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != stateInitialized {
		return nil
	}
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, *e)
	}
	return out
}
