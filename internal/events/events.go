// Package events provides a bounded, in-memory event log for the registry.
// Events capture registrations, dependency graph changes, health status
// transitions, and recovery outcomes. Consumers can subscribe to the live
// stream or query the recent history; the buffer is a fixed-size ring so
// memory stays bounded regardless of churn.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atlasframe/registry/internal/scope"
)

// Type classifies the kind of registry event.
type Type string

const (
	// Locator events
	EventServiceRegistered   Type = "service.registered"
	EventServiceReplaced     Type = "service.replaced"
	EventServiceUnregistered Type = "service.unregistered"

	// Dependency graph events
	EventDependencyRegistered Type = "dependency.registered"
	EventDependencyCycle      Type = "dependency.cycle"
	EventDependencyMissing    Type = "dependency.missing"

	// Health events
	EventHealthChanged      Type = "health.status_changed"
	EventRecoveryStarted    Type = "recovery.started"
	EventRecoverySucceeded  Type = "recovery.succeeded"
	EventRecoveryFailed     Type = "recovery.failed"
	EventRecoveryExhausted  Type = "recovery.exhausted"

	// Registry lifecycle events
	EventRegistryInitialized Type = "registry.initialized"
	EventRegistryShutdown    Type = "registry.shutdown"
)

// Severity indicates the importance of an event.
type Severity string

const (
	SeverityDebug   Severity = "debug"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is a structured registry event.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`

	// Scope of the affected service, when applicable.
	Service scope.ServiceType `json:"service,omitempty"`
	Zone    int32             `json:"zone,omitempty"`
	Region  int32             `json:"region,omitempty"`

	Message  string            `json:"message,omitempty"`
	Error    string            `json:"error,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// String renders the event as JSON.
func (e Event) String() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// Handler processes events as they occur.
type Handler func(Event)

// Filter decides whether an event should be delivered to a handler.
type Filter func(Event) bool

// Sink is the interface for event logging. The registry core only ever
// writes; the admin API reads history and subscribes.
type Sink interface {
	Log(event Event)
	Subscribe(handler Handler) func()
	SubscribeFiltered(filter Filter, handler Handler) func()
	Recent(n int) []Event
	RecentByService(service scope.ServiceType, n int) []Event
	RecentByType(eventType Type, n int) []Event
}

// Log is a thread-safe ring buffer of events implementing Sink.
type Log struct {
	mu       sync.RWMutex
	events   []Event
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int64
}

type handlerEntry struct {
	id      int64
	filter  Filter
	handler Handler
}

// NewLog creates an event log holding up to size events.
func NewLog(size int) *Log {
	if size <= 0 {
		size = 1000
	}
	return &Log{
		events: make([]Event, size),
		size:   size,
	}
}

// Log appends an event and notifies subscribers. Missing timestamps and
// IDs are filled in.
func (l *Log) Log(event Event) {
	l.mu.Lock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}

	l.events[l.head] = event
	l.head = (l.head + 1) % l.size
	if l.count < l.size {
		l.count++
	}

	handlers := make([]handlerEntry, len(l.handlers))
	copy(handlers, l.handlers)
	l.mu.Unlock()

	// Handlers run outside the lock.
	for _, h := range handlers {
		if h.filter == nil || h.filter(event) {
			h.handler(event)
		}
	}
}

// Subscribe registers a handler for all events and returns an
// unsubscribe function.
func (l *Log) Subscribe(handler Handler) func() {
	return l.SubscribeFiltered(nil, handler)
}

// SubscribeFiltered registers a handler that only receives events the
// filter accepts.
func (l *Log) SubscribeFiltered(filter Filter, handler Handler) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.handlers = append(l.handlers, handlerEntry{id: id, filter: filter, handler: handler})
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, h := range l.handlers {
			if h.id == id {
				l.handlers = append(l.handlers[:i], l.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns up to n most recent events, newest first.
func (l *Log) Recent(n int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || l.count == 0 {
		return nil
	}
	if n > l.count {
		n = l.count
	}
	result := make([]Event, n)
	for i := 0; i < n; i++ {
		idx := (l.head - 1 - i + l.size) % l.size
		result[i] = l.events[idx]
	}
	return result
}

// RecentByService returns up to n recent events for a service type.
func (l *Log) RecentByService(service scope.ServiceType, n int) []Event {
	return l.recentWhere(n, func(e Event) bool { return e.Service == service })
}

// RecentByType returns up to n recent events of a given type.
func (l *Log) RecentByType(eventType Type, n int) []Event {
	return l.recentWhere(n, func(e Event) bool { return e.Type == eventType })
}

func (l *Log) recentWhere(n int, match func(Event) bool) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || l.count == 0 {
		return nil
	}
	var result []Event
	for i := 0; i < l.count && len(result) < n; i++ {
		idx := (l.head - 1 - i + l.size) % l.size
		if match(l.events[idx]) {
			result = append(result, l.events[idx])
		}
	}
	return result
}

// Count returns the number of buffered events.
func (l *Log) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

// Clear drops all buffered events. Subscriptions survive.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = make([]Event, l.size)
	l.head = 0
	l.count = 0
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Log(Event)                                         {}
func (NopSink) Subscribe(Handler) func()                          { return func() {} }
func (NopSink) SubscribeFiltered(Filter, Handler) func()          { return func() {} }
func (NopSink) Recent(int) []Event                                { return nil }
func (NopSink) RecentByService(scope.ServiceType, int) []Event    { return nil }
func (NopSink) RecentByType(Type, int) []Event                    { return nil }

var (
	_ Sink = (*Log)(nil)
	_ Sink = NopSink{}
)
