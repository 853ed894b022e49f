// Package registry composes the dependency graph, service locator,
// health monitor, and service providers behind one explicitly
// constructed facade. There are no package-level singletons; callers
// build a Registry, add providers, declare dependencies, and drive the
// lifecycle through Initialize, Update, and Shutdown.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	regerrors "github.com/atlasframe/registry/internal/errors"
	"github.com/atlasframe/registry/internal/events"
	"github.com/atlasframe/registry/internal/graph"
	"github.com/atlasframe/registry/internal/health"
	"github.com/atlasframe/registry/internal/locator"
	"github.com/atlasframe/registry/internal/logging"
	"github.com/atlasframe/registry/internal/metrics"
	"github.com/atlasframe/registry/internal/provider"
	"github.com/atlasframe/registry/internal/scope"
)

// Config carries the tunables for a Registry instance.
type Config struct {
	Health       health.Config `yaml:"health"`
	EventLogSize int           `yaml:"event_log_size"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Health:       health.DefaultConfig(),
		EventLogSize: 1000,
	}
}

// Option customizes registry construction.
type Option func(*options)

type options struct {
	recovery health.RecoveryStrategy
	cpu      health.CPUSampler
	recorder metrics.Recorder
}

// WithRecoveryStrategy replaces the default locator liveness probe.
func WithRecoveryStrategy(s health.RecoveryStrategy) Option {
	return func(o *options) { o.recovery = s }
}

// WithCPUSampler replaces the system CPU sampler, mainly for tests.
func WithCPUSampler(s health.CPUSampler) Option {
	return func(o *options) { o.cpu = s }
}

// WithRecorder replaces the default prometheus metrics collector.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *options) { o.recorder = r }
}

type boundSet struct {
	name     string
	set      provider.ServiceSet
	provider *provider.Provider
}

// Registry wires the components together and owns their lifecycle.
type Registry struct {
	mu          sync.Mutex
	initialized bool
	closed      bool

	cfg      Config
	log      *logging.Logger
	eventLog *events.Log
	recorder metrics.Recorder

	graph     *graph.Graph
	locator   *locator.Locator
	monitor   *health.Monitor
	providers []*provider.Provider
	sets      []boundSet
}

// New builds an uninitialized Registry. A nil logger gets a default.
func New(cfg Config, log *logging.Logger, opts ...Option) *Registry {
	if log == nil {
		log = logging.NewDefault("registry")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.recorder == nil {
		o.recorder = metrics.NopCollector{}
	}

	eventLog := events.NewLog(cfg.EventLogSize)
	loc := locator.New(log, eventLog, o.recorder)

	monitorOpts := []health.Option{}
	if o.recovery != nil {
		monitorOpts = append(monitorOpts, health.WithRecoveryStrategy(o.recovery))
	}
	if o.cpu != nil {
		monitorOpts = append(monitorOpts, health.WithCPUSampler(o.cpu))
	}
	mon := health.NewMonitor(cfg.Health, loc, log, eventLog, o.recorder, monitorOpts...)

	return &Registry{
		cfg:      cfg,
		log:      log,
		eventLog: eventLog,
		recorder: o.recorder,
		graph:    graph.New(log),
		locator:  loc,
		monitor:  mon,
	}
}

// NewProvider creates a Provider bound to this registry's locator and
// monitor and tracks it for lifecycle management.
func (r *Registry) NewProvider(name string) *Provider {
	p := provider.New(name, r.locator, r.monitor, r.log)
	r.mu.Lock()
	r.providers = append(r.providers, p)
	r.mu.Unlock()
	return p
}

// Provider is re-exported so callers composing a registry do not need
// a separate import for the common case.
type Provider = provider.Provider

// AddServiceSet creates a provider for the set and invokes its
// RegisterServices hook. Sets are torn down in reverse add order.
func (r *Registry) AddServiceSet(name string, set provider.ServiceSet) error {
	if set == nil {
		return regerrors.InvalidArgumentf("nil service set %q", name)
	}
	p := r.NewProvider(name)
	if err := set.RegisterServices(p); err != nil {
		return fmt.Errorf("service set %q: %w", name, err)
	}
	r.mu.Lock()
	r.sets = append(r.sets, boundSet{name: name, set: set, provider: p})
	r.mu.Unlock()
	return nil
}

// RegisterDependency records an edge in the dependency graph. Cycle
// rejections are surfaced as events and metrics in addition to the
// returned CycleError.
func (r *Registry) RegisterDependency(dependent, dependency scope.ServiceType, mandatory bool) error {
	err := r.graph.RegisterDependency(dependent, dependency, mandatory)
	if err != nil {
		if regerrors.IsCycle(err) {
			r.recorder.RecordDependencyCycle()
			r.eventLog.Log(events.Event{
				Type:     events.EventDependencyCycle,
				Severity: events.SeverityError,
				Service:  dependent,
				Message:  fmt.Sprintf("edge %s -> %s rejected: %v", dependent, dependency, err),
			})
		}
		return err
	}

	r.recorder.RecordDependencyEdges(r.graph.Len())
	r.eventLog.Log(events.Event{
		Type:    events.EventDependencyRegistered,
		Service: dependent,
		Message: fmt.Sprintf("%s depends on %s (mandatory=%v)", dependent, dependency, mandatory),
	})
	return nil
}

// Initialize brings the registry up: the locator is initialized, the
// provider factory types are ordered dependency-first, mandatory
// dependencies are validated, and one global-scope instance is created
// per factory type in that order. Scoped instances beyond the global
// one are created explicitly through the providers afterwards.
func (r *Registry) Initialize(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return regerrors.ErrShutdown
	}
	if r.initialized {
		r.mu.Unlock()
		return nil
	}
	providers := make([]*provider.Provider, len(r.providers))
	copy(providers, r.providers)
	r.mu.Unlock()

	if err := r.locator.Initialize(); err != nil {
		return err
	}

	// One creation slot per factory type; first declaring provider wins.
	owners := make(map[scope.ServiceType]*provider.Provider)
	var candidates []scope.ServiceType
	for _, p := range providers {
		for _, t := range p.Types() {
			if _, seen := owners[t]; seen {
				r.log.WithField("type", string(t)).Warn("factory type declared by multiple providers")
				continue
			}
			owners[t] = p
			candidates = append(candidates, t)
		}
	}

	ordered, err := r.graph.InitializationOrder(candidates)
	if err != nil {
		return fmt.Errorf("initialization order: %w", err)
	}

	if ok, missing := r.graph.Validate(candidates); !ok {
		r.recorder.RecordDependencyMissing(len(missing))
		names := make([]string, 0, len(missing))
		for _, e := range missing {
			names = append(names, e.String())
			r.eventLog.Log(events.Event{
				Type:     events.EventDependencyMissing,
				Severity: events.SeverityError,
				Service:  e.Dependent,
				Message:  "mandatory dependency missing: " + e.String(),
			})
		}
		return fmt.Errorf("mandatory dependencies unsatisfied: %s: %w",
			strings.Join(names, ", "), regerrors.ErrNotFound)
	}

	for _, t := range ordered {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if _, err := owners[t].Create(t, scope.AnyZone, scope.AnyRegion); err != nil {
			return fmt.Errorf("create %q: %w", t, err)
		}
	}

	r.mu.Lock()
	r.initialized = true
	r.mu.Unlock()

	r.eventLog.Log(events.Event{
		Type:    events.EventRegistryInitialized,
		Message: fmt.Sprintf("registry initialized with %d services", len(ordered)),
	})
	r.log.WithField("services", len(ordered)).Info("registry initialized")
	return nil
}

// Shutdown tears everything down in reverse: service sets and
// providers in reverse add order, then the monitor, locator, and
// graph. Shutdown is terminal; the registry cannot be reinitialized.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.initialized = false
	sets := make([]boundSet, len(r.sets))
	copy(sets, r.sets)
	providers := make([]*provider.Provider, len(r.providers))
	copy(providers, r.providers)
	r.mu.Unlock()

	var firstErr error
	for i := len(sets) - 1; i >= 0; i-- {
		if err := sets[i].set.UnregisterServices(sets[i].provider); err != nil {
			r.log.WithError(err).WithField("set", sets[i].name).Error("service set teardown failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	for i := len(providers) - 1; i >= 0; i-- {
		if err := providers[i].Teardown(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	r.monitor.Shutdown()
	if err := r.locator.Shutdown(); err != nil && firstErr == nil {
		firstErr = err
	}
	r.graph.Clear()

	r.eventLog.Log(events.Event{
		Type:    events.EventRegistryShutdown,
		Message: "registry shut down",
	})
	r.log.Info("registry shut down")

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return firstErr
}

// Update forwards elapsed time to the health monitor.
func (r *Registry) Update(dt time.Duration) {
	r.monitor.Update(dt)
}

// Locator exposes the service locator for resolution.
func (r *Registry) Locator() *locator.Locator { return r.locator }

// Graph exposes the dependency graph.
func (r *Registry) Graph() *graph.Graph { return r.graph }

// Monitor exposes the health monitor.
func (r *Registry) Monitor() *health.Monitor { return r.monitor }

// Events exposes the lifecycle event log.
func (r *Registry) Events() *events.Log { return r.eventLog }
