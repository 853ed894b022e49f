// Package provider implements the service provider framework: factory
// registration per interface type, per-scope configuration blobs, and
// instance bookkeeping. A provider creates an instance, registers it
// with the locator under its scope, and registers the scope with the
// health monitor at a default importance.
//
// Ownership is explicit: the provider destroys a tracked instance at
// teardown only when a destructor was registered for its type;
// otherwise ownership stays with the creator and the provider holds a
// non-owning reference.
package provider

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tidwall/gjson"

	regerrors "github.com/atlasframe/registry/internal/errors"
	"github.com/atlasframe/registry/internal/health"
	"github.com/atlasframe/registry/internal/locator"
	"github.com/atlasframe/registry/internal/logging"
	"github.com/atlasframe/registry/internal/scope"
)

// defaultImportance is assigned to monitor records created by the
// provider when the scope is not already monitored.
const defaultImportance = 0.5

// Factory builds a service instance for a concrete scope.
type Factory func(zone, region int32) (any, error)

// Destructor releases a service instance the provider owns.
type Destructor func(instance any) error

// ServiceSet is implemented by domain specializations. The base
// provider supplies the factory, config, and bookkeeping machinery;
// specializations declare their bindings.
type ServiceSet interface {
	// RegisterServices declares factories, configs, and dependencies.
	RegisterServices(p *Provider) error

	// UnregisterServices releases anything RegisterServices set up.
	UnregisterServices(p *Provider) error
}

type ownedInstance struct {
	key      scope.Key
	instance any
}

// Provider owns factories and the instances created through them.
type Provider struct {
	mu          sync.Mutex
	name        string
	factories   map[scope.ServiceType]Factory
	order       []scope.ServiceType // factory declaration order
	destructors map[scope.ServiceType]Destructor
	configs     map[scope.Key][]byte
	owned       []ownedInstance

	locator *locator.Locator
	monitor *health.Monitor
	log     *logging.Logger
}

// New creates a Provider bound to a locator and health monitor.
func New(name string, loc *locator.Locator, mon *health.Monitor, log *logging.Logger) *Provider {
	if log == nil {
		log = logging.NewDefault("provider")
	}
	return &Provider{
		name:        name,
		factories:   make(map[scope.ServiceType]Factory),
		destructors: make(map[scope.ServiceType]Destructor),
		configs:     make(map[scope.Key][]byte),
		locator:     loc,
		monitor:     mon,
		log:         log.WithField("provider", name),
	}
}

// Name returns the provider's name.
func (p *Provider) Name() string { return p.name }

// RegisterFactory binds a factory to an interface type. Re-binding an
// already registered type is rejected.
func (p *Provider) RegisterFactory(t scope.ServiceType, f Factory) error {
	if !t.Valid() {
		return regerrors.InvalidArgumentf("service type %q", t)
	}
	if f == nil {
		return regerrors.InvalidArgumentf("nil factory for %q", t)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.factories[t]; exists {
		return regerrors.InvalidArgumentf("factory for %q already registered", t)
	}
	p.factories[t] = f
	p.order = append(p.order, t)
	return nil
}

// RegisterDestructor declares how instances of t are destroyed at
// teardown. Types without a destructor are tracked as non-owning
// references only.
func (p *Provider) RegisterDestructor(t scope.ServiceType, d Destructor) error {
	if !t.Valid() {
		return regerrors.InvalidArgumentf("service type %q", t)
	}
	if d == nil {
		return regerrors.InvalidArgumentf("nil destructor for %q", t)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destructors[t] = d
	return nil
}

// Types returns the factory-bound types in declaration order. The
// registry feeds this into the dependency graph to order creation.
func (p *Provider) Types() []scope.ServiceType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]scope.ServiceType, len(p.order))
	copy(out, p.order)
	return out
}

// SetConfig stores an opaque JSON configuration blob for (t, zone,
// region). The blob must be valid JSON so path queries work.
func (p *Provider) SetConfig(t scope.ServiceType, zone, region int32, blob []byte) error {
	if !t.Valid() {
		return regerrors.InvalidArgumentf("service type %q", t)
	}
	if !json.Valid(blob) {
		return regerrors.InvalidArgumentf("config for %q is not valid JSON", t)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configs[scope.NewKey(t, zone, region)] = blob
	return nil
}

// Config returns the configuration blob for (t, zone, region) using the
// same four-step fallback as service resolution: exact scope, zone
// wildcard, region wildcard, global.
func (p *Provider) Config(t scope.ServiceType, zone, region int32) ([]byte, bool) {
	if !t.Valid() {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, k := range scope.NewKey(t, zone, region).Fallbacks() {
		if blob, ok := p.configs[k]; ok {
			return blob, true
		}
	}
	return nil, false
}

// ConfigValue queries a path inside the scope's config blob, e.g.
// "pool.max_size". The boolean is false when no blob matches or the
// path does not exist.
func (p *Provider) ConfigValue(t scope.ServiceType, zone, region int32, path string) (gjson.Result, bool) {
	blob, ok := p.Config(t, zone, region)
	if !ok {
		return gjson.Result{}, false
	}
	res := gjson.GetBytes(blob, path)
	return res, res.Exists()
}

// Create builds an instance of t for (zone, region): the factory is
// invoked, the instance is tracked, registered with the locator under
// the same scope, and the scope is registered with the health monitor
// at default importance when not already monitored.
func (p *Provider) Create(t scope.ServiceType, zone, region int32) (any, error) {
	if !t.Valid() {
		return nil, regerrors.InvalidArgumentf("service type %q", t)
	}

	p.mu.Lock()
	factory, ok := p.factories[t]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no factory for %q: %w", t, regerrors.ErrNotFound)
	}

	instance, err := factory(zone, region)
	if err != nil {
		return nil, fmt.Errorf("factory for %q: %w", t, err)
	}
	if instance == nil {
		return nil, fmt.Errorf("factory for %q returned nil: %w", t, regerrors.ErrInvalidArgument)
	}

	key := scope.NewKey(t, zone, region)
	if err := p.locator.Register(instance, t, zone, region); err != nil {
		return nil, fmt.Errorf("register %s: %w", key, err)
	}

	p.mu.Lock()
	p.owned = append(p.owned, ownedInstance{key: key, instance: instance})
	p.mu.Unlock()

	if !p.monitor.IsMonitored(t, zone, region) {
		if err := p.monitor.Register(t, defaultImportance, zone, region); err != nil {
			p.log.WithError(err).WithField("key", key.String()).Warn("health registration failed")
		}
	}

	p.log.WithField("key", key.String()).Info("service instance created")
	return instance, nil
}

// InstanceCount returns the number of tracked instances.
func (p *Provider) InstanceCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.owned)
}

// Teardown releases every tracked instance in reverse creation order:
// the scope is unregistered from the locator and monitor, and the
// instance is destroyed when a destructor is registered for its type.
// The first destructor error is returned after all instances were
// processed.
func (p *Provider) Teardown() error {
	p.mu.Lock()
	owned := p.owned
	p.owned = nil
	destructors := make(map[scope.ServiceType]Destructor, len(p.destructors))
	for t, d := range p.destructors {
		destructors[t] = d
	}
	p.mu.Unlock()

	var firstErr error
	for i := len(owned) - 1; i >= 0; i-- {
		inst := owned[i]
		p.locator.Unregister(inst.key.Type, inst.key.Zone, inst.key.Region)
		p.monitor.Unregister(inst.key.Type, inst.key.Zone, inst.key.Region)

		d, ok := destructors[inst.key.Type]
		if !ok {
			// Non-owning reference; destruction is the creator's job.
			continue
		}
		if err := d(inst.instance); err != nil {
			p.log.WithError(err).WithField("key", inst.key.String()).Error("destructor failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
