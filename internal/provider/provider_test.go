package provider

import (
	"errors"
	"testing"

	regerrors "github.com/atlasframe/registry/internal/errors"
	"github.com/atlasframe/registry/internal/events"
	"github.com/atlasframe/registry/internal/health"
	"github.com/atlasframe/registry/internal/locator"
	"github.com/atlasframe/registry/internal/logging"
	"github.com/atlasframe/registry/internal/metrics"
	"github.com/atlasframe/registry/internal/scope"
)

type cacheService struct {
	zone, region int32
	closed       bool
}

func newTestProvider(t *testing.T) (*Provider, *locator.Locator, *health.Monitor) {
	t.Helper()
	log := logging.NewNop()
	loc := locator.New(log, events.NopSink{}, metrics.NopCollector{})
	if err := loc.Initialize(); err != nil {
		t.Fatalf("initialize locator: %v", err)
	}
	mon := health.NewMonitor(health.DefaultConfig(), loc, log, events.NopSink{}, metrics.NopCollector{})
	return New("test", loc, mon, log), loc, mon
}

func TestRegisterFactory_Validation(t *testing.T) {
	p, _, _ := newTestProvider(t)

	if err := p.RegisterFactory("", func(z, r int32) (any, error) { return 1, nil }); !regerrors.IsInvalidArgument(err) {
		t.Fatalf("empty type: got %v", err)
	}
	if err := p.RegisterFactory("cache", nil); !regerrors.IsInvalidArgument(err) {
		t.Fatalf("nil factory: got %v", err)
	}
	if err := p.RegisterFactory("cache", func(z, r int32) (any, error) { return 1, nil }); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := p.RegisterFactory("cache", func(z, r int32) (any, error) { return 2, nil }); !regerrors.IsInvalidArgument(err) {
		t.Fatalf("duplicate factory: got %v", err)
	}
}

func TestTypes_DeclarationOrder(t *testing.T) {
	p, _, _ := newTestProvider(t)
	for _, name := range []scope.ServiceType{"cache", "queue", "index"} {
		if err := p.RegisterFactory(name, func(z, r int32) (any, error) { return struct{}{}, nil }); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	got := p.Types()
	want := []scope.ServiceType{"cache", "queue", "index"}
	if len(got) != len(want) {
		t.Fatalf("types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("types = %v, want %v", got, want)
		}
	}
}

func TestCreate_RegistersWithLocatorAndMonitor(t *testing.T) {
	p, loc, mon := newTestProvider(t)

	if err := p.RegisterFactory("cache", func(z, r int32) (any, error) {
		return &cacheService{zone: z, region: r}, nil
	}); err != nil {
		t.Fatalf("register factory: %v", err)
	}

	inst, err := p.Create("cache", 2, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	svc, ok := inst.(*cacheService)
	if !ok || svc.zone != 2 || svc.region != 1 {
		t.Fatalf("instance = %#v", inst)
	}

	resolved, ok := loc.Resolve("cache", 2, 1)
	if !ok {
		t.Fatal("resolve: no instance")
	}
	if resolved != inst {
		t.Fatal("locator returned a different instance")
	}
	if !mon.IsMonitored("cache", 2, 1) {
		t.Fatal("scope not registered with monitor")
	}
	if p.InstanceCount() != 1 {
		t.Fatalf("instance count = %d, want 1", p.InstanceCount())
	}
}

func TestCreate_KeepsExistingMonitorRecord(t *testing.T) {
	p, _, mon := newTestProvider(t)

	if err := mon.Register("cache", 0.9, 2, 1); err != nil {
		t.Fatalf("pre-register monitor: %v", err)
	}
	if err := p.RegisterFactory("cache", func(z, r int32) (any, error) {
		return &cacheService{}, nil
	}); err != nil {
		t.Fatalf("register factory: %v", err)
	}
	if _, err := p.Create("cache", 2, 1); err != nil {
		t.Fatalf("create: %v", err)
	}

	rec, ok := mon.Record("cache", 2, 1)
	if !ok {
		t.Fatal("record missing")
	}
	if rec.Importance != 0.9 {
		t.Fatalf("importance = %v, want pre-registered 0.9", rec.Importance)
	}
}

func TestCreate_Errors(t *testing.T) {
	p, _, _ := newTestProvider(t)

	if _, err := p.Create("unknown", 0, 0); !errors.Is(err, regerrors.ErrNotFound) {
		t.Fatalf("missing factory: got %v", err)
	}

	boom := errors.New("boom")
	if err := p.RegisterFactory("flaky", func(z, r int32) (any, error) { return nil, boom }); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := p.Create("flaky", 0, 0); !errors.Is(err, boom) {
		t.Fatalf("factory error not propagated: got %v", err)
	}

	if err := p.RegisterFactory("empty", func(z, r int32) (any, error) { return nil, nil }); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := p.Create("empty", 0, 0); !errors.Is(err, regerrors.ErrInvalidArgument) {
		t.Fatalf("nil instance: got %v", err)
	}
	if p.InstanceCount() != 0 {
		t.Fatalf("failed creates must not be tracked, count = %d", p.InstanceCount())
	}
}

func TestConfig_FallbackHierarchy(t *testing.T) {
	p, _, _ := newTestProvider(t)

	if err := p.SetConfig("cache", scope.AnyZone, scope.AnyRegion, []byte(`{"ttl":60}`)); err != nil {
		t.Fatalf("set global: %v", err)
	}
	if err := p.SetConfig("cache", scope.AnyZone, 1, []byte(`{"ttl":120}`)); err != nil {
		t.Fatalf("set region: %v", err)
	}
	if err := p.SetConfig("cache", 2, 1, []byte(`{"ttl":300}`)); err != nil {
		t.Fatalf("set exact: %v", err)
	}

	cases := []struct {
		zone, region int32
		wantTTL      int64
	}{
		{2, 1, 300},  // exact
		{3, 1, 120},  // falls to region blob
		{7, 9, 60},   // falls to global blob
		{scope.AnyZone, scope.AnyRegion, 60},
	}
	for _, c := range cases {
		v, ok := p.ConfigValue("cache", c.zone, c.region, "ttl")
		if !ok {
			t.Fatalf("(%d,%d): no config", c.zone, c.region)
		}
		if v.Int() != c.wantTTL {
			t.Fatalf("(%d,%d): ttl = %d, want %d", c.zone, c.region, v.Int(), c.wantTTL)
		}
	}
}

func TestConfig_Validation(t *testing.T) {
	p, _, _ := newTestProvider(t)

	if err := p.SetConfig("cache", 0, 0, []byte(`{not json`)); !regerrors.IsInvalidArgument(err) {
		t.Fatalf("invalid JSON: got %v", err)
	}
	if _, ok := p.Config("cache", 0, 0); ok {
		t.Fatal("rejected blob must not be stored")
	}
	if _, ok := p.ConfigValue("cache", 0, 0, "ttl"); ok {
		t.Fatal("missing blob must not yield a value")
	}
}

func TestConfigValue_NestedPath(t *testing.T) {
	p, _, _ := newTestProvider(t)

	blob := []byte(`{"pool":{"max_size":16,"endpoints":["a","b"]}}`)
	if err := p.SetConfig("db", scope.AnyZone, scope.AnyRegion, blob); err != nil {
		t.Fatalf("set config: %v", err)
	}
	v, ok := p.ConfigValue("db", 4, 2, "pool.max_size")
	if !ok || v.Int() != 16 {
		t.Fatalf("pool.max_size = %v (ok=%v), want 16", v, ok)
	}
	v, ok = p.ConfigValue("db", 4, 2, "pool.endpoints.1")
	if !ok || v.String() != "b" {
		t.Fatalf("pool.endpoints.1 = %q (ok=%v), want b", v.String(), ok)
	}
	if _, ok := p.ConfigValue("db", 4, 2, "pool.missing"); ok {
		t.Fatal("absent path must report false")
	}
}

func TestTeardown_DestroysOwnedInReverseOrder(t *testing.T) {
	p, loc, mon := newTestProvider(t)

	var destroyed []int32
	if err := p.RegisterFactory("cache", func(z, r int32) (any, error) {
		return &cacheService{zone: z, region: r}, nil
	}); err != nil {
		t.Fatalf("register factory: %v", err)
	}
	if err := p.RegisterDestructor("cache", func(inst any) error {
		svc := inst.(*cacheService)
		svc.closed = true
		destroyed = append(destroyed, svc.zone)
		return nil
	}); err != nil {
		t.Fatalf("register destructor: %v", err)
	}

	for _, z := range []int32{1, 2, 3} {
		if _, err := p.Create("cache", z, 0); err != nil {
			t.Fatalf("create zone %d: %v", z, err)
		}
	}
	if err := p.Teardown(); err != nil {
		t.Fatalf("teardown: %v", err)
	}

	if len(destroyed) != 3 || destroyed[0] != 3 || destroyed[1] != 2 || destroyed[2] != 1 {
		t.Fatalf("destruction order = %v, want [3 2 1]", destroyed)
	}
	if loc.Len() != 0 {
		t.Fatalf("locator still holds %d entries", loc.Len())
	}
	if mon.IsMonitored("cache", 1, 0) {
		t.Fatal("monitor record survived teardown")
	}
	if p.InstanceCount() != 0 {
		t.Fatalf("instance count = %d after teardown", p.InstanceCount())
	}
}

func TestTeardown_WithoutDestructorLeavesInstanceAlive(t *testing.T) {
	p, loc, _ := newTestProvider(t)

	if err := p.RegisterFactory("cache", func(z, r int32) (any, error) {
		return &cacheService{}, nil
	}); err != nil {
		t.Fatalf("register factory: %v", err)
	}
	inst, err := p.Create("cache", 1, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := p.Teardown(); err != nil {
		t.Fatalf("teardown: %v", err)
	}

	if inst.(*cacheService).closed {
		t.Fatal("non-owned instance was destroyed")
	}
	if loc.Len() != 0 {
		t.Fatal("entry not unregistered")
	}
}

func TestTeardown_ReturnsFirstDestructorError(t *testing.T) {
	p, _, _ := newTestProvider(t)

	boom := errors.New("close failed")
	if err := p.RegisterFactory("cache", func(z, r int32) (any, error) {
		return &cacheService{zone: z}, nil
	}); err != nil {
		t.Fatalf("register factory: %v", err)
	}
	calls := 0
	if err := p.RegisterDestructor("cache", func(any) error {
		calls++
		return boom
	}); err != nil {
		t.Fatalf("register destructor: %v", err)
	}
	if _, err := p.Create("cache", 1, 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := p.Create("cache", 2, 0); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := p.Teardown(); !errors.Is(err, boom) {
		t.Fatalf("teardown error = %v, want %v", err, boom)
	}
	if calls != 2 {
		t.Fatalf("destructor calls = %d, want 2 (teardown must not stop early)", calls)
	}
}

type inventorySet struct {
	registered bool
	released   bool
}

func (s *inventorySet) RegisterServices(p *Provider) error {
	s.registered = true
	return p.RegisterFactory("inventory", func(z, r int32) (any, error) {
		return &cacheService{zone: z, region: r}, nil
	})
}

func (s *inventorySet) UnregisterServices(p *Provider) error {
	s.released = true
	return p.Teardown()
}

func TestServiceSet_RoundTrip(t *testing.T) {
	p, _, _ := newTestProvider(t)

	var set ServiceSet = &inventorySet{}
	if err := set.RegisterServices(p); err != nil {
		t.Fatalf("register services: %v", err)
	}
	if _, err := p.Create("inventory", 0, 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := set.UnregisterServices(p); err != nil {
		t.Fatalf("unregister services: %v", err)
	}
	if p.InstanceCount() != 0 {
		t.Fatalf("instance count = %d after unregister", p.InstanceCount())
	}
}
