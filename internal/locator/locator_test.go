package locator

import (
	"testing"

	regerrors "github.com/atlasframe/registry/internal/errors"
	"github.com/atlasframe/registry/internal/logging"
	"github.com/atlasframe/registry/internal/scope"
)

type fakeService struct{ name string }

func newLocator(t *testing.T) *Locator {
	t.Helper()
	l := New(logging.NewNop(), nil, nil)
	if err := l.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return l
}

func TestLifecycle_FailFastOutsideInitialized(t *testing.T) {
	l := New(logging.NewNop(), nil, nil)

	if err := l.Register(&fakeService{}, "cache", 1, 1); !regerrors.IsNotInitialized(err) {
		t.Errorf("Register before init: got %v, want not-initialized", err)
	}
	if _, ok := l.Resolve("cache", 1, 1); ok {
		t.Error("Resolve before init should miss")
	}
	if l.Unregister("cache", 1, 1) {
		t.Error("Unregister before init should report false")
	}

	if err := l.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := l.Initialize(); err != nil {
		t.Errorf("repeat Initialize should be a no-op, got %v", err)
	}
	if err := l.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	// Shutdown is terminal.
	if err := l.Initialize(); err == nil {
		t.Error("Initialize after Shutdown should fail")
	}
	if err := l.Register(&fakeService{}, "cache", 1, 1); err == nil {
		t.Error("Register after Shutdown should fail")
	}
}

func TestRegister_InvalidInput(t *testing.T) {
	l := newLocator(t)
	if err := l.Register(nil, "cache", 1, 1); !regerrors.IsInvalidArgument(err) {
		t.Errorf("nil instance: got %v, want invalid argument", err)
	}
	if err := l.Register(&fakeService{}, "", 1, 1); !regerrors.IsInvalidArgument(err) {
		t.Errorf("empty type: got %v, want invalid argument", err)
	}
}

func TestResolve_ExactScopeOnly(t *testing.T) {
	l := newLocator(t)
	svc := &fakeService{name: "zone5"}
	if err := l.Register(svc, "T", 5, 2); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if got, ok := l.Resolve("T", 5, 2); !ok || got != svc {
		t.Errorf("Resolve(T,5,2) = (%v, %v), want registered instance", got, ok)
	}
	if _, ok := l.Resolve("T", 9, 2); ok {
		t.Error("Resolve(T,9,2) should miss with only a zone-5 registration")
	}
}

func TestResolve_FallbackHierarchy(t *testing.T) {
	l := newLocator(t)
	zoneSvc := &fakeService{name: "zone"}
	regionSvc := &fakeService{name: "region"}
	globalSvc := &fakeService{name: "global"}

	if err := l.Register(globalSvc, "T", scope.AnyZone, scope.AnyRegion); err != nil {
		t.Fatal(err)
	}
	if err := l.Register(regionSvc, "T", scope.AnyZone, 2); err != nil {
		t.Fatal(err)
	}
	if err := l.Register(zoneSvc, "T", 5, 2); err != nil {
		t.Fatal(err)
	}

	// Zone-specific override wins over region default wins over global.
	if got, _ := l.Resolve("T", 5, 2); got != zoneSvc {
		t.Errorf("Resolve(T,5,2) = %v, want zone entry", got)
	}
	if got, _ := l.Resolve("T", 9, 2); got != regionSvc {
		t.Errorf("Resolve(T,9,2) = %v, want region entry", got)
	}
	if got, _ := l.Resolve("T", 9, 7); got != globalSvc {
		t.Errorf("Resolve(T,9,7) = %v, want global entry", got)
	}
}

func TestResolve_RegionWildcardEntry(t *testing.T) {
	l := newLocator(t)
	svc := &fakeService{}
	if err := l.Register(svc, "T", 5, scope.AnyRegion); err != nil {
		t.Fatal(err)
	}
	// Region wildcard entry serves any region for that zone.
	if got, ok := l.Resolve("T", 5, 9); !ok || got != svc {
		t.Errorf("Resolve(T,5,9) = (%v, %v), want region-wildcard entry", got, ok)
	}
}

func TestResolve_MemoizesUnderRequestedKey(t *testing.T) {
	l := newLocator(t)
	svc := &fakeService{}
	if err := l.Register(svc, "T", scope.AnyZone, 2); err != nil {
		t.Fatal(err)
	}

	if _, ok := l.Resolve("T", 9, 2); !ok {
		t.Fatal("fallback resolve should hit the region entry")
	}
	scans := l.ScanCount()

	// A repeat identical lookup is served from the cache, not a re-scan.
	if _, ok := l.Resolve("T", 9, 2); !ok {
		t.Fatal("cached resolve should hit")
	}
	if l.ScanCount() != scans {
		t.Errorf("ScanCount advanced from %d to %d on a cached resolve", scans, l.ScanCount())
	}

	// A different requested key scans again.
	l.Resolve("T", 8, 2)
	if l.ScanCount() != scans+1 {
		t.Errorf("ScanCount = %d, want %d", l.ScanCount(), scans+1)
	}
}

func TestUnregister_InvalidatesCache(t *testing.T) {
	l := newLocator(t)
	svc := &fakeService{}
	if err := l.Register(svc, "T", scope.AnyZone, scope.AnyRegion); err != nil {
		t.Fatal(err)
	}

	if _, ok := l.Resolve("T", 5, 2); !ok {
		t.Fatal("fallback resolve should hit the global entry")
	}
	if !l.Unregister("T", scope.AnyZone, scope.AnyRegion) {
		t.Fatal("Unregister should remove the global entry")
	}

	// The memoized fallback must not survive removal.
	if _, ok := l.Resolve("T", 5, 2); ok {
		t.Error("Resolve should miss after the matched entry was unregistered")
	}
}

func TestUnregister_UsesFallbackSearch(t *testing.T) {
	l := newLocator(t)
	if err := l.Register(&fakeService{}, "T", scope.AnyZone, scope.AnyRegion); err != nil {
		t.Fatal(err)
	}
	// Unregistering a narrower scope removes the wildcard entry it falls
	// back to.
	if !l.Unregister("T", 5, 2) {
		t.Error("Unregister(T,5,2) should match the global entry")
	}
	if l.Len() != 0 {
		t.Errorf("Len() = %d, want 0", l.Len())
	}
}

func TestHas_DoesNotPopulateCache(t *testing.T) {
	l := newLocator(t)
	if err := l.Register(&fakeService{}, "T", scope.AnyZone, scope.AnyRegion); err != nil {
		t.Fatal(err)
	}

	if !l.Has("T", 5, 2) {
		t.Fatal("Has should see the global entry")
	}
	scans := l.ScanCount()

	// Has left no memo behind: the next Resolve walks the primary map.
	l.Resolve("T", 5, 2)
	if l.ScanCount() != scans+1 {
		t.Error("Resolve after Has should still scan the primary map")
	}
}

func TestRegister_OverwriteKeepsCacheConsistent(t *testing.T) {
	l := newLocator(t)
	first := &fakeService{name: "first"}
	second := &fakeService{name: "second"}

	if err := l.Register(first, "T", 5, 2); err != nil {
		t.Fatal(err)
	}
	if _, ok := l.Resolve("T", 5, 2); !ok {
		t.Fatal("resolve should hit")
	}
	if err := l.Register(second, "T", 5, 2); err != nil {
		t.Fatalf("overwrite should succeed, got %v", err)
	}
	if got, _ := l.Resolve("T", 5, 2); got != second {
		t.Errorf("Resolve after overwrite = %v, want the replacement", got)
	}
	if l.Len() != 1 {
		t.Errorf("Len() = %d after overwrite, want 1", l.Len())
	}
}

func TestSnapshot(t *testing.T) {
	l := newLocator(t)
	if err := l.Register(&fakeService{}, "A", 1, 1); err != nil {
		t.Fatal(err)
	}
	if err := l.Register(&fakeService{}, "B", scope.AnyZone, scope.AnyRegion); err != nil {
		t.Fatal(err)
	}

	snap := l.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot returned %d entries, want 2", len(snap))
	}
	for _, e := range snap {
		if e.ID == "" {
			t.Error("snapshot entry missing ID")
		}
		if e.RegisteredAt.IsZero() {
			t.Error("snapshot entry missing RegisteredAt")
		}
	}
}
