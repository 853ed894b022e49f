// Package graph implements the service dependency graph: mandatory and
// optional edges between service types, cycle detection, topological
// initialization ordering, and dependency validation.
//
// The graph is populated at composition time, before any instance is
// created. Every successful mutation leaves the graph acyclic: an edge
// registration that would close a cycle is rejected and fully rolled back,
// with the offending edges reported for diagnostics. The full-graph cycle
// check is O(V+E) and runs under the lock on every registration; since
// registration happens only during wiring, correctness wins over
// throughput here.
package graph

import (
	"fmt"
	"strings"
	"sync"

	regerrors "github.com/atlasframe/registry/internal/errors"
	"github.com/atlasframe/registry/internal/logging"
	"github.com/atlasframe/registry/internal/scope"
)

// Edge records that Dependent depends on Dependency.
type Edge struct {
	Dependent  scope.ServiceType `json:"dependent"`
	Dependency scope.ServiceType `json:"dependency"`
	Mandatory  bool              `json:"mandatory"`
}

// String renders the edge for diagnostics.
func (e Edge) String() string {
	kind := "optional"
	if e.Mandatory {
		kind = "mandatory"
	}
	return fmt.Sprintf("%s -> %s (%s)", e.Dependent, e.Dependency, kind)
}

// CycleError reports the edges implicated in one or more dependency
// cycles. It wraps ErrCycleDetected so callers can match with errors.Is.
type CycleError struct {
	Edges []Edge
}

// Error implements error.
func (e *CycleError) Error() string {
	parts := make([]string, len(e.Edges))
	for i, edge := range e.Edges {
		parts[i] = edge.String()
	}
	return fmt.Sprintf("dependency cycle detected: [%s]", strings.Join(parts, ", "))
}

// Unwrap returns ErrCycleDetected.
func (e *CycleError) Unwrap() error { return regerrors.ErrCycleDetected }

// node holds a type's outgoing dependency edges. Declaration order is
// preserved so traversal, and therefore initialization order, is
// deterministic.
type node struct {
	mandatory []scope.ServiceType
	optional  []scope.ServiceType
	deps      map[scope.ServiceType]bool // dependency -> mandatory
}

func (n *node) each(fn func(dep scope.ServiceType, mandatory bool) bool) {
	for _, d := range n.mandatory {
		if !fn(d, true) {
			return
		}
	}
	for _, d := range n.optional {
		if !fn(d, false) {
			return
		}
	}
}

// Graph is the dependency graph engine. All methods are safe for
// concurrent use; state is serialized behind a single mutex.
type Graph struct {
	mu    sync.Mutex
	nodes map[scope.ServiceType]*node
	order []scope.ServiceType // node insertion order, traversal roots
	log   *logging.Logger
}

// New creates an empty dependency graph.
func New(log *logging.Logger) *Graph {
	if log == nil {
		log = logging.NewDefault("graph")
	}
	return &Graph{
		nodes: make(map[scope.ServiceType]*node),
		log:   log,
	}
}

// RegisterDependency records that dependent requires (mandatory) or
// prefers (optional) dependency. Self-referential and empty types are
// rejected. The edge is added speculatively and removed again if it makes
// the graph cyclic; in that case the returned error is a *CycleError
// listing every implicated edge, and the graph is observably unchanged.
func (g *Graph) RegisterDependency(dependent, dependency scope.ServiceType, mandatory bool) error {
	if !dependent.Valid() {
		return regerrors.InvalidArgumentf("dependent type %q", dependent)
	}
	if !dependency.Valid() {
		return regerrors.InvalidArgumentf("dependency type %q", dependency)
	}
	if dependent == dependency {
		return regerrors.InvalidArgumentf("self-referential dependency %q", dependent)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	n, created := g.ensureNodeLocked(dependent)
	if _, exists := n.deps[dependency]; exists {
		// Edges are add-only; re-registration is a no-op.
		return nil
	}
	_, depCreated := g.ensureNodeLocked(dependency)

	// Speculative insert.
	n.deps[dependency] = mandatory
	if mandatory {
		n.mandatory = append(n.mandatory, dependency)
	} else {
		n.optional = append(n.optional, dependency)
	}

	if cyclic := g.checkCyclesLocked(); len(cyclic) > 0 {
		// Roll back the edge and any nodes it introduced.
		delete(n.deps, dependency)
		if mandatory {
			n.mandatory = n.mandatory[:len(n.mandatory)-1]
		} else {
			n.optional = n.optional[:len(n.optional)-1]
		}
		if depCreated {
			g.removeNodeLocked(dependency)
		}
		if created {
			g.removeNodeLocked(dependent)
		}
		g.log.WithField("dependent", string(dependent)).
			WithField("dependency", string(dependency)).
			Warn("dependency registration rejected: cycle")
		return &CycleError{Edges: cyclic}
	}
	return nil
}

// CheckCycles walks the whole graph and returns every edge that closes a
// cycle, or nil when the graph is acyclic. All roots are traversed so all
// cycles are reported, not just the first.
func (g *Graph) CheckCycles() []Edge {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.checkCyclesLocked()
}

// InitializationOrder produces a dependency-first ordering of candidates:
// every candidate appears after all of its (transitive) mandatory and
// optional dependencies that are also candidates. Traversal follows
// declaration order, mandatory edges before optional, so the output is
// deterministic for a deterministic candidate list. If the graph holds a
// cycle the ordering is aborted and a *CycleError is returned.
func (g *Graph) InitializationOrder(candidates []scope.ServiceType) ([]scope.ServiceType, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cyclic := g.checkCyclesLocked(); len(cyclic) > 0 {
		return nil, &CycleError{Edges: cyclic}
	}

	inSet := make(map[scope.ServiceType]bool, len(candidates))
	for _, c := range candidates {
		inSet[c] = true
	}

	ordered := make([]scope.ServiceType, 0, len(candidates))
	visited := make(map[scope.ServiceType]bool)

	var visit func(t scope.ServiceType)
	visit = func(t scope.ServiceType) {
		if visited[t] {
			return
		}
		visited[t] = true
		if n, ok := g.nodes[t]; ok {
			n.each(func(dep scope.ServiceType, _ bool) bool {
				visit(dep)
				return true
			})
		}
		if inSet[t] {
			ordered = append(ordered, t)
		}
	}

	for _, c := range candidates {
		visit(c)
	}
	return ordered, nil
}

// Validate checks that every candidate's mandatory dependencies are
// present in the candidate set. Missing optional dependencies are never
// reported. It returns satisfied=true iff the missing list is empty.
func (g *Graph) Validate(candidates []scope.ServiceType) (bool, []Edge) {
	g.mu.Lock()
	defer g.mu.Unlock()

	inSet := make(map[scope.ServiceType]bool, len(candidates))
	for _, c := range candidates {
		inSet[c] = true
	}

	var missing []Edge
	for _, c := range candidates {
		n, ok := g.nodes[c]
		if !ok {
			continue
		}
		for _, dep := range n.mandatory {
			if !inSet[dep] {
				missing = append(missing, Edge{Dependent: c, Dependency: dep, Mandatory: true})
			}
		}
	}
	return len(missing) == 0, missing
}

// DependsOn reports whether a depends on b, either directly or, when
// transitive is set, through any chain of edges. The transitive walk is
// iterative with an explicit worklist so stack usage is bounded
// regardless of graph depth.
func (g *Graph) DependsOn(a, b scope.ServiceType, transitive bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[a]
	if !ok {
		return false
	}
	if _, direct := n.deps[b]; direct {
		return true
	}
	if !transitive {
		return false
	}

	visited := map[scope.ServiceType]bool{a: true}
	work := make([]scope.ServiceType, 0, len(n.deps))
	for dep := range n.deps {
		work = append(work, dep)
	}
	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]
		if cur == b {
			return true
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		if cn, ok := g.nodes[cur]; ok {
			for dep := range cn.deps {
				if !visited[dep] {
					work = append(work, dep)
				}
			}
		}
	}
	return false
}

// Edges returns a snapshot of every registered edge in deterministic
// order (node insertion order, mandatory before optional).
func (g *Graph) Edges() []Edge {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []Edge
	for _, t := range g.order {
		n := g.nodes[t]
		n.each(func(dep scope.ServiceType, mandatory bool) bool {
			out = append(out, Edge{Dependent: t, Dependency: dep, Mandatory: mandatory})
			return true
		})
	}
	return out
}

// Types returns every type known to the graph in insertion order.
func (g *Graph) Types() []scope.ServiceType {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]scope.ServiceType, len(g.order))
	copy(out, g.order)
	return out
}

// Len returns the number of registered edges.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	total := 0
	for _, n := range g.nodes {
		total += len(n.deps)
	}
	return total
}

// Clear removes every node and edge. Called at registry shutdown.
func (g *Graph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = make(map[scope.ServiceType]*node)
	g.order = nil
}

func (g *Graph) ensureNodeLocked(t scope.ServiceType) (*node, bool) {
	if n, ok := g.nodes[t]; ok {
		return n, false
	}
	n := &node{deps: make(map[scope.ServiceType]bool)}
	g.nodes[t] = n
	g.order = append(g.order, t)
	return n, true
}

func (g *Graph) removeNodeLocked(t scope.ServiceType) {
	delete(g.nodes, t)
	for i, o := range g.order {
		if o == t {
			g.order = append(g.order[:i], g.order[i+1:]...)
			return
		}
	}
}

// checkCyclesLocked runs a three-state depth-first traversal over every
// root. An edge whose target sits on the current path is a back edge and
// is recorded; traversal continues so every cycle in the graph is
// reported.
func (g *Graph) checkCyclesLocked() []Edge {
	visited := make(map[scope.ServiceType]bool)
	onPath := make(map[scope.ServiceType]bool)
	var cyclic []Edge

	var visit func(t scope.ServiceType)
	visit = func(t scope.ServiceType) {
		visited[t] = true
		onPath[t] = true
		if n, ok := g.nodes[t]; ok {
			n.each(func(dep scope.ServiceType, mandatory bool) bool {
				if onPath[dep] {
					cyclic = append(cyclic, Edge{Dependent: t, Dependency: dep, Mandatory: mandatory})
				} else if !visited[dep] {
					visit(dep)
				}
				return true
			})
		}
		delete(onPath, t)
	}

	for _, t := range g.order {
		if !visited[t] {
			visit(t)
		}
	}
	return cyclic
}
