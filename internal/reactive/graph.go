package reactive

import (
	"sync"
	"time"

	"github.com/r3e-network/reactive-streams/pkg/logger"
)

// DependencyNode tracks one collection's position in the graph (spec §3).
type DependencyNode struct {
	Name         string
	Dependencies []string // ordered; upstream collections this one reads
	Dependents   []string // ordered; downstream collections that read this one
	Invalidated  bool
	LastComputed *time.Time
}

// Graph is the dependency DAG over collection names. It never stores
// collection contents — only the shape of the graph and invalidation state.
// A Graph is owned by exactly one Engine for its lifetime.
type Graph struct {
	mu    sync.Mutex
	nodes map[string]*DependencyNode
	log   *logger.Logger
}

// NewGraph returns an empty dependency graph.
func NewGraph(log *logger.Logger) *Graph {
	if log == nil {
		log = logger.NewDefault("reactive.graph")
	}
	return &Graph{nodes: make(map[string]*DependencyNode), log: log}
}

// AddNode idempotently registers a collection name (spec §4.2, §9: silent
// dedup on name collision).
func (g *Graph) AddNode(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addNodeLocked(name)
}

func (g *Graph) addNodeLocked(name string) *DependencyNode {
	if n, ok := g.nodes[name]; ok {
		return n
	}
	n := &DependencyNode{Name: name}
	g.nodes[name] = n
	return n
}

// AddDependency adds the edge dependent -> dependency, rejecting it with
// ErrCycleRejected if it would create a cycle. No mutation occurs on
// rejection (spec §4.2, §7).
func (g *Graph) AddDependency(dependent, dependency string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if dependent == dependency || g.reachableLocked(dependency, dependent) {
		return ErrCycleRejected
	}

	g.addNodeLocked(dependent)
	g.addNodeLocked(dependency)

	dep := g.nodes[dependent]
	for _, d := range dep.Dependencies {
		if d == dependency {
			return nil // edge already present
		}
	}
	dep.Dependencies = append(dep.Dependencies, dependency)
	g.nodes[dependency].Dependents = append(g.nodes[dependency].Dependents, dependent)
	return nil
}

// RemoveDependency removes the edge dependent -> dependency, if present.
func (g *Graph) RemoveDependency(dependent, dependency string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if dep, ok := g.nodes[dependent]; ok {
		dep.Dependencies = removeString(dep.Dependencies, dependency)
	}
	if dy, ok := g.nodes[dependency]; ok {
		dy.Dependents = removeString(dy.Dependents, dependent)
	}
}

// reachableLocked reports whether to is reachable from from by walking
// Dependencies edges. Used as the cycle check: adding dependent->dependency
// would cycle iff dependent is already reachable from dependency via
// Dependencies (i.e. dependency already (transitively) depends on
// dependent).
func (g *Graph) reachableLocked(from, to string) bool {
	if from == to {
		return true
	}
	seen := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, ok := g.nodes[cur]
		if !ok {
			continue
		}
		for _, d := range n.Dependencies {
			if d == to {
				return true
			}
			if !seen[d] {
				seen[d] = true
				stack = append(stack, d)
			}
		}
	}
	return false
}

// Invalidate walks Dependents from name (inclusive), marking every
// previously-clean node Invalidated=true, and returns the set of names newly
// invalidated by this call. Already-invalidated nodes are skipped, so a
// single call performs at most one traversal of the subgraph per node.
func (g *Graph) Invalidate(name string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var newly []string
	stack := []string{name}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, ok := g.nodes[cur]
		if !ok {
			continue
		}
		if n.Invalidated {
			continue
		}
		n.Invalidated = true
		newly = append(newly, cur)
		stack = append(stack, n.Dependents...)
	}
	return newly
}

// pendingInvalidated returns every currently-invalidated node name (used by
// the engine to sweep up invalidations induced mid-pass by reentrant
// writes).
func (g *Graph) pendingInvalidated() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for name, n := range g.nodes {
		if n.Invalidated {
			out = append(out, name)
		}
	}
	return out
}

// TopoSort restricts the ordering to the supplied set of node names and
// returns them dependencies-first. Ties break by insertion order of
// Dependencies (spec §4.2).
func (g *Graph) TopoSort(set []string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	wanted := make(map[string]bool, len(set))
	for _, n := range set {
		wanted[n] = true
	}

	var order []string
	state := make(map[string]int) // 0=unvisited 1=on-stack 2=done

	var visit func(name string)
	visit = func(name string) {
		switch state[name] {
		case 1, 2:
			return
		}
		state[name] = 1
		if n, ok := g.nodes[name]; ok {
			for _, dep := range n.Dependencies {
				if wanted[dep] {
					visit(dep)
				}
			}
		}
		state[name] = 2
		order = append(order, name)
	}

	for _, name := range set {
		visit(name)
	}
	return order
}

// GetStatus returns a copy of the node's bookkeeping fields, or ok=false if
// unregistered.
func (g *Graph) GetStatus(name string) (DependencyNode, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[name]
	if !ok {
		return DependencyNode{}, false
	}
	cp := *n
	cp.Dependencies = append([]string(nil), n.Dependencies...)
	cp.Dependents = append([]string(nil), n.Dependents...)
	return cp, true
}

// markComputed clears the invalidated flag and stamps LastComputed.
func (g *Graph) markComputed(name string, at time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, ok := g.nodes[name]; ok {
		n.Invalidated = false
		n.LastComputed = &at
	}
}

func removeString(list []string, s string) []string {
	for i, v := range list {
		if v == s {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
