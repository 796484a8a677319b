package reactive

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/r3e-network/reactive-streams/pkg/logger"
)

// Engine orchestrates invalidation, topological ordering, single-pass
// recomputation, and change dispatch for one dependency Graph (spec §4.3).
// There is exactly one Engine per service and one Graph per Engine (§5).
type Engine struct {
	graph *Graph
	log   *logger.Logger
	trace *zap.Logger

	mu         sync.Mutex
	nodes      map[string]node
	inProgress bool
}

// NewEngine returns an Engine with a fresh, empty Graph. log receives
// operational messages (registration, failures); a nop zap.Logger is used
// for the high-frequency per-node trace unless WithTrace is used — a
// separate logger deliberately keeps the hot compute/dispatch path off the
// logrus-based request/service logging pipeline (see SPEC_FULL.md domain
// stack).
func NewEngine(log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewDefault("reactive.engine")
	}
	return &Engine{
		graph: NewGraph(log),
		log:   log,
		trace: zap.NewNop(),
		nodes: make(map[string]node),
	}
}

// WithTrace attaches a zap.Logger used for per-node compute/dispatch
// tracing. Pass zap.NewNop() (the default) to disable tracing entirely.
func (e *Engine) WithTrace(trace *zap.Logger) *Engine {
	if trace != nil {
		e.trace = trace
	}
	return e
}

// Graph exposes the underlying dependency graph for inspection (status
// checks, diagnostics endpoints).
func (e *Engine) Graph() *Graph { return e.graph }

// registerNode adds a node to both the node table and the graph, then wires
// the supplied dependency edges. On cycle rejection, the node is removed from
// the node table and the edges already added for it are removed again, so no
// partial edges remain (spec §7 CycleRejected); the name itself stays known
// to the Graph as a node without edges.
// Registering an already-known name is a no-op (idempotent construction,
// spec §4.4 point 1).
func (e *Engine) registerNode(name string, n node, deps ...string) error {
	e.mu.Lock()
	if _, exists := e.nodes[name]; exists {
		e.mu.Unlock()
		return nil
	}
	e.nodes[name] = n
	e.mu.Unlock()

	e.graph.AddNode(name)
	for i, dep := range deps {
		if err := e.graph.AddDependency(name, dep); err != nil {
			for _, added := range deps[:i] {
				e.graph.RemoveDependency(name, added)
			}
			e.mu.Lock()
			delete(e.nodes, name)
			e.mu.Unlock()
			return err
		}
	}
	return nil
}

func (e *Engine) nodeFor(name string) node {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nodes[name]
}

// recompute performs a coordinated update rooted at name: invalidate name
// and its transitive dependents, recompute each invalidated derived node at
// most once in dependency order, then dispatch every accumulated change.
//
// Reentrancy: a nested Set/Delete from within a compute function is folded
// into the in-flight pass — it invalidates the affected subgraph and
// returns immediately, and the sweep loop below picks up the newly
// invalidated nodes before this call's own dispatch; no error is returned
// for such a write (spec §4.3, §7). inProgress is cleared before dispatchAll
// runs, so a nested write from a dispatch callback instead starts its own
// independent coordinated update.
func (e *Engine) recompute(start string) error {
	e.mu.Lock()
	if e.inProgress {
		e.mu.Unlock()
		e.graph.Invalidate(start)
		return nil
	}
	e.inProgress = true
	e.mu.Unlock()

	pending := e.graph.Invalidate(start)
	computed := make(map[string]bool)
	var dispatchOrder []string

	for {
		order := e.graph.TopoSort(pending)
		progressed := false
		for _, name := range order {
			if computed[name] {
				continue
			}
			status, ok := e.graph.GetStatus(name)
			if !ok || !status.Invalidated {
				continue
			}
			n := e.nodeFor(name)
			if n == nil {
				continue
			}
			progressed = true
			if err := n.recompute(); err != nil {
				e.trace.Warn("compute failed", zap.String("node", name), zap.Error(err))
				e.mu.Lock()
				e.inProgress = false
				e.mu.Unlock()
				e.dispatchAll(dispatchOrder)
				return &ComputeError{Node: name, Err: err}
			}
			e.graph.markComputed(name, time.Now().UTC())
			computed[name] = true
			dispatchOrder = append(dispatchOrder, name)
			e.trace.Debug("node recomputed", zap.String("node", name))
		}

		var fresh []string
		for _, name := range e.graph.pendingInvalidated() {
			if !computed[name] {
				fresh = append(fresh, name)
			}
		}
		if len(fresh) == 0 {
			break
		}
		if !progressed {
			// Defensive: under the acyclic-graph invariant this should not
			// happen. Avoid spinning forever if it somehow does.
			break
		}
		pending = fresh
	}

	e.mu.Lock()
	e.inProgress = false
	e.mu.Unlock()

	e.dispatchAll(dispatchOrder)
	return nil
}

func (e *Engine) dispatchAll(order []string) {
	for _, name := range order {
		if n := e.nodeFor(name); n != nil {
			n.dispatch()
		}
	}
}

// NewBase registers (or reuses) a base collection under name. Base
// collections have no compute function; their contents are set externally
// via Collection.Set/Delete, which is the engine's external-writer contract
// (spec §6).
func NewBase[K comparable, V any](e *Engine, name string) (*Collection[K, V], error) {
	e.mu.Lock()
	if existing, ok := e.nodes[name]; ok {
		e.mu.Unlock()
		c, ok := existing.(*Collection[K, V])
		if !ok {
			return nil, &typeMismatchError{Name: name}
		}
		return c, nil
	}
	e.mu.Unlock()

	c := newBaseCollection[K, V](name, e)
	if err := e.registerNode(name, c); err != nil {
		return nil, err
	}
	return c, nil
}
