// Package plan implements the dependency-ordered marker graph a deployment
// walks: nodes are opaque marker labels, each holding an ordered list of
// (host, manifest) pairs, with edges expressing prerequisite relations.
package plan

import (
	"sort"
	"sync"

	"github.com/fleetctl/fleetctl/internal/domain/ferrors"
)

// Unit is one (host, manifest-name) pair belonging to a marker.
type Unit struct {
	Host     string
	Manifest string
}

// State is a marker's position in the waiting/in-progress/finished state
// machine.
type State int

const (
	StateWaiting State = iota
	StateInProgress
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateInProgress:
		return "in-progress"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Plan is immutable after Finalize: an ordered mapping of marker to its
// member units, a dependency map of marker to prerequisite markers, and a
// mutable per-marker state tracked across a deployment run.
type Plan struct {
	mu         sync.Mutex
	order      []string
	manifests  map[string][]Unit
	dependency map[string]map[string]struct{}
	state      map[string]State
	finalized  bool
}

// New constructs an empty Plan under construction.
func New() *Plan {
	return &Plan{
		manifests:  make(map[string][]Unit),
		dependency: make(map[string]map[string]struct{}),
		state:      make(map[string]State),
	}
}

// AddRecord appends one plan-step output: a (host, manifest-name) pair
// belonging to marker, plus the marker's prerequisite set. Order of
// AddRecord calls for a given marker is preserved verbatim in its unit
// list. Calling AddRecord after Finalize is a programming error.
func (p *Plan) AddRecord(host, manifest, marker string, prereqs []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finalized {
		return ferrors.New(ferrors.CodeConfig, "cannot add plan record after finalize")
	}
	if _, seen := p.manifests[marker]; !seen {
		p.order = append(p.order, marker)
		p.state[marker] = StateWaiting
	}
	p.manifests[marker] = append(p.manifests[marker], Unit{Host: host, Manifest: manifest})

	if p.dependency[marker] == nil {
		p.dependency[marker] = make(map[string]struct{})
	}
	for _, pre := range prereqs {
		p.dependency[marker][pre] = struct{}{}
	}
	return nil
}

// Finalize closes construction and verifies the dependency graph is
// acyclic, returning a plan-cycle error naming a marker on the cycle.
func (p *Plan) Finalize() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finalized {
		return nil
	}
	if cyc := p.findCycle(); cyc != "" {
		return ferrors.New(ferrors.CodePlanCycle, "prerequisite graph is cyclic at marker "+cyc)
	}
	p.finalized = true
	return nil
}

// findCycle runs a DFS colouring search over the dependency graph and
// returns the marker where a back-edge was found, or "" if acyclic.
func (p *Plan) findCycle() string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(p.order))

	var visit func(marker string) string
	visit = func(marker string) string {
		color[marker] = gray
		deps := make([]string, 0, len(p.dependency[marker]))
		for dep := range p.dependency[marker] {
			deps = append(deps, dep)
		}
		sort.Strings(deps)
		for _, dep := range deps {
			switch color[dep] {
			case gray:
				return dep
			case white:
				if cyc := visit(dep); cyc != "" {
					return cyc
				}
			}
		}
		color[marker] = black
		return ""
	}

	for _, marker := range p.order {
		if color[marker] == white {
			if cyc := visit(marker); cyc != "" {
				return cyc
			}
		}
	}
	return ""
}

// TopologicalOrder returns a topological ordering of markers consistent
// with the dependency map, asserting plan invariant 3. Deterministic via
// lexical tie-breaking.
func (p *Plan) TopologicalOrder() ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	indegree := make(map[string]int, len(p.order))
	for _, m := range p.order {
		indegree[m] = 0
	}
	for m := range p.dependency {
		for dep := range p.dependency[m] {
			if _, known := indegree[dep]; known {
				indegree[m]++
			}
		}
	}

	var queue []string
	for m, deg := range indegree {
		if deg == 0 {
			queue = append(queue, m)
		}
	}
	sort.Strings(queue)

	result := make([]string, 0, len(p.order))
	dependents := make(map[string][]string)
	for m := range p.dependency {
		for dep := range p.dependency[m] {
			dependents[dep] = append(dependents[dep], m)
		}
	}
	for len(queue) > 0 {
		sort.Strings(queue)
		cur := queue[0]
		queue = queue[1:]
		result = append(result, cur)
		next := append([]string(nil), dependents[cur]...)
		sort.Strings(next)
		for _, dep := range next {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(result) != len(p.order) {
		return nil, ferrors.New(ferrors.CodePlanCycle, "prerequisite graph is cyclic")
	}
	return result, nil
}

// Markers returns every known marker in registration order.
func (p *Plan) Markers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.order...)
}

// Units returns marker's member units in registration order.
func (p *Plan) Units(marker string) []Unit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Unit(nil), p.manifests[marker]...)
}

// Prerequisites returns marker's prerequisite markers.
func (p *Plan) Prerequisites(marker string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	deps := make([]string, 0, len(p.dependency[marker]))
	for dep := range p.dependency[marker] {
		deps = append(deps, dep)
	}
	sort.Strings(deps)
	return deps
}

// State returns marker's current state.
func (p *Plan) State(marker string) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state[marker]
}

// Unblocked returns every waiting marker whose prerequisites are all
// finished, invariant 4's gate for entering in-progress.
func (p *Plan) Unblocked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ready []string
	for _, marker := range p.order {
		if p.state[marker] != StateWaiting {
			continue
		}
		allDone := true
		for dep := range p.dependency[marker] {
			if p.state[dep] != StateFinished {
				allDone = false
				break
			}
		}
		if allDone {
			ready = append(ready, marker)
		}
	}
	sort.Strings(ready)
	return ready
}

// MarkInProgress transitions marker from waiting to in-progress.
func (p *Plan) MarkInProgress(marker string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state[marker] = StateInProgress
}

// MarkFinished transitions marker from in-progress to finished.
func (p *Plan) MarkFinished(marker string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state[marker] = StateFinished
}

// Pending reports whether any marker remains waiting or in-progress.
func (p *Plan) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, marker := range p.order {
		if p.state[marker] != StateFinished {
			return true
		}
	}
	return false
}
