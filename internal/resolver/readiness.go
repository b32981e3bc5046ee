package resolver

// Readiness tracks which stores are synced and derives which are ready.
//
// A store is ready when it is synced and every dependency is ready. A
// store may apply events once its dependencies are ready; its own sync
// state never gates its own events, since those events are the snapshot
// that will sync it.
//
// Readiness is not safe for concurrent use; it belongs to the single
// writer that applies events.
type Readiness struct {
	graph  *Graph
	synced map[string]bool
}

// NewReadiness starts every store synced except those listed in
// awaiting, which wait for MarkSynced.
func NewReadiness(g *Graph, awaiting []string) *Readiness {
	r := &Readiness{graph: g, synced: make(map[string]bool, len(g.order))}
	for _, name := range g.order {
		r.synced[name] = true
	}
	for _, name := range awaiting {
		if g.Has(name) {
			r.synced[name] = false
		}
	}
	return r
}

// Synced reports whether name has received its snapshot.
func (r *Readiness) Synced(name string) bool {
	return r.synced[name]
}

// Ready reports whether name and all its transitive dependencies are
// synced. Unknown stores are never ready.
func (r *Readiness) Ready(name string) bool {
	if !r.synced[name] {
		return false
	}
	return r.CanApply(name)
}

// CanApply reports whether every dependency of name is ready.
func (r *Readiness) CanApply(name string) bool {
	if !r.graph.Has(name) {
		return false
	}
	for _, dep := range r.graph.deps[name] {
		if !r.Ready(dep) {
			return false
		}
	}
	return true
}

// MarkSynced marks name synced and returns the stores that became ready
// as a result, in topological order.
func (r *Readiness) MarkSynced(name string) []string {
	if !r.graph.Has(name) || r.synced[name] {
		return nil
	}
	affected := append([]string{name}, r.graph.Dependents(name)...)
	before := make(map[string]bool, len(affected))
	for _, n := range affected {
		before[n] = r.Ready(n)
	}

	r.synced[name] = true

	var became []string
	for _, n := range affected {
		if !before[n] && r.Ready(n) {
			became = append(became, n)
		}
	}
	return became
}

// Invalidate clears the synced state of name and every transitive
// dependent and returns them in topological order. Each must be synced
// again by its own MarkSynced.
func (r *Readiness) Invalidate(name string) []string {
	if !r.graph.Has(name) {
		return nil
	}
	affected := append([]string{name}, r.graph.Dependents(name)...)
	for _, n := range affected {
		r.synced[n] = false
	}
	return affected
}

// Unready returns the stores that are not ready, in topological order.
func (r *Readiness) Unready() []string {
	var out []string
	for _, name := range r.graph.order {
		if !r.Ready(name) {
			out = append(out, name)
		}
	}
	return out
}
