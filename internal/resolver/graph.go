// Package resolver orders stores by their declared dependencies and
// tracks which stores are ready to receive events.
//
// The graph is built and validated once; a cycle, a duplicate name or a
// dependency on an undeclared store fails fast with a *GraphError.
package resolver

import (
	"fmt"
	"slices"
	"strings"
)

// Decl declares a store and the stores it depends on.
type Decl struct {
	Name         string
	Dependencies []string
}

// Graph is a validated dependency DAG over store names. It is immutable
// after Build and safe for concurrent reads.
type Graph struct {
	deps       map[string][]string // store -> direct dependencies, sorted
	dependents map[string][]string // store -> direct dependents, sorted
	order      []string
	rank       map[string]int
}

// Build validates decls and computes a topological order.
func Build(decls []Decl) (*Graph, error) {
	g := &Graph{
		deps:       make(map[string][]string, len(decls)),
		dependents: make(map[string][]string, len(decls)),
		rank:       make(map[string]int, len(decls)),
	}

	for _, d := range decls {
		if _, dup := g.deps[d.Name]; dup {
			return nil, &GraphError{
				Code:    ErrCodeDuplicateStore,
				Path:    []string{d.Name},
				Message: fmt.Sprintf("store %q declared twice", d.Name),
			}
		}
		g.deps[d.Name] = slices.Compact(slices.Sorted(slices.Values(d.Dependencies)))
	}

	for _, name := range g.names() {
		for _, dep := range g.deps[name] {
			if _, ok := g.deps[dep]; !ok {
				return nil, &GraphError{
					Code:    ErrCodeUnknownDependency,
					Path:    []string{name, dep},
					Message: fmt.Sprintf("store %q depends on undeclared store %q", name, dep),
				}
			}
			g.dependents[dep] = append(g.dependents[dep], name)
		}
	}

	if cycle := findCycle(g.deps, g.names()); cycle != nil {
		return nil, &GraphError{
			Code:    ErrCodeCycle,
			Path:    cycle,
			Message: fmt.Sprintf("dependency cycle: %s", strings.Join(cycle, " -> ")),
		}
	}

	g.order = topoOrder(g.deps, g.dependents, g.names())
	for i, name := range g.order {
		g.rank[name] = i
	}
	return g, nil
}

func (g *Graph) names() []string {
	names := make([]string, 0, len(g.deps))
	for name := range g.deps {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Has reports whether name was declared.
func (g *Graph) Has(name string) bool {
	_, ok := g.deps[name]
	return ok
}

// Order returns every store with dependencies before dependents. Stores
// that are not ordered relative to each other appear by name.
func (g *Graph) Order() []string {
	return slices.Clone(g.order)
}

// Dependencies returns the direct dependencies of name, sorted.
func (g *Graph) Dependencies(name string) []string {
	return slices.Clone(g.deps[name])
}

// Dependents returns every store that depends on name directly or
// transitively, in topological order.
func (g *Graph) Dependents(name string) []string {
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(n string) {
		for _, d := range g.dependents[n] {
			if !seen[d] {
				seen[d] = true
				walk(d)
			}
		}
	}
	walk(name)

	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	g.sortTopo(out)
	return out
}

func (g *Graph) sortTopo(names []string) {
	slices.SortFunc(names, func(a, b string) int {
		return g.rank[a] - g.rank[b]
	})
}

// topoOrder is Kahn's algorithm with ties broken by name.
func topoOrder(deps, dependents map[string][]string, names []string) []string {
	remaining := make(map[string]int, len(names))
	var ready []string
	for _, n := range names {
		remaining[n] = len(deps[n])
		if remaining[n] == 0 {
			ready = append(ready, n)
		}
	}

	order := make([]string, 0, len(names))
	for len(ready) > 0 {
		slices.Sort(ready)
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		for _, d := range dependents[n] {
			remaining[d]--
			if remaining[d] == 0 {
				ready = append(ready, d)
			}
		}
	}
	return order
}

// findCycle returns one cycle path such as [A, B, A], or nil for a DAG.
// Strongly connected components are found with Tarjan's algorithm; nodes
// and edges are visited in name order so the reported path is stable.
func findCycle(graph map[string][]string, names []string) []string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, node := range names {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	for _, scc := range sccs {
		if len(scc) == 1 && !slices.Contains(graph[scc[0]], scc[0]) {
			continue
		}
		slices.Sort(scc)
		return cyclePath(scc, graph)
	}
	return nil
}

// cyclePath walks edges inside scc from its first member until it gets
// back to it.
func cyclePath(scc []string, graph map[string][]string) []string {
	start := scc[0]
	if slices.Contains(graph[start], start) {
		return []string{start, start}
	}

	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}

	// Breadth-first search for the shortest way back to start.
	prev := map[string]string{}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range graph[cur] {
			if !members[next] {
				continue
			}
			if next == start {
				path := []string{start}
				for n := cur; n != start; n = prev[n] {
					path = append(path, n)
				}
				slices.Reverse(path[1:])
				return append(path, start)
			}
			if _, seen := prev[next]; !seen {
				prev[next] = cur
				queue = append(queue, next)
			}
		}
	}
	return append(slices.Clone(scc), start)
}
