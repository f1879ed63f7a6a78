package metadata

import (
	"github.com/eugenenazirov/pipeline-recipes/internal/templating"
)

type visitState uint8

const (
	unvisited visitState = iota
	visiting
	visited
)

// referenceGraph follows template expressions through the render context.
// A node is an expression; its edges are the expressions found in the value
// that expression looks up.
type referenceGraph struct {
	ctx   map[string]any
	state map[string]visitState
}

func newReferenceGraph(ctx map[string]any) *referenceGraph {
	return &referenceGraph{ctx: ctx, state: make(map[string]visitState)}
}

// cycleFrom returns the first chain of expressions reachable from v that
// leads back into itself, e.g. [a b a], or nil.
func (g *referenceGraph) cycleFrom(v any) []string {
	for _, expr := range expressions(v) {
		if cycle := g.visit(expr, nil); cycle != nil {
			return cycle
		}
	}
	return nil
}

func (g *referenceGraph) visit(expr string, path []string) []string {
	switch g.state[expr] {
	case visited:
		return nil
	case visiting:
		for i, p := range path {
			if p == expr {
				return append(append([]string(nil), path[i:]...), expr)
			}
		}
		return []string{expr, expr}
	}

	value, ok := templating.Lookup(g.ctx, expr)
	if !ok {
		// undefined references are reported while rendering
		g.state[expr] = visited
		return nil
	}

	g.state[expr] = visiting
	path = append(path, expr)
	for _, next := range expressions(value) {
		if cycle := g.visit(next, path); cycle != nil {
			return cycle
		}
	}
	g.state[expr] = visited
	return nil
}

// expressions collects the template expressions of every string in v,
// mapping keys included.
func expressions(v any) []string {
	var out []string
	walkStrings(v, func(s string) {
		out = append(out, templating.Expressions(s)...)
	})
	return out
}

func hasMarkers(v any) bool {
	found := false
	walkStrings(v, func(s string) {
		found = found || templating.HasMarkers(s)
	})
	return found
}

func walkStrings(v any, fn func(string)) {
	switch t := v.(type) {
	case string:
		fn(t)
	case []any:
		for _, item := range t {
			walkStrings(item, fn)
		}
	case map[string]any:
		for k, item := range t {
			fn(k)
			walkStrings(item, fn)
		}
	case map[any]any:
		for k, item := range t {
			walkStrings(k, fn)
			walkStrings(item, fn)
		}
	}
}
