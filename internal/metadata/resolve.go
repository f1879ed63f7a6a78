package metadata

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"

	"go.uber.org/zap"

	"github.com/eugenenazirov/pipeline-recipes/internal/templating"
)

const (
	// DefaultMaxPasses bounds how many times a single value is re-rendered.
	DefaultMaxPasses = 100

	// maxRenderedSize bounds the text produced for a single value.
	maxRenderedSize = 4 << 20
)

// Resolver expands template expressions in configuration sections.
type Resolver struct {
	maxPasses int
	renderer  *templating.Renderer
	logger    *zap.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithMaxPasses overrides the per-value render bound. Values below 1 are ignored.
func WithMaxPasses(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.maxPasses = n
		}
	}
}

// WithLenientReferences renders undefined references as empty text instead of failing.
func WithLenientReferences() ResolverOption {
	return func(r *Resolver) {
		r.renderer = templating.New(templating.Lenient())
	}
}

// WithLogger attaches a logger for per-entry debug output.
func WithLogger(logger *zap.Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver constructs a strict Resolver bounded by DefaultMaxPasses.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		maxPasses: DefaultMaxPasses,
		renderer:  templating.New(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve resolves doc with the default strict resolver.
func Resolve(doc *Document) (*Document, error) {
	return NewResolver().Resolve(doc)
}

// Resolve returns a copy of doc in which every string, array element and
// object value has been rendered to a fixpoint. doc itself is not modified.
//
// All entries render against one snapshot of the unresolved values taken
// before the first entry is touched. Chained references still resolve fully
// because each value is re-rendered until no markers remain. References that
// lead back to themselves are rejected before any rendering happens.
func (r *Resolver) Resolve(doc *Document) (*Document, error) {
	ctx := Context(doc)
	refs := newReferenceGraph(ctx)
	out := doc.Clone()

	for _, section := range out.Sections {
		for i := range section.Entries {
			entry := &section.Entries[i]
			if _, literal := entry.Value.(Literal); !literal {
				if cycle := refs.cycleFrom(entry.Value.Plain()); cycle != nil {
					return nil, &TemplateLoopError{Section: section.Name, Key: entry.Key, Cycle: cycle}
				}
			}
			value, err := r.resolveValue(section.Name, entry.Key, entry.Value, ctx)
			if err != nil {
				return nil, err
			}
			entry.Value = value
		}
	}
	return out, nil
}

func (r *Resolver) resolveValue(section, key string, v Value, ctx map[string]any) (Value, error) {
	switch t := v.(type) {
	case String:
		s, err := r.renderFixpoint(section, key, string(t), ctx)
		if err != nil {
			return nil, err
		}
		return String(s), nil
	case Array:
		out := make(Array, len(t))
		for i, item := range t {
			s, ok := item.(string)
			if !ok {
				out[i] = item
				continue
			}
			rendered, err := r.renderFixpoint(section, key, s, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		if t == nil {
			out = nil
		}
		return out, nil
	case Object:
		return r.resolveObject(section, key, t, ctx)
	case Literal:
		return t, nil
	default:
		return nil, fmt.Errorf("%s.%s: unsupported value %T", section, key, v)
	}
}

// resolveObject renders every string of an object value, mapping keys
// included, and keeps everything else as decoded. An object without
// markers is returned as is.
func (r *Resolver) resolveObject(section, key string, v Object, ctx map[string]any) (Value, error) {
	if !hasMarkers(v.Data) {
		return v, nil
	}
	data, err := r.renderTree(section, key, v.Data, ctx)
	if err != nil {
		return nil, err
	}
	return Object{Data: data}, nil
}

func (r *Resolver) renderTree(section, key string, v any, ctx map[string]any) (any, error) {
	switch t := v.(type) {
	case string:
		return r.renderFixpoint(section, key, t, ctx)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			rendered, err := r.renderTree(section, key, item, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for _, k := range slices.Sorted(maps.Keys(t)) {
			rk, err := r.renderFixpoint(section, key, k, ctx)
			if err != nil {
				return nil, err
			}
			if _, dup := out[rk]; dup {
				return nil, &SerializationError{Section: section, Key: key, Err: fmt.Errorf("mapping key %q rendered more than once", rk)}
			}
			rendered, err := r.renderTree(section, key, t[k], ctx)
			if err != nil {
				return nil, err
			}
			out[rk] = rendered
		}
		return out, nil
	case map[any]any:
		keys := slices.Collect(maps.Keys(t))
		sort.Slice(keys, func(i, j int) bool { return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j]) })

		out := make(map[any]any, len(t))
		for _, k := range keys {
			rk := k
			if s, ok := k.(string); ok {
				rendered, err := r.renderFixpoint(section, key, s, ctx)
				if err != nil {
					return nil, err
				}
				rk = rendered
			}
			if _, dup := out[rk]; dup {
				return nil, &SerializationError{Section: section, Key: key, Err: fmt.Errorf("mapping key %v rendered more than once", rk)}
			}
			rendered, err := r.renderTree(section, key, t[k], ctx)
			if err != nil {
				return nil, err
			}
			out[rk] = rendered
		}
		return out, nil
	default:
		return v, nil
	}
}

// renderFixpoint re-renders s until it holds no template markers. It fails
// once the pass bound is spent, the text outgrows maxRenderedSize or a pass
// leaves the text unchanged.
func (r *Resolver) renderFixpoint(section, key, s string, ctx map[string]any) (string, error) {
	for pass := 1; pass <= r.maxPasses; pass++ {
		if !templating.HasMarkers(s) {
			return s, nil
		}

		out, err := r.renderer.Render(s, ctx)
		if err != nil {
			var undef *templating.UndefinedError
			if errors.As(err, &undef) {
				return "", &UndefinedReferenceError{Section: section, Key: key, Reference: undef.Expr}
			}
			return "", fmt.Errorf("render %s.%s: %w", section, key, err)
		}
		if out == s || len(out) > maxRenderedSize {
			return "", &TemplateLoopError{Section: section, Key: key, Passes: pass}
		}
		s = out

		r.logger.Debug("rendered template value",
			zap.String("section", section),
			zap.String("key", key),
			zap.Int("pass", pass),
		)
	}

	if templating.HasMarkers(s) {
		return "", &TemplateLoopError{Section: section, Key: key, Passes: r.maxPasses}
	}
	return s, nil
}
