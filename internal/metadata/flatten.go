package metadata

import (
	"fmt"
	"maps"
	"slices"
)

// Flatten returns key -> plain value for the named section. When types is
// non-empty only entries whose declared tag is listed are returned.
func Flatten(doc *Document, section string, types ...Type) (map[string]any, error) {
	s, ok := doc.Section(section)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSectionNotFound, section)
	}

	out := make(map[string]any, len(s.Entries))
	for _, e := range s.Entries {
		if len(types) > 0 && !slices.ContainsFunc(types, e.Tag.Is) {
			continue
		}
		out[e.Key] = e.Value.Plain()
	}
	return out, nil
}

// Context builds the render context from the passthrough fields and then
// every configuration section in document order. Section entries shadow
// fields of the same name, and when two sections declare the same key the
// later section wins.
func Context(doc *Document) map[string]any {
	ctx := make(map[string]any, len(doc.Fields))
	maps.Copy(ctx, doc.Fields)
	for _, s := range doc.Sections {
		for _, e := range s.Entries {
			ctx[e.Key] = e.Value.Plain()
		}
	}
	return ctx
}
