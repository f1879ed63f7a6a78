package metadata

import (
	"sort"
	"strings"

	"github.com/eugenenazirov/pipeline-recipes/internal/templating"
)

// sectionMarker identifies configuration sections among top-level keys.
const sectionMarker = "configurations"

// Type is the declared type tag of a configuration entry.
type Type string

// Type tags processed by the resolver.
const (
	TypeString Type = "string"
	TypeArray  Type = "array"
	TypeObject Type = "object"

	// typeStringAlias is accepted on input and treated as TypeString.
	typeStringAlias Type = "str"
)

// Is reports whether t and other name the same type, honouring the "str" alias.
func (t Type) Is(other Type) bool {
	return t.canonical() == other.canonical()
}

func (t Type) canonical() Type {
	if t == typeStringAlias {
		return TypeString
	}
	return t
}

// Value is the closed set of configuration value shapes: String, Array,
// Object and Literal. Only this package can add variants.
type Value interface {
	// Plain returns the value as decoded YAML data (string, []any, map[string]any, ...).
	Plain() any
	isValue()
}

// String is the value of a string entry.
type String string

// Array is the value of an array entry. Elements are normally strings;
// other scalars are kept but never rendered.
type Array []any

// Object is the value of an object entry: any nested mapping/sequence structure.
type Object struct {
	Data any
}

// Literal is the value of an entry with any other type tag. It is never rendered.
type Literal struct {
	Data any
}

func (v String) Plain() any  { return string(v) }
func (v Array) Plain() any   { return []any(v) }
func (v Object) Plain() any  { return v.Data }
func (v Literal) Plain() any { return v.Data }

func (String) isValue()  {}
func (Array) isValue()   {}
func (Object) isValue()  {}
func (Literal) isValue() {}

// Entry is one typed key/value pair of a configuration section.
type Entry struct {
	Key   string
	Tag   Type
	Value Value
}

// Section is a named, ordered group of configuration entries.
type Section struct {
	Name    string
	Entries []Entry
}

// Entry returns the entry stored under key.
func (s *Section) Entry(key string) (Entry, bool) {
	for _, e := range s.Entries {
		if e.Key == key {
			return e, true
		}
	}
	return Entry{}, false
}

// Document is a parsed metadata file.
type Document struct {
	// Path is the file the document was loaded from, empty for in-memory documents.
	Path string
	// Fields holds passthrough top-level values.
	Fields map[string]any
	// Sections holds configuration sections in file order.
	Sections []*Section

	keys []string
}

// IsSection reports whether a top-level key names a configuration section.
func IsSection(name string) bool {
	return strings.Contains(name, sectionMarker)
}

// Section returns the configuration section called name.
func (d *Document) Section(name string) (*Section, bool) {
	for _, s := range d.Sections {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// PipelineName returns the pipeline_name passthrough field.
func (d *Document) PipelineName() string {
	return d.field("pipeline_name")
}

// PipelineVersion returns the pipeline_version passthrough field.
func (d *Document) PipelineVersion() string {
	return d.field("pipeline_version")
}

func (d *Document) field(name string) string {
	v, ok := d.Fields[name]
	if !ok {
		return ""
	}
	s, err := templating.Stringify(v)
	if err != nil {
		return ""
	}
	return s
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	out := &Document{
		Path:     d.Path,
		Fields:   make(map[string]any, len(d.Fields)),
		Sections: make([]*Section, 0, len(d.Sections)),
		keys:     append([]string(nil), d.keys...),
	}
	for k, v := range d.Fields {
		out.Fields[k] = deepCopy(v)
	}
	for _, s := range d.Sections {
		cp := &Section{Name: s.Name, Entries: make([]Entry, len(s.Entries))}
		for i, e := range s.Entries {
			cp.Entries[i] = Entry{Key: e.Key, Tag: e.Tag, Value: copyValue(e.Value)}
		}
		out.Sections = append(out.Sections, cp)
	}
	return out
}

// topLevelKeys returns passthrough and section names in file order. Keys
// added in memory after parsing are appended in sorted order.
func (d *Document) topLevelKeys() []string {
	seen := make(map[string]struct{}, len(d.keys))
	keys := make([]string, 0, len(d.Fields)+len(d.Sections))
	for _, k := range d.keys {
		if _, ok := d.Fields[k]; !ok {
			if _, ok := d.Section(k); !ok {
				continue
			}
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}

	var extra []string
	for k := range d.Fields {
		if _, ok := seen[k]; !ok {
			extra = append(extra, k)
		}
	}
	for _, s := range d.Sections {
		if _, ok := seen[s.Name]; !ok {
			extra = append(extra, s.Name)
		}
	}
	sort.Strings(extra)
	return append(keys, extra...)
}

func copyValue(v Value) Value {
	switch t := v.(type) {
	case String:
		return t
	case Array:
		return Array(deepCopy([]any(t)).([]any))
	case Object:
		return Object{Data: deepCopy(t.Data)}
	case Literal:
		return Literal{Data: deepCopy(t.Data)}
	default:
		return v
	}
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return t
		}
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case map[any]any:
		if t == nil {
			return t
		}
		out := make(map[any]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		if t == nil {
			return t
		}
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}
