package templating

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/valyala/fasttemplate"
)

const (
	// StartTag opens a template expression.
	StartTag = "{{"
	// EndTag closes a template expression.
	EndTag = "}}"
)

// Renderer substitutes template expressions with values from a render context.
type Renderer struct {
	lenient bool
}

// Option configures a Renderer.
type Option func(*Renderer)

// Lenient makes undefined references render as empty text instead of failing.
func Lenient() Option {
	return func(r *Renderer) {
		r.lenient = true
	}
}

// New constructs a Renderer. References are strict unless Lenient is given.
func New(opts ...Option) *Renderer {
	r := &Renderer{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsLenient reports whether undefined references render as empty text.
func (r *Renderer) IsLenient() bool {
	return r.lenient
}

// Render performs a single substitution pass over s.
func (r *Renderer) Render(s string, ctx map[string]any) (string, error) {
	return fasttemplate.ExecuteFuncStringWithErr(s, StartTag, EndTag, func(w io.Writer, tag string) (int, error) {
		expr := strings.TrimSpace(tag)
		value, ok := Lookup(ctx, expr)
		if !ok {
			if r.lenient {
				return 0, nil
			}
			return 0, &UndefinedError{Expr: expr}
		}

		text, err := Stringify(value)
		if err != nil {
			return 0, fmt.Errorf("render %q: %w", expr, err)
		}
		return io.WriteString(w, text)
	})
}

// HasMarkers reports whether s still contains a start tag followed by an end tag.
func HasMarkers(s string) bool {
	i := strings.Index(s, StartTag)
	if i < 0 {
		return false
	}
	return strings.Contains(s[i+len(StartTag):], EndTag)
}

// Expressions returns the trimmed expressions of s in order of appearance.
// A start tag without a matching end tag is plain text.
func Expressions(s string) []string {
	var out []string
	for {
		i := strings.Index(s, StartTag)
		if i < 0 {
			return out
		}
		s = s[i+len(StartTag):]
		j := strings.Index(s, EndTag)
		if j < 0 {
			return out
		}
		out = append(out, strings.TrimSpace(s[:j]))
		s = s[j+len(EndTag):]
	}
}

// Lookup resolves expr against ctx. A key containing dots is matched as a
// whole first; otherwise the expression is walked segment by segment.
func Lookup(ctx map[string]any, expr string) (any, bool) {
	if expr == "" {
		return nil, false
	}
	if v, ok := ctx[expr]; ok {
		return v, true
	}

	segments := strings.Split(expr, ".")
	cur, ok := ctx[segments[0]]
	if !ok {
		return nil, false
	}
	for _, seg := range segments[1:] {
		cur, ok = index(cur, seg)
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func index(v any, seg string) (any, bool) {
	switch t := v.(type) {
	case map[string]any:
		next, ok := t[seg]
		return next, ok
	case map[any]any:
		next, ok := t[seg]
		return next, ok
	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(t) {
			return nil, false
		}
		return t[i], true
	case []string:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(t) {
			return nil, false
		}
		return t[i], true
	default:
		return nil, false
	}
}

// Stringify converts a context value into the text written in place of an expression.
// Scalars use their natural form; maps and slices become compact JSON.
func Stringify(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case uint64:
		return strconv.FormatUint(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case fmt.Stringer:
		return t.String(), nil
	case map[string]any, map[any]any, []any, []string:
		return marshalCompact(stringKeys(t))
	default:
		return "", fmt.Errorf("%w: %T", ErrUnrenderable, v)
	}
}

// stringKeys converts map[any]any values, as decoded from YAML mappings with
// non-string keys, into map[string]any so they can be encoded as JSON.
func stringKeys(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = stringKeys(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = stringKeys(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = stringKeys(val)
		}
		return out
	default:
		return v
	}
}

func marshalCompact(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnrenderable, err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
