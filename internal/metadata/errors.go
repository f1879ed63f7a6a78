package metadata

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrParse is returned when a metadata document cannot be read or has the wrong shape.
	ErrParse = errors.New("cannot parse metadata document")
	// ErrTemplateLoop is returned when a value still holds template markers after the pass bound.
	ErrTemplateLoop = errors.New("template expansion did not reach a fixpoint")
	// ErrUndefinedReference is returned when a template names a key missing from the render context.
	ErrUndefinedReference = errors.New("template references an undefined key")
	// ErrSerialization is returned when a rendered object value is no longer a valid structure.
	ErrSerialization = errors.New("cannot serialize object value")
	// ErrSectionNotFound is returned when a named configuration section is absent.
	ErrSectionNotFound = errors.New("configuration section not found")
)

// ParseError identifies the document that failed to load.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", ErrParse, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", ErrParse, e.Path, e.Err)
}

func (e *ParseError) Unwrap() []error {
	return []error{ErrParse, e.Err}
}

// TemplateLoopError names the entry whose value never stopped changing.
// Cycle is set when the loop was found in the references before rendering.
type TemplateLoopError struct {
	Section string
	Key     string
	Passes  int
	Cycle   []string
}

func (e *TemplateLoopError) Error() string {
	if len(e.Cycle) > 0 {
		return fmt.Sprintf("%s: %s.%s refers back to itself via %s", ErrTemplateLoop, e.Section, e.Key, strings.Join(e.Cycle, " -> "))
	}
	return fmt.Sprintf("%s: %s.%s still templated after %d passes (circular reference?)", ErrTemplateLoop, e.Section, e.Key, e.Passes)
}

func (e *TemplateLoopError) Unwrap() error {
	return ErrTemplateLoop
}

// UndefinedReferenceError names the entry and the expression that could not be resolved.
type UndefinedReferenceError struct {
	Section   string
	Key       string
	Reference string
}

func (e *UndefinedReferenceError) Error() string {
	return fmt.Sprintf("%s: %s.%s references %q", ErrUndefinedReference, e.Section, e.Key, e.Reference)
}

func (e *UndefinedReferenceError) Unwrap() error {
	return ErrUndefinedReference
}

// SerializationError names the object entry whose rendered structure is invalid.
type SerializationError struct {
	Section string
	Key     string
	Err     error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("%s %s.%s: %v", ErrSerialization, e.Section, e.Key, e.Err)
}

func (e *SerializationError) Unwrap() []error {
	return []error{ErrSerialization, e.Err}
}
