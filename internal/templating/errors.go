package templating

import (
	"errors"
	"fmt"
)

var (
	// ErrUndefined is returned when an expression names a key missing from the render context.
	ErrUndefined = errors.New("undefined reference")
	// ErrUnrenderable is returned when a referenced value cannot be turned into text.
	ErrUnrenderable = errors.New("value cannot be rendered as text")
)

// UndefinedError reports the expression that could not be resolved.
type UndefinedError struct {
	Expr string
}

func (e *UndefinedError) Error() string {
	return fmt.Sprintf("%s %q", ErrUndefined, e.Expr)
}

func (e *UndefinedError) Unwrap() error {
	return ErrUndefined
}
