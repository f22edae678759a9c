package pricing

import (
	"errors"
	"fmt"
)

// ErrInvalidParameter is matched by every *ParamError.
var ErrInvalidParameter = errors.New("invalid parameter")

// ParamError reports a malformed or out-of-domain argument.
type ParamError struct {
	Name   string  // argument name, e.g. "spot"
	Value  float64 // offending value, when numeric
	Reason string
}

func (e *ParamError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid parameter %s=%v", e.Name, e.Value)
	}
	return fmt.Sprintf("invalid parameter %s=%v: %s", e.Name, e.Value, e.Reason)
}

func (e *ParamError) Unwrap() error { return ErrInvalidParameter }

func invalidValue(name string, v float64, reason string) error {
	return &ParamError{Name: name, Value: v, Reason: reason}
}

func invalidKind(k Kind) error {
	return &ParamError{Name: "kind", Value: float64(k), Reason: "must be call or put"}
}
