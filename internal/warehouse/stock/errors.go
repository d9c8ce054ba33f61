package stock

import (
	"errors"
	"fmt"
)

// coded errors carry the stable code reported to clients; the HTTP layer
// maps codes to statuses.
type coded interface {
	ErrorCode() string
}

type sentinel struct {
	msg  string
	code string
}

func (e *sentinel) Error() string     { return e.msg }
func (e *sentinel) ErrorCode() string { return e.code }

// Domain errors shared by the warehouse engines.
var (
	// ErrNotFound is returned for missing records and for records owned by
	// another tenant alike.
	ErrNotFound error = &sentinel{"stock: not found", "not_found"}
	// ErrConflict means a conditional update lost a race; the caller may retry.
	ErrConflict     error = &sentinel{"stock: status changed concurrently", "conflict"}
	ErrNotAvailable error = &sentinel{"stock: not available", "not_available"}
	ErrValidation   error = &sentinel{"stock: validation failed", "validation"}
)

// InvalidTransitionError names a rejected status change.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("stock: invalid status transition from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) ErrorCode() string { return "invalid_transition" }

// ErrorCode maps an error to the stable code reported in per-item results.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var c coded
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return "internal"
}
