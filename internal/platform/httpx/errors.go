// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for domain layer.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// Coded is implemented by errors that carry their own stable code.
type Coded interface {
	ErrorCode() string
}

// codeStatus maps the stable codes domain packages report to HTTP statuses.
var codeStatus = map[string]int{
	"not_found":          http.StatusNotFound,
	"conflict":           http.StatusConflict,
	"not_available":      http.StatusConflict,
	"validation":         http.StatusBadRequest,
	"invalid_transition": http.StatusBadRequest,
	"forbidden":          http.StatusForbidden,
	"unauthorized":       http.StatusUnauthorized,
}

// Classify maps an error to its HTTP status and stable code. A Coded error
// with a known code wins over the sentinels below.
func Classify(err error) (int, string) {
	var coded Coded
	code := ""
	if errors.As(err, &coded) {
		code = coded.ErrorCode()
		if status, ok := codeStatus[code]; ok {
			return status, code
		}
	}
	pick := func(fallback string) string {
		if code != "" {
			return code
		}
		return fallback
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, pick("not_found")
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, pick("conflict")
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, pick("validation")
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, pick("forbidden")
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, pick("unauthorized")
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// RespondError maps domain errors to an error envelope. Internal errors are
// reported without detail.
func RespondError(w http.ResponseWriter, err error) {
	status, code := Classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	Fail(w, status, code, message)
}
