package shared

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-freight/odyssey-freight/internal/platform/httpx"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidationError reports struct tag failures by JSON field name.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string {
	return httpx.ErrValidation.Error() + ": " + e.Detail
}

// ErrorCode reports the stable "validation" code.
func (e *ValidationError) ErrorCode() string { return "validation" }

func (e *ValidationError) Unwrap() error { return httpx.ErrValidation }

// ValidateStruct runs struct tag validation. Failures are *ValidationError.
func ValidateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ValidationError{Detail: err.Error()}
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return &ValidationError{Detail: strings.Join(msgs, "; ")}
}
