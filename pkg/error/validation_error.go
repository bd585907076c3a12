package error

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ValidationError lists every violated field, keyed by its JSON path.
type ValidationError struct {
	Violations map[string]string `json:"violations"`
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Violations: map[string]string{field: message}}
}

// FromValidation flattens (possibly nested) ozzo validation errors. A nil
// error yields nil so callers can return it directly.
func FromValidation(err error) error {
	if err == nil {
		return nil
	}
	out := &ValidationError{Violations: map[string]string{}}
	var errs validation.Errors
	if errors.As(err, &errs) {
		flatten("", errs, out.Violations)
		if len(out.Violations) == 0 {
			return nil
		}
		return out
	}
	out.Violations["_"] = err.Error()
	return out
}

func flatten(prefix string, errs validation.Errors, into map[string]string) {
	for field, fieldErr := range errs {
		if fieldErr == nil {
			continue
		}
		path := field
		if prefix != "" {
			path = prefix + "." + field
		}
		var nested validation.Errors
		if errors.As(fieldErr, &nested) {
			flatten(path, nested, into)
			continue
		}
		into[path] = fieldErr.Error()
	}
}

// Merge folds other's violations into err.
func (err *ValidationError) Merge(other *ValidationError) {
	if other == nil {
		return
	}
	if err.Violations == nil {
		err.Violations = map[string]string{}
	}
	for k, v := range other.Violations {
		err.Violations[k] = v
	}
}

func (err *ValidationError) Fields() []string {
	fields := make([]string, 0, len(err.Violations))
	for k := range err.Violations {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

func (err *ValidationError) Error() string {
	parts := make([]string, 0, len(err.Violations))
	for _, f := range err.Fields() {
		parts = append(parts, f+": "+err.Violations[f])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (err *ValidationError) ErrCode() string {
	return "VALIDATION_ERROR"
}

func (err *ValidationError) StatusCode() int {
	return http.StatusBadRequest
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
