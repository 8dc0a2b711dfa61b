package fields

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers missing, inactive, or wrong-scope definitions,
	// categories, and value rows.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState marks structural misuse: writing a calculated field
	// directly, recalculating a plain field, or requesting visit history for
	// a category that is not visit-applicable.
	ErrInvalidState = errors.New("invalid state")
)

// ValidationError reports a raw value that fails a definition's required,
// type, or rule constraints. It identifies the offending field.
type ValidationError struct {
	FieldName string
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("field %q: %s", e.FieldName, e.Reason)
}

func validationErr(fieldName, format string, args ...interface{}) error {
	return &ValidationError{FieldName: fieldName, Reason: fmt.Sprintf(format, args...)}
}
