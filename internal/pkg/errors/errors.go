package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation failed")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrConfiguration      = errors.New("invalid configuration")
	ErrInternal           = errors.New("internal")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsUnavailable reports whether err is a transient backend failure that the
// resilience layer may retry.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}

// Validationf wraps ErrValidation with a caller-facing reason.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrValidation}, args...)...)
}

// Unavailablef wraps ErrBackendUnavailable with the underlying cause.
func Unavailablef(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrBackendUnavailable}, args...)...)
}

// Configurationf wraps ErrConfiguration with the offending setting.
func Configurationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrConfiguration}, args...)...)
}

// FailedID records one identifier that could not be resolved during a batch
// operation, with the reason it failed.
type FailedID struct {
	ID     string
	Reason error
}

// PartialFailure reports a batch operation that resolved some items and lost
// others. Callers receive the surviving results alongside this error and may
// treat it as success with gaps.
type PartialFailure struct {
	Failed []FailedID
}

func (e *PartialFailure) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		ids = append(ids, f.ID)
	}
	return fmt.Sprintf("partial failure: %d item(s) unresolved: %s", len(e.Failed), strings.Join(ids, ", "))
}

// AsPartialFailure unwraps err into a PartialFailure if it is one.
func AsPartialFailure(err error) (*PartialFailure, bool) {
	var pf *PartialFailure
	if errors.As(err, &pf) {
		return pf, true
	}
	return nil, false
}
