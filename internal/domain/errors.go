package domain

import (
	"errors"
	"strings"
)

// Domain errors
var (
	ErrUnauthenticated    = errors.New("must be logged in")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrPlayerNotFound     = errors.New("player not found")
	ErrTradeNotFound      = errors.New("trade does not exist")
	ErrInvalidCategory    = errors.New("invalid leaderboard category")
	ErrFailedPrecondition = errors.New("failed precondition")
	ErrConflict           = errors.New("conflict")
	ErrInternalError      = errors.New("internal server error")
)

// ValidationError carries every admission check that failed for a request.
type ValidationError struct {
	Reasons []string
}

// NewValidationError returns nil when there are no reasons.
func NewValidationError(reasons []string) error {
	if len(reasons) == 0 {
		return nil
	}
	return &ValidationError{Reasons: reasons}
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Reasons, ", ")
}

// Is lets callers match a ValidationError with errors.Is(err, ErrFailedPrecondition).
func (e *ValidationError) Is(target error) bool {
	return target == ErrFailedPrecondition
}

// ConflictError reports that a settlement unit observed state that no longer
// allows the requested mutation.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return e.Reason
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrPlayerNotFound) || errors.Is(err, ErrTradeNotFound)
}

// IsClientError reports errors caused by the request rather than the server.
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnauthenticated) ||
		errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrInvalidCategory) ||
		errors.Is(err, ErrFailedPrecondition) ||
		errors.Is(err, ErrConflict) ||
		IsNotFoundError(err)
}
