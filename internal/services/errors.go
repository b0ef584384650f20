package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when the record a service operates on does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRoleLimitReached is returned when an oversight position is full.
	ErrRoleLimitReached = errors.New("role limit reached")
	// ErrNotApprover is returned when the deciding user does not hold the pending approval.
	ErrNotApprover = errors.New("user is not the approver for this step")
	// ErrNoCapacity is returned when a crew has no capacity left for the requested window.
	ErrNoCapacity = errors.New("insufficient crew capacity")
)

// ValidationError is a caller mistake. Handlers return its message with 400.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// LimitError reports a full oversight position.
type LimitError struct {
	Role string
	Max  int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("Maximum of %d %s role(s) allowed", e.Max, e.Role)
}

// Is makes errors.Is(err, ErrRoleLimitReached) true.
func (e *LimitError) Is(target error) bool { return target == ErrRoleLimitReached }

func joinCodes(codes []string) string {
	return strings.Join(codes, ", ")
}
