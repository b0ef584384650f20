package ops

import (
	"context"
	"errors"
	"strings"
	"syscall"
)

// Failure is the class of a failed operation. Each class has a recovery routine.
type Failure string

// Failure classes.
const (
	FailurePortInUse         Failure = "port_in_use"
	FailureConnectionRefused Failure = "connection_refused"
	FailureDatabase          Failure = "database"
	FailureMissingFiles      Failure = "missing_files"
	FailureTimeout           Failure = "timeout"
	FailureUnknown           Failure = "unknown"
)

// Classify maps an operation error to a Failure class. It returns "" for nil.
func Classify(err error) Failure {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, syscall.EADDRINUSE):
		return FailurePortInUse
	case errors.Is(err, syscall.ECONNREFUSED):
		return FailureConnectionRefused
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "eaddrinuse"), strings.Contains(msg, "address already in use"):
		return FailurePortInUse
	case strings.Contains(msg, "connection refused"):
		return FailureConnectionRefused
	case strings.Contains(msg, "database"), strings.Contains(msg, "postgres"):
		return FailureDatabase
	case strings.Contains(msg, "no such file"):
		return FailureMissingFiles
	case strings.Contains(msg, "timed out"), strings.Contains(msg, "timeout"):
		return FailureTimeout
	}
	return FailureUnknown
}
