package types

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection means the broker transport is unreachable or dropped.
	// Retry by reconnecting.
	ErrConnection = errors.New("broker connection unavailable")

	// ErrRequestTimeout means no terminal event arrived within the ceiling.
	ErrRequestTimeout = errors.New("broker request timed out")

	// ErrAlreadyRunning is returned by guarded single-run operations.
	ErrAlreadyRunning = errors.New("already running")
)

// ProtocolError is an explicit error code returned by the broker for a request id.
type ProtocolError struct {
	ReqID   int64
	Code    int
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("broker error %d for request %d: %s", e.Code, e.ReqID, e.Message)
}

// ValidationError rejects a caller-supplied request before any broker call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}
