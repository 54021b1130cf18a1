package domain

import (
	"errors"
	"fmt"
)

// ErrCallInFlight is returned when a call is submitted while another
// attempt on the same dialer is still outstanding. The submission is a no-op.
var ErrCallInFlight = errors.New("a call attempt is already in progress")

// Fallback messages shown when the backend gives no detail.
const (
	FallbackCallMessage    = "Failed to initiate call"
	FallbackRequestMessage = "Request failed"
)

// ValidationError reports a missing or malformed user-supplied value. It is
// raised before any request is sent.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// NotFoundError reports an operation on an unknown record.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return e.Entity + " not found: " + e.ID
}

// ProtectedRecordError reports an attempt to delete a record that must exist.
type ProtectedRecordError struct {
	ID string
}

func (e *ProtectedRecordError) Error() string {
	return fmt.Sprintf("agent %q is protected and cannot be deleted", e.ID)
}

// RemoteError wraps any failed call to the calling backend.
type RemoteError struct {
	Op         string // e.g. "initiate call", "list agents"
	StatusCode int    // 0 for transport failures
	Detail     string // provider-supplied detail, shown verbatim
	Err        error
}

func (e *RemoteError) Error() string {
	msg := e.Op + ": "
	switch {
	case e.Detail != "":
		msg += e.Detail
	case e.Err != nil:
		msg += e.Err.Error()
	default:
		msg += FallbackRequestMessage
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	return msg
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Message returns the user-visible text: the provider detail when present,
// otherwise a generic fallback.
func (e *RemoteError) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.Op == OpInitiateCall {
		return FallbackCallMessage
	}
	return FallbackRequestMessage
}

// OpInitiateCall names the call-initiation operation in RemoteError.Op.
const OpInitiateCall = "initiate call"

// UserMessage converts any error into the text shown to an operator.
func UserMessage(err error, fallback string) string {
	if err == nil {
		return ""
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Message()
	}
	var validation *ValidationError
	if errors.As(err, &validation) {
		return validation.Message
	}
	var notFound *NotFoundError
	var protected *ProtectedRecordError
	if errors.As(err, &notFound) || errors.As(err, &protected) || errors.Is(err, ErrCallInFlight) {
		return err.Error()
	}
	return fallback
}
