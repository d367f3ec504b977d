package ragstore

import (
	"errors"
	"fmt"
)

// The client normalizes every failure into one of these types so callers can
// decide between "fall back to local storage" and "tell the user no".

// TransportError covers network, DNS and timeout failures: the request never
// produced an HTTP response.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("ragstore: %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// NotFoundError is a 404: the resource is absent, the transport is fine.
type NotFoundError struct {
	Op string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("ragstore: %s: not found", e.Op) }

// ValidationError is any 4xx other than 404.
type ValidationError struct {
	Op      string
	Status  int
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ragstore: %s: status %d: %s", e.Op, e.Status, e.Message)
}

// ServerError is a 5xx from the backend.
type ServerError struct {
	Op     string
	Status int
}

func (e *ServerError) Error() string { return fmt.Sprintf("ragstore: %s: status %d", e.Op, e.Status) }

// MalformedResponseError means the backend answered 2xx but the body did not
// match the expected schema. Treated like an outage by callers.
type MalformedResponseError struct {
	Op  string
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("ragstore: %s: malformed response: %v", e.Op, e.Err)
}
func (e *MalformedResponseError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err indicates the backend cannot currently
// serve requests, i.e. the caller should switch to the local fallback store.
// Validation and not-found errors are real answers, not outages.
func IsUnavailable(err error) bool {
	var (
		te *TransportError
		se *ServerError
		me *MalformedResponseError
	)
	return errors.As(err, &te) || errors.As(err, &se) || errors.As(err, &me)
}
