package transport

import (
	"errors"
	"fmt"
)

// Outcome classes of a non-success response. RejectedRequest unwraps to exactly one.
var (
	ErrRequestRejected        = errors.New("request rejected")
	ErrAuthenticationRejected = errors.New("authentication rejected")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrMalformedResponse      = errors.New("malformed response")
)

// TransportFailure means the request never produced a response
type TransportFailure struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportFailure) Error() string {
	return fmt.Sprintf("%s %s: transport failure: %v", e.Method, e.Path, e.Err)
}

func (e *TransportFailure) Unwrap() error { return e.Err }

// RejectedRequest is a server response with a non-success status
type RejectedRequest struct {
	Method string
	Path   string
	Status int
	Detail string
	kind   error
}

func (e *RejectedRequest) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, e.Detail)
}

// Unwrap exposes the outcome class for errors.Is
func (e *RejectedRequest) Unwrap() error { return e.kind }

// IsAuthenticationRejected reports whether the credential itself was refused
func (e *RejectedRequest) IsAuthenticationRejected() bool {
	return e.kind == ErrAuthenticationRejected
}
