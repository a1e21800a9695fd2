package authapi

import (
	"errors"
	"fmt"
)

// ErrUnauthenticated is returned when the identity endpoint does not confirm
// a live session.
var ErrUnauthenticated = errors.New("authapi: not authenticated")

// APIError is a non-success response from the auth API.
type APIError struct {
	Status int
	// Message is the "error" field of the response body, verbatim. Empty when
	// the server sent none.
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("authapi: status %d", e.Status)
	}
	return fmt.Sprintf("authapi: status %d: %s", e.Status, e.Message)
}

// TransportError is a failure to reach the auth API or read its response.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("authapi: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError is a success response whose body does not match the expected
// schema.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("authapi: decode %s: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ServerMessage returns the server-provided error text carried by err, if any.
func ServerMessage(err error) (string, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message, true
	}
	return "", false
}
