package rest

import (
	"fmt"
)

// ConnectionError is a transport-level failure: DNS, TCP, TLS or a broken body read.
type ConnectionError struct {
	Route string
	Err   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("rest %s: connection: %v", e.Route, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError is a response body that does not have the expected shape.
type ProtocolError struct {
	Route string
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("rest %s: unexpected body: %v", e.Route, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// StatusError is a non-2xx response that is not a rate limit.
type StatusError struct {
	Route  string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("rest %s: status %d", e.Route, e.Status)
	}
	return fmt.Sprintf("rest %s: status %d: %s", e.Route, e.Status, e.Body)
}
