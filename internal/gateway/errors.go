package gateway

import (
	"errors"
	"fmt"
)

var (
	ErrTokenRequired        = errors.New("gateway: token required")
	ErrClientRequired       = errors.New("gateway: rest client required")
	ErrHandlerRequired      = errors.New("gateway: handler required")
	ErrAuthenticationFailed = errors.New("gateway: authentication failed")
	// ErrSessionRejected covers close codes after which reconnecting with the same
	// identify payload cannot succeed (bad version, bad or disallowed intents, sharding).
	ErrSessionRejected = errors.New("gateway: session rejected")
)

// ConnectionError is a transport open/send/receive failure. It ends the current attempt.
type ConnectionError struct {
	Op  string
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("gateway %s %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError is an unexpected exchange that discards the current session identity.
type ProtocolError struct {
	Stage string
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Stage, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// HandlerError wraps a failure reported by the dispatch handler.
type HandlerError struct {
	EventType string
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("gateway handler %s: %v", e.EventType, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// Retryable reports whether starting over from the bootstrapper can help.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrAuthenticationFailed) &&
		!errors.Is(err, ErrSessionRejected) &&
		!errors.Is(err, ErrTokenRequired) &&
		!errors.Is(err, ErrClientRequired) &&
		!errors.Is(err, ErrHandlerRequired)
}
