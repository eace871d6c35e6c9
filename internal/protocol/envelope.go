package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
)

// Envelope is the common gateway frame. D stays raw until the opcode is known.
type Envelope struct {
	Op Opcode          `json:"op"`
	D  json.RawMessage `json:"d"`
	S  *int64          `json:"s"`
	T  *string         `json:"t"`
}

// Event is one decoded inbound frame.
type Event interface {
	isEvent()
}

type Dispatch struct {
	Sequence int64
	Type     string
	Payload  DispatchPayload
}

type Hello struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type InvalidSession struct {
	Resumable bool
}

type Reconnect struct{}

type HeartbeatAck struct{}

// HeartbeatRequest is an opcode 1 frame sent by the server to ask for an immediate heartbeat.
type HeartbeatRequest struct{}

func (*Dispatch) isEvent() {}
func (*Hello) isEvent() {}
func (InvalidSession) isEvent() {}
func (Reconnect) isEvent() {}
func (HeartbeatAck) isEvent() {}
func (HeartbeatRequest) isEvent() {}

// DecodeError reports a frame that could not be turned into an Event.
type DecodeError struct {
	Op     Opcode
	Type   string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := "decode frame"
	if e.Op >= 0 {
		msg = "decode " + e.Op.String()
	}
	if e.Type != "" {
		msg += " " + e.Type
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

// PayloadDecoder turns the raw "d" of a dispatch into a typed payload.
type PayloadDecoder func(raw json.RawMessage) (DispatchPayload, error)

// Decoder is the two-stage envelope decoder. The zero value is not usable; see NewDecoder.
type Decoder struct {
	mu       sync.RWMutex
	payloads map[string]PayloadDecoder
}

// NewDecoder returns a decoder knowing READY, RESUMED, MESSAGE_CREATE and TYPING_START.
func NewDecoder() *Decoder {
	d := &Decoder{payloads: make(map[string]PayloadDecoder)}
	d.Register(EventReady, decodeAs[Ready])
	d.Register(EventResumed, decodeAs[Resumed])
	d.Register(EventMessageCreate, decodeAs[MessageCreate])
	d.Register(EventTypingStart, decodeAs[TypingStart])
	return d
}

// Register adds or replaces the decoder for an event type.
func (d *Decoder) Register(eventType string, fn PayloadDecoder) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.payloads[eventType] = fn
}

func (d *Decoder) lookup(eventType string) (PayloadDecoder, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn, ok := d.payloads[eventType]
	return fn, ok
}

var defaultDecoder = NewDecoder()

// DecodeEvent decodes a frame with the default payload table.
func DecodeEvent(frame []byte) (Event, error) {
	return defaultDecoder.Decode(frame)
}

func (d *Decoder) Decode(frame []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, &DecodeError{Op: -1, Reason: "malformed envelope", Err: err}
	}
	switch env.Op {
	case OpDispatch:
		return d.decodeDispatch(env)
	case OpHello:
		var h Hello
		if err := json.Unmarshal(env.D, &h); err != nil {
			return nil, &DecodeError{Op: env.Op, Reason: "malformed payload", Err: err}
		}
		if h.HeartbeatInterval <= 0 {
			return nil, &DecodeError{Op: env.Op, Reason: "missing heartbeat_interval"}
		}
		return &h, nil
	case OpInvalidSession:
		var resumable bool
		if err := json.Unmarshal(env.D, &resumable); err != nil {
			return nil, &DecodeError{Op: env.Op, Reason: "payload must be a boolean", Err: err}
		}
		return InvalidSession{Resumable: resumable}, nil
	case OpReconnect:
		if !isNull(env.D) {
			return nil, &DecodeError{Op: env.Op, Reason: "expected null payload"}
		}
		return Reconnect{}, nil
	case OpHeartbeatAck:
		if !isNull(env.D) {
			return nil, &DecodeError{Op: env.Op, Reason: "expected null payload"}
		}
		return HeartbeatAck{}, nil
	case OpHeartbeat:
		return HeartbeatRequest{}, nil
	default:
		return nil, &DecodeError{Op: env.Op, Reason: "unknown opcode"}
	}
}

func (d *Decoder) decodeDispatch(env Envelope) (Event, error) {
	if env.T == nil {
		return nil, &DecodeError{Op: env.Op, Reason: "missing field t"}
	}
	if env.S == nil {
		return nil, &DecodeError{Op: env.Op, Type: *env.T, Reason: "missing field s"}
	}
	fn, ok := d.lookup(*env.T)
	if !ok {
		return nil, &DecodeError{Op: env.Op, Type: *env.T, Reason: "unknown event type"}
	}
	payload, err := fn(env.D)
	if err != nil {
		return nil, &DecodeError{Op: env.Op, Type: *env.T, Reason: "malformed payload", Err: err}
	}
	return &Dispatch{Sequence: *env.S, Type: *env.T, Payload: payload}, nil
}

func decodeAs[T any, P interface {
	*T
	DispatchPayload
}](raw json.RawMessage) (DispatchPayload, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return P(&v), nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func (e *Dispatch) String() string {
	return fmt.Sprintf("dispatch %s seq=%d", e.Type, e.Sequence)
}
