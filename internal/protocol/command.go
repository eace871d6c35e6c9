package protocol

import (
	"encoding/json"
	"fmt"
)

type Opcode int

const (
	OpDispatch       Opcode = 0
	OpHeartbeat      Opcode = 1
	OpIdentify       Opcode = 2
	OpPresenceUpdate Opcode = 3
	OpResume         Opcode = 6
	OpReconnect      Opcode = 7
	OpInvalidSession Opcode = 9
	OpHello          Opcode = 10
	OpHeartbeatAck   Opcode = 11
)

func (op Opcode) String() string {
	switch op {
	case OpDispatch:
		return "dispatch"
	case OpHeartbeat:
		return "heartbeat"
	case OpIdentify:
		return "identify"
	case OpPresenceUpdate:
		return "presence_update"
	case OpResume:
		return "resume"
	case OpReconnect:
		return "reconnect"
	case OpInvalidSession:
		return "invalid_session"
	case OpHello:
		return "hello"
	case OpHeartbeatAck:
		return "heartbeat_ack"
	default:
		return fmt.Sprintf("op(%d)", int(op))
	}
}

// Command is an outbound gateway message; its value is the "d" payload.
type Command interface {
	Opcode() Opcode
}

// Heartbeat carries the last seen sequence, null before the first dispatch.
type Heartbeat struct {
	Sequence *int64
}

func (Heartbeat) Opcode() Opcode { return OpHeartbeat }

func (h Heartbeat) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Sequence)
}

// HeartbeatAt builds a Heartbeat, mapping sequence 0 to null.
func HeartbeatAt(seq int64) Heartbeat {
	if seq <= 0 {
		return Heartbeat{}
	}
	return Heartbeat{Sequence: &seq}
}

type ConnectionProperties struct {
	OS      string `json:"$os"`
	Browser string `json:"$browser"`
	Device  string `json:"$device"`
}

type Identify struct {
	Token          string               `json:"token"`
	Properties     ConnectionProperties `json:"properties"`
	Intents        Intents              `json:"intents"`
	Compress       *bool                `json:"compress,omitempty"`
	LargeThreshold *int                 `json:"large_threshold,omitempty"`
	Presence       *UpdatePresence      `json:"presence,omitempty"`
}

func (Identify) Opcode() Opcode { return OpIdentify }

type Resume struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"seq"`
}

func (Resume) Opcode() Opcode { return OpResume }

type UpdatePresence struct {
	Since      *int64 `json:"since"`
	Status     Status `json:"status"`
	AFK        bool   `json:"afk"`
	Activities []any  `json:"activities"`
}

func (UpdatePresence) Opcode() Opcode { return OpPresenceUpdate }

type outboundFrame struct {
	Op Opcode  `json:"op"`
	D  Command `json:"d"`
}

// EncodeCommand serializes cmd as {"op": <code>, "d": <payload>}.
func EncodeCommand(cmd Command) ([]byte, error) {
	if cmd == nil {
		return nil, fmt.Errorf("encode command: nil command")
	}
	b, err := json.Marshal(outboundFrame{Op: cmd.Opcode(), D: cmd})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.Opcode(), err)
	}
	return b, nil
}
