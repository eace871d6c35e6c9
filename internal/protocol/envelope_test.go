package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDecodeHelloThenReady(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"op":10,"d":{"heartbeat_interval":41250},"s":null,"t":null}`))
	if err != nil {
		t.Fatalf("decode hello: %v", err)
	}
	hello, ok := ev.(*Hello)
	if !ok {
		t.Fatalf("expected *Hello, got %T", ev)
	}
	if hello.HeartbeatInterval != 41250 {
		t.Fatalf("heartbeat_interval=%d, want 41250", hello.HeartbeatInterval)
	}

	ev, err = DecodeEvent([]byte(`{"op":0,"s":1,"t":"READY","d":{"user":{"id":"80351110224678912","username":"bot","discriminator":"0001"},"session_id":"abc123"}}`))
	if err != nil {
		t.Fatalf("decode ready: %v", err)
	}
	d, ok := ev.(*Dispatch)
	if !ok {
		t.Fatalf("expected *Dispatch, got %T", ev)
	}
	if d.Sequence != 1 || d.Type != EventReady {
		t.Fatalf("unexpected dispatch: %s", d)
	}
	ready, ok := d.Payload.(*Ready)
	if !ok {
		t.Fatalf("expected *Ready payload, got %T", d.Payload)
	}
	if ready.SessionID != "abc123" {
		t.Fatalf("session_id=%q", ready.SessionID)
	}
	if ready.User.ID != 80351110224678912 {
		t.Fatalf("user id=%d", ready.User.ID)
	}
}

func TestDecodeControlFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  Event
	}{
		{name: "heartbeat ack", frame: `{"op":11,"d":null}`, want: HeartbeatAck{}},
		{name: "heartbeat ack without d", frame: `{"op":11}`, want: HeartbeatAck{}},
		{name: "reconnect", frame: `{"op":7,"d":null}`, want: Reconnect{}},
		{name: "invalid session resumable", frame: `{"op":9,"d":true}`, want: InvalidSession{Resumable: true}},
		{name: "invalid session fresh", frame: `{"op":9,"d":false}`, want: InvalidSession{Resumable: false}},
		{name: "heartbeat request", frame: `{"op":1,"d":null}`, want: HeartbeatRequest{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeEvent([]byte(tc.frame))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %#v, want %#v", got, tc.want)
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name   string
		frame  string
		reason string
	}{
		{name: "unknown event type", frame: `{"op":0,"s":4,"t":"GUILD_CREATE","d":{}}`, reason: "unknown event type"},
		{name: "unknown opcode", frame: `{"op":42,"d":null}`, reason: "unknown opcode"},
		{name: "malformed json", frame: `{"op":0,`, reason: "malformed envelope"},
		{name: "reconnect with payload", frame: `{"op":7,"d":{"x":1}}`, reason: "expected null payload"},
		{name: "dispatch without t", frame: `{"op":0,"s":1,"d":{}}`, reason: "missing field t"},
		{name: "dispatch without s", frame: `{"op":0,"t":"READY","d":{}}`, reason: "missing field s"},
		{name: "invalid session not bool", frame: `{"op":9,"d":"yes"}`, reason: "payload must be a boolean"},
		{name: "hello without interval", frame: `{"op":10,"d":{}}`, reason: "missing heartbeat_interval"},
		{name: "bad snowflake", frame: `{"op":0,"s":1,"t":"READY","d":{"user":{"id":12},"session_id":"x"}}`, reason: "malformed payload"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeEvent([]byte(tc.frame))
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("expected *DecodeError, got %v", err)
			}
			if de.Reason != tc.reason {
				t.Fatalf("reason=%q, want %q (%v)", de.Reason, tc.reason, err)
			}
		})
	}
}

type guildCreate struct {
	ID Snowflake `json:"id"`
}

func (*guildCreate) EventType() string { return "GUILD_CREATE" }

func TestDecoderRegisterExtendsTable(t *testing.T) {
	d := NewDecoder()
	d.Register("GUILD_CREATE", func(raw json.RawMessage) (DispatchPayload, error) {
		var g guildCreate
		if err := json.Unmarshal(raw, &g); err != nil {
			return nil, err
		}
		return &g, nil
	})
	ev, err := d.Decode([]byte(`{"op":0,"s":9,"t":"GUILD_CREATE","d":{"id":"7"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	g, ok := ev.(*Dispatch).Payload.(*guildCreate)
	if !ok || g.ID != 7 {
		t.Fatalf("unexpected payload %#v", ev.(*Dispatch).Payload)
	}
	if _, err := DecodeEvent([]byte(`{"op":0,"s":9,"t":"GUILD_CREATE","d":{"id":"7"}}`)); err == nil {
		t.Fatal("default decoder must not see types registered on another decoder")
	}
}

func TestDecodeMessageCreate(t *testing.T) {
	frame := `{"op":0,"s":12,"t":"MESSAGE_CREATE","d":{"id":"5","channel_id":"6","content":"eg!ping","timestamp":"2021-01-02T03:04:05.000000+00:00","author":{"id":"8","username":"u","discriminator":"1"},"mentions":[]}}`
	ev, err := DecodeEvent([]byte(frame))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	msg := ev.(*Dispatch).Payload.(*MessageCreate)
	if msg.ChannelID != 6 || msg.Content != "eg!ping" || msg.Author.ID != 8 {
		t.Fatalf("unexpected message %#v", msg)
	}
	if msg.Timestamp.Year() != 2021 {
		t.Fatalf("timestamp=%v", msg.Timestamp)
	}
}

func TestEncodeCommands(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{name: "heartbeat", cmd: HeartbeatAt(42), want: `{"op":1,"d":42}`},
		{name: "heartbeat before first dispatch", cmd: HeartbeatAt(0), want: `{"op":1,"d":null}`},
		{name: "resume", cmd: Resume{Token: "tok", SessionID: "abc123", Sequence: 7}, want: `{"op":6,"d":{"token":"tok","session_id":"abc123","seq":7}}`},
		{
			name: "identify",
			cmd: Identify{
				Token:      "tok",
				Properties: ConnectionProperties{OS: "linux", Browser: "discord-bot", Device: "discord-bot"},
				Intents:    IntentGuildMessages | IntentDirectMessages,
			},
			want: `{"op":2,"d":{"token":"tok","properties":{"$os":"linux","$browser":"discord-bot","$device":"discord-bot"},"intents":4608}}`,
		},
		{
			name: "identify with presence",
			cmd: Identify{
				Token:      "tok",
				Properties: ConnectionProperties{OS: "linux", Browser: "discord-bot", Device: "discord-bot"},
				Intents:    IntentGuilds,
				Presence:   &UpdatePresence{Status: StatusIdle, Activities: []any{}},
			},
			want: `{"op":2,"d":{"token":"tok","properties":{"$os":"linux","$browser":"discord-bot","$device":"discord-bot"},"intents":1,"presence":{"since":null,"status":"idle","afk":false,"activities":[]}}}`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EncodeCommand(tc.cmd)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if string(got) != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestParseIntents(t *testing.T) {
	got, err := ParseIntents([]string{"guild_messages", " DIRECT_MESSAGES "})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !got.Has(IntentGuildMessages) || !got.Has(IntentDirectMessages) || got.Has(IntentGuilds) {
		t.Fatalf("unexpected intents %b", got)
	}
	if _, err := ParseIntents([]string{"NOPE"}); err == nil || !strings.Contains(err.Error(), "unknown intent") {
		t.Fatalf("expected unknown intent error, got %v", err)
	}
}
