package gateway

import (
	"errors"
	"io"
	"testing"

	"github.com/gorilla/websocket"
)

func TestGatewayURL(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "bare wss", in: "wss://gateway.discord.gg", want: "wss://gateway.discord.gg/?encoding=json&v=8"},
		{name: "keeps path", in: "wss://gateway.discord.gg/ws", want: "wss://gateway.discord.gg/ws?encoding=json&v=8"},
		{name: "replaces version", in: "wss://gateway.discord.gg/?v=6", want: "wss://gateway.discord.gg/?encoding=json&v=8"},
		{name: "http to ws", in: "http://127.0.0.1:18080", want: "ws://127.0.0.1:18080/?encoding=json&v=8"},
		{name: "https to wss", in: "https://example.com/gw", want: "wss://example.com/gw?encoding=json&v=8"},
		{name: "invalid", in: "://bad-url", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := gatewayURL(tc.in, "8")
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("gatewayURL(%q)=%q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestClassifyClose(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		want      error
		retryable bool
	}{
		{name: "authentication failed", err: &websocket.CloseError{Code: 4004}, want: ErrAuthenticationFailed},
		{name: "invalid intents", err: &websocket.CloseError{Code: 4013}, want: ErrSessionRejected},
		{name: "sharding required", err: &websocket.CloseError{Code: 4011}, want: ErrSessionRejected},
		{name: "session timed out", err: &websocket.CloseError{Code: 4009}, retryable: true},
		{name: "abnormal", err: &websocket.CloseError{Code: websocket.CloseAbnormalClosure}, retryable: true},
		{name: "plain eof", err: io.EOF, retryable: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyClose(tc.err)
			if tc.want != nil && !errors.Is(got, tc.want) {
				t.Fatalf("classifyClose=%v, want %v", got, tc.want)
			}
			if Retryable(got) != tc.retryable {
				t.Fatalf("Retryable(%v)=%v, want %v", got, Retryable(got), tc.retryable)
			}
		})
	}
}
