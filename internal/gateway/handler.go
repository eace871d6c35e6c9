package gateway

import (
	"context"

	"github.com/foobles/discord-bot/internal/protocol"
	"github.com/foobles/discord-bot/internal/rest"
)

// Handler receives every decoded dispatch payload, including the READY of each handshake.
// It runs on the session goroutine: a slow handler stalls the session.
type Handler interface {
	HandleDispatch(ctx context.Context, payload protocol.DispatchPayload, client *rest.Client) error
}

type HandlerFunc func(ctx context.Context, payload protocol.DispatchPayload, client *rest.Client) error

func (f HandlerFunc) HandleDispatch(ctx context.Context, payload protocol.DispatchPayload, client *rest.Client) error {
	return f(ctx, payload, client)
}
