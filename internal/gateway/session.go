package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/foobles/discord-bot/internal/checkpoint"
	"github.com/foobles/discord-bot/internal/protocol"
	"github.com/foobles/discord-bot/internal/rest"
)

const DefaultVersion = "8"

type Config struct {
	Token      string
	Intents    protocol.Intents
	Properties protocol.ConnectionProperties
	// Version is the protocol version query parameter.
	Version string
	// HandshakeTimeout bounds each frame read during the Identify/Hello/Ready exchange.
	HandshakeTimeout time.Duration
	// Presence is sent with Identify; nil leaves the default online presence.
	Presence *protocol.UpdatePresence

	Dialer  Dialer
	Decoder *protocol.Decoder
	Metrics *Metrics
	Store   checkpoint.Store
	Logger  *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Version == "" {
		c.Version = DefaultVersion
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 30 * time.Second
	}
	if c.Properties.OS == "" {
		c.Properties.OS = runtime.GOOS
	}
	if c.Properties.Browser == "" {
		c.Properties.Browser = "discord-bot"
	}
	if c.Properties.Device == "" {
		c.Properties.Device = "discord-bot"
	}
	if c.Dialer == nil {
		c.Dialer = WebsocketDialer{}
	}
	if c.Decoder == nil {
		c.Decoder = protocol.NewDecoder()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Session is one logical, resumable gateway connection. Run drives it.
type Session struct {
	cfg     Config
	client  *rest.Client
	handler Handler
	logger  *slog.Logger
	tracer  trace.Tracer

	presence chan protocol.UpdatePresence
	// status is the presence to identify with. Only the loop goroutine touches it.
	status *protocol.UpdatePresence

	snapMu sync.RWMutex
	snap   Snapshot
}

func NewSession(cfg Config, client *rest.Client, handler Handler) (*Session, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, ErrTokenRequired
	}
	if client == nil {
		return nil, ErrClientRequired
	}
	if handler == nil {
		return nil, ErrHandlerRequired
	}
	cfg = cfg.withDefaults()
	return &Session{
		cfg:      cfg,
		client:   client,
		handler:  handler,
		logger:   cfg.Logger,
		tracer:   otel.Tracer("discord-bot/gateway"),
		presence: make(chan protocol.UpdatePresence, 1),
		status:   cfg.Presence,
	}, nil
}

// Run connects and keeps the session alive until ctx is cancelled or an unrecoverable
// error surfaces: a failed handshake, or a transport that cannot be re-opened.
func (s *Session) Run(ctx context.Context) error {
	_, err := s.run(ctx)
	return err
}

// run reports whether the session got past connecting, so a supervisor can tell a
// dropped session from one that never came up.
func (s *Session) run(ctx context.Context) (bool, error) {
	c, st, err := s.start(ctx)
	if err != nil {
		return false, err
	}
	return true, s.loop(ctx, c, st)
}

// UpdatePresence queues a presence update; the loop sends it on its next iteration.
func (s *Session) UpdatePresence(ctx context.Context, p protocol.UpdatePresence) error {
	select {
	case s.presence <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) start(ctx context.Context) (*conn, *State, error) {
	if s.cfg.Store != nil {
		cp, ok, err := s.cfg.Store.Load(ctx)
		if err != nil {
			s.logger.Warn("gateway checkpoint load failed, identifying", "err", err)
		} else if ok {
			st := &State{
				SessionID:         cp.SessionID,
				Sequence:          cp.Sequence,
				HeartbeatInterval: cp.HeartbeatInterval(),
			}
			s.logger.Info("gateway resuming from checkpoint", "session_id", st.SessionID, "seq", st.Sequence)
			c, err := s.resume(ctx, st)
			if err != nil {
				return nil, nil, err
			}
			return c, st, nil
		}
	}
	return s.fresh(ctx)
}

// connect resolves the streaming endpoint with one REST call and opens a transport to it.
func (s *Session) connect(ctx context.Context) (*conn, error) {
	info, err := s.client.GatewayBot(ctx)
	if err != nil {
		var pe *rest.ProtocolError
		if errors.As(err, &pe) {
			return nil, &ProtocolError{Stage: "bootstrap", Err: err}
		}
		var se *rest.StatusError
		if errors.As(err, &se) && se.Status == http.StatusUnauthorized {
			return nil, &ConnectionError{Op: "resolve", Err: fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)}
		}
		return nil, &ConnectionError{Op: "resolve", Err: err}
	}
	u, err := gatewayURL(info.URL, s.cfg.Version)
	if err != nil {
		return nil, &ProtocolError{Stage: "bootstrap", Err: err}
	}
	s.logger.Info("gateway connecting", "gateway_url", u)
	t, err := s.cfg.Dialer.Dial(ctx, u)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", URL: u, Err: err}
	}
	c := newConn(t, u)
	s.logger.Info("gateway connected", "gateway_url", u, "conn_id", c.id)
	return c, nil
}

func (s *Session) send(c *conn, cmd protocol.Command) error {
	data, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	if err := c.write(data); err != nil {
		return &ConnectionError{Op: "send " + cmd.Opcode().String(), URL: c.url, Err: err}
	}
	return nil
}

// fresh discards any previous identity and runs bootstrap plus the full handshake.
func (s *Session) fresh(ctx context.Context) (*conn, *State, error) {
	if s.cfg.Store != nil {
		if err := s.cfg.Store.Clear(ctx); err != nil {
			s.logger.Warn("gateway checkpoint clear failed", "err", err)
		}
	}
	c, err := s.connect(ctx)
	if err != nil {
		return nil, nil, err
	}
	st, err := s.handshake(ctx, c)
	if err != nil {
		c.close()
		return nil, nil, err
	}
	s.saveCheckpoint(ctx, st)
	return c, st, nil
}

// handshake sends Identify and expects exactly Hello then the READY dispatch.
func (s *Session) handshake(ctx context.Context, c *conn) (*State, error) {
	err := s.send(c, protocol.Identify{
		Token:      s.cfg.Token,
		Properties: s.cfg.Properties,
		Intents:    s.cfg.Intents,
		Presence:   s.status,
	})
	if err != nil {
		return nil, err
	}

	ev, err := s.expect(ctx, c, "hello")
	if err != nil {
		return nil, err
	}
	hello, ok := ev.(*protocol.Hello)
	if !ok {
		return nil, &ProtocolError{Stage: "handshake", Err: fmt.Errorf("expected hello, got %T", ev)}
	}

	ev, err = s.expect(ctx, c, "ready")
	if err != nil {
		return nil, err
	}
	d, ok := ev.(*protocol.Dispatch)
	if !ok {
		return nil, &ProtocolError{Stage: "handshake", Err: fmt.Errorf("expected ready dispatch, got %T", ev)}
	}
	ready, ok := d.Payload.(*protocol.Ready)
	if !ok {
		return nil, &ProtocolError{Stage: "handshake", Err: fmt.Errorf("expected ready dispatch, got %s", d.Type)}
	}
	if strings.TrimSpace(ready.SessionID) == "" {
		return nil, &ProtocolError{Stage: "handshake", Err: errors.New("ready without session_id")}
	}

	st := &State{
		Sequence:          d.Sequence,
		HeartbeatInterval: time.Duration(hello.HeartbeatInterval) * time.Millisecond,
		SessionID:         ready.SessionID,
		HeartbeatAcked:    true,
	}
	s.cfg.Metrics.setSequence(st.Sequence)
	s.logger.Info("gateway session ready",
		"session_id", st.SessionID,
		"user", ready.User.Username,
		"heartbeat_interval", st.HeartbeatInterval,
		"conn_id", c.id,
	)
	s.dispatch(ctx, d)
	return st, nil
}

func (s *Session) expect(ctx context.Context, c *conn, what string) (protocol.Event, error) {
	rctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()
	data, err := c.next(rctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ProtocolError{Stage: "handshake", Err: fmt.Errorf("waiting for %s: %w", what, err)}
	}
	ev, err := s.cfg.Decoder.Decode(data)
	if err != nil {
		return nil, &ProtocolError{Stage: "handshake", Err: err}
	}
	return ev, nil
}

// resume re-opens the transport and re-attaches to st's identity without a handshake.
func (s *Session) resume(ctx context.Context, st *State) (*conn, error) {
	s.cfg.Metrics.reconnect("resume")
	c, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	err = s.send(c, protocol.Resume{
		Token:     s.cfg.Token,
		SessionID: st.SessionID,
		Sequence:  st.Sequence,
	})
	if err != nil {
		c.close()
		return nil, err
	}
	st.HeartbeatAcked = true
	st.phase = phaseResumePending
	s.logger.Info("gateway resume sent", "session_id", st.SessionID, "seq", st.Sequence, "conn_id", c.id)
	return c, nil
}

// dispatch hands one payload to the handler. Failures, panics included, are logged only.
func (s *Session) dispatch(ctx context.Context, d *protocol.Dispatch) {
	ctx, span := s.tracer.Start(ctx, "gateway dispatch "+d.Type,
		trace.WithAttributes(
			attribute.String("discord.event_type", d.Type),
			attribute.Int64("discord.sequence", d.Sequence),
		),
	)
	defer span.End()

	err := s.invoke(ctx, d)
	if err == nil {
		return
	}
	herr := &HandlerError{EventType: d.Type, Err: err}
	span.RecordError(herr)
	span.SetStatus(codes.Error, "handler failed")
	s.cfg.Metrics.handlerError()
	s.logger.Error("gateway handler failed", "event", d.Type, "seq", d.Sequence, "err", herr)
}

func (s *Session) invoke(ctx context.Context, d *protocol.Dispatch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.handler.HandleDispatch(ctx, d.Payload, s.client)
}

func (s *Session) saveCheckpoint(ctx context.Context, st *State) {
	if s.cfg.Store == nil {
		return
	}
	err := s.cfg.Store.Save(ctx, checkpoint.Checkpoint{
		SessionID:           st.SessionID,
		Sequence:            st.Sequence,
		HeartbeatIntervalMS: st.HeartbeatInterval.Milliseconds(),
		UpdatedAt:           time.Now(),
	})
	if err != nil {
		s.logger.Warn("gateway checkpoint save failed", "err", err)
	}
}
