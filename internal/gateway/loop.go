package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/foobles/discord-bot/internal/protocol"
)

type action int

const (
	actionNone action = iota
	actionHeartbeat
	actionResume
	actionIdentify
)

// loop is the steady state: each iteration handles exactly one of the heartbeat timer,
// the next inbound frame, a queued presence update or cancellation.
func (s *Session) loop(ctx context.Context, c *conn, st *State) error {
	defer func() {
		c.close()
		s.markDisconnected()
	}()

	timer := time.NewTimer(st.HeartbeatInterval)
	defer timer.Stop()

	var err error
	for {
		s.publish(st, c)

		var next action
		select {
		case <-ctx.Done():
			return ctx.Err()

		case p := <-s.presence:
			if err := s.send(c, p); err != nil {
				s.logger.Warn("gateway presence update failed", "err", err, "conn_id", c.id)
				next = actionResume
				break
			}
			s.status = &p

		case <-timer.C:
			if !st.HeartbeatAcked {
				s.cfg.Metrics.missedAck()
				s.logger.Warn("gateway heartbeat ack missed, reconnecting",
					"session_id", st.SessionID, "interval", st.HeartbeatInterval, "conn_id", c.id)
				next = actionResume
				break
			}
			if err := s.heartbeat(c, st); err != nil {
				s.logger.Warn("gateway heartbeat send failed", "err", err, "conn_id", c.id)
				next = actionResume
				break
			}
			st.HeartbeatAcked = false
			s.saveCheckpoint(ctx, st)
			timer.Reset(st.HeartbeatInterval)

		case in := <-c.frames:
			if in.err != nil {
				if errors.Is(in.err, ErrAuthenticationFailed) || errors.Is(in.err, ErrSessionRejected) {
					return &ConnectionError{Op: "receive", URL: c.url, Err: in.err}
				}
				s.logger.Warn("gateway transport closed, resuming",
					"err", in.err, "session_id", st.SessionID, "seq", st.Sequence, "conn_id", c.id)
				next = actionResume
				break
			}
			next = s.handleFrame(ctx, c, st, in.data)
		}

		switch next {
		case actionHeartbeat:
			if err := s.heartbeat(c, st); err != nil {
				s.logger.Warn("gateway heartbeat send failed", "err", err, "conn_id", c.id)
				c, err = s.reopen(ctx, c, st)
				if err != nil {
					return err
				}
				timer.Reset(st.HeartbeatInterval)
			}
		case actionResume:
			c, err = s.reopen(ctx, c, st)
			if err != nil {
				return err
			}
			timer.Reset(st.HeartbeatInterval)
		case actionIdentify:
			c.close()
			s.markDisconnected()
			s.noteReconnect()
			s.cfg.Metrics.reconnect("identify")
			var fresh *State
			c, fresh, err = s.fresh(ctx)
			if err != nil {
				return err
			}
			*st = *fresh
			timer.Reset(st.HeartbeatInterval)
		}
	}
}

// reopen closes c and resumes st on a new transport. On failure the returned conn is nil
// and the caller must stop.
func (s *Session) reopen(ctx context.Context, c *conn, st *State) (*conn, error) {
	c.close()
	s.markDisconnected()
	s.noteReconnect()
	nc, err := s.resume(ctx, st)
	if err != nil {
		return nil, err
	}
	return nc, nil
}

func (s *Session) heartbeat(c *conn, st *State) error {
	if err := s.send(c, protocol.HeartbeatAt(st.Sequence)); err != nil {
		return err
	}
	s.cfg.Metrics.heartbeat()
	s.logger.Debug("gateway heartbeat sent", "seq", st.Sequence, "conn_id", c.id)
	return nil
}

// handleFrame applies one inbound frame to st. Decode and handler failures never
// stop the loop.
func (s *Session) handleFrame(ctx context.Context, c *conn, st *State, data []byte) action {
	ev, err := s.cfg.Decoder.Decode(data)
	if err != nil {
		s.cfg.Metrics.decodeError()
		s.logger.Warn("gateway frame dropped", "err", err, "conn_id", c.id)
		return actionNone
	}

	switch e := ev.(type) {
	case *protocol.Dispatch:
		s.cfg.Metrics.frame(protocol.OpDispatch.String())
		if e.Sequence != st.Sequence+1 {
			s.cfg.Metrics.sequenceGap()
			s.logger.Warn("gateway sequence gap", "previous", st.Sequence, "got", e.Sequence, "event", e.Type)
		}
		st.Sequence = e.Sequence
		s.cfg.Metrics.setSequence(st.Sequence)
		next := actionNone
		if e.Type == protocol.EventResumed && st.phase == phaseResumePending {
			st.phase = phaseActive
			s.logger.Info("gateway session resumed", "session_id", st.SessionID, "seq", st.Sequence, "conn_id", c.id)
			if s.status != nil {
				if err := s.send(c, *s.status); err != nil {
					s.logger.Warn("gateway presence update failed", "err", err, "conn_id", c.id)
					next = actionResume
				}
			}
		}
		s.dispatch(ctx, e)
		return next

	case protocol.HeartbeatAck:
		s.cfg.Metrics.frame(protocol.OpHeartbeatAck.String())
		st.HeartbeatAcked = true
		s.noteAck()
		s.logger.Debug("gateway heartbeat acknowledged", "conn_id", c.id)
		return actionNone

	case protocol.HeartbeatRequest:
		s.cfg.Metrics.frame(protocol.OpHeartbeat.String())
		return actionHeartbeat

	case protocol.Reconnect:
		s.cfg.Metrics.frame(protocol.OpReconnect.String())
		s.logger.Info("gateway reconnect requested", "session_id", st.SessionID, "conn_id", c.id)
		return actionResume

	case protocol.InvalidSession:
		s.cfg.Metrics.frame(protocol.OpInvalidSession.String())
		if !e.Resumable {
			s.logger.Warn("gateway session invalidated, identifying again",
				"session_id", st.SessionID, "phase", st.phase.String(), "conn_id", c.id)
			return actionIdentify
		}
		s.logger.Warn("gateway invalid session (resumable)", "session_id", st.SessionID, "conn_id", c.id)
		return actionNone

	case *protocol.Hello:
		s.cfg.Metrics.frame(protocol.OpHello.String())
		s.logger.Debug("gateway hello after resume", "heartbeat_interval_ms", e.HeartbeatInterval, "conn_id", c.id)
		return actionNone
	}
	return actionNone
}
