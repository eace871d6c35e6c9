package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

type runner interface {
	run(ctx context.Context) (bool, error)
}

// Supervisor restarts a Session from the bootstrapper after it fails, with exponential
// backoff. Errors that a restart cannot fix are returned.
type Supervisor struct {
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Logger     *slog.Logger

	session runner
	after   func(time.Duration) <-chan time.Time
}

func NewSupervisor(s *Session) *Supervisor {
	return &Supervisor{session: s, Logger: s.logger}
}

func (sv *Supervisor) Run(ctx context.Context) error {
	if sv.session == nil {
		return errors.New("gateway: session required")
	}
	minBackoff, maxBackoff := sv.MinBackoff, sv.MaxBackoff
	if minBackoff <= 0 {
		minBackoff = time.Second
	}
	if maxBackoff <= 0 {
		maxBackoff = 8 * time.Second
	}
	maxBackoff = max(maxBackoff, minBackoff)
	logger := sv.Logger
	if logger == nil {
		logger = slog.Default()
	}
	after := sv.after
	if after == nil {
		after = time.After
	}

	backoff := minBackoff
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		connected, err := sv.session.run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if !Retryable(err) {
			return err
		}
		logger.Warn("gateway session ended", "err", err, "connected", connected, "backoff", backoff)
		if connected {
			backoff = minBackoff
		}
		select {
		case <-ctx.Done():
			return nil
		case <-after(backoff):
		}
		if backoff < maxBackoff {
			backoff = min(backoff*2, maxBackoff)
		}
	}
}
