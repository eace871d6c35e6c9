// Package checkpoint persists the resumable part of a gateway session so a restarted
// process can Resume instead of running a fresh handshake.
package checkpoint

import (
	"context"
	"errors"
	"strings"
	"time"
)

var ErrInvalidCheckpoint = errors.New("checkpoint: invalid checkpoint")

type Checkpoint struct {
	SessionID           string    `msgpack:"session_id"`
	Sequence            int64     `msgpack:"seq"`
	HeartbeatIntervalMS int64     `msgpack:"heartbeat_interval_ms"`
	UpdatedAt           time.Time `msgpack:"updated_at"`
}

func (c Checkpoint) Validate() error {
	if strings.TrimSpace(c.SessionID) == "" {
		return errors.Join(ErrInvalidCheckpoint, errors.New("missing session_id"))
	}
	if c.Sequence < 0 {
		return errors.Join(ErrInvalidCheckpoint, errors.New("negative sequence"))
	}
	if c.HeartbeatIntervalMS <= 0 {
		return errors.Join(ErrInvalidCheckpoint, errors.New("missing heartbeat_interval_ms"))
	}
	return nil
}

func (c Checkpoint) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMS) * time.Millisecond
}

// Store loads, saves and clears one checkpoint. Load reports ok=false when nothing is stored.
type Store interface {
	Load(ctx context.Context) (Checkpoint, bool, error)
	Save(ctx context.Context, cp Checkpoint) error
	Clear(ctx context.Context) error
	Close() error
}
