package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps one row per bot name in a session_checkpoints table.
type SQLiteStore struct {
	db   *sql.DB
	name string
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS session_checkpoints (
  name TEXT PRIMARY KEY,
  session_id TEXT NOT NULL,
  seq INTEGER NOT NULL,
  heartbeat_interval_ms INTEGER NOT NULL,
  updated_at_ms INTEGER NOT NULL
);
`

// sqlitePragmas are applied by the driver on every new connection.
var sqlitePragmas = []string{"busy_timeout(5000)", "journal_mode(WAL)", "synchronous(NORMAL)"}

func NewSQLiteStore(path, name string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path required")
	}
	if strings.TrimSpace(name) == "" {
		name = "default"
	}
	if dir := filepath.Dir(path); path != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("checkpoint dir: %w", err)
		}
	}

	q := url.Values{}
	for _, p := range sqlitePragmas {
		q.Add("_pragma", p)
	}
	db, err := sql.Open("sqlite", path+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	// One writer; a checkpoint row is rewritten every heartbeat.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("checkpoint schema: %w", err)
	}
	return &SQLiteStore{db: db, name: name}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (Checkpoint, bool, error) {
	var cp Checkpoint
	var updatedMS int64
	err := s.db.QueryRowContext(ctx, `
SELECT session_id, seq, heartbeat_interval_ms, updated_at_ms
FROM session_checkpoints
WHERE name = ?
`, s.name).Scan(&cp.SessionID, &cp.Sequence, &cp.HeartbeatIntervalMS, &updatedMS)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("load checkpoint %q: %w", s.name, err)
	}
	cp.UpdatedAt = time.UnixMilli(updatedMS)
	if err := cp.Validate(); err != nil {
		return Checkpoint{}, false, err
	}
	return cp, true, nil
}

func (s *SQLiteStore) Save(ctx context.Context, cp Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO session_checkpoints (name, session_id, seq, heartbeat_interval_ms, updated_at_ms)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
  session_id = excluded.session_id,
  seq = excluded.seq,
  heartbeat_interval_ms = excluded.heartbeat_interval_ms,
  updated_at_ms = excluded.updated_at_ms
`, s.name, cp.SessionID, cp.Sequence, cp.HeartbeatIntervalMS, cp.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save checkpoint %q: %w", s.name, err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_checkpoints WHERE name = ?`, s.name)
	return err
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
