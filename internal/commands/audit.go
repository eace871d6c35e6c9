package commands

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/foobles/discord-bot/internal/protocol"
)

const (
	outcomeOK        = "ok"
	outcomeUsage     = "usage"
	outcomeThrottled = "throttled"
	outcomeDenied    = "denied"
	outcomeFailed    = "failed"
)

// AuditEvent is one JSON line per command invocation.
type AuditEvent struct {
	TsMS      int64              `json:"ts_ms"`
	UserID    protocol.Snowflake `json:"user_id"`
	Username  string             `json:"username,omitempty"`
	ChannelID protocol.Snowflake `json:"channel_id"`
	Command   string             `json:"command"`
	Args      []string           `json:"args,omitempty"`
	Outcome   string             `json:"outcome"`
	Error     string             `json:"error,omitempty"`
}

// AuditLog appends command invocations to a JSONL file. A nil *AuditLog records nothing.
type AuditLog struct {
	mu   sync.Mutex
	file *os.File
}

func OpenAuditLog(path string) (*AuditLog, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &AuditLog{file: f}, nil
}

func (a *AuditLog) Close() error {
	if a == nil || a.file == nil {
		return nil
	}
	return a.file.Close()
}

func (a *AuditLog) record(msg *protocol.Message, name string, args []string, outcome string, err error) {
	if a == nil || a.file == nil {
		return
	}
	ev := AuditEvent{
		TsMS:      time.Now().UnixMilli(),
		UserID:    msg.Author.ID,
		Username:  msg.Author.Username,
		ChannelID: msg.ChannelID,
		Command:   name,
		Args:      args,
		Outcome:   outcome,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	line, merr := json.Marshal(ev)
	if merr != nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	_, _ = a.file.Write(append(line, '\n'))
}
