package gateway

import "time"

type phase int

const (
	phaseActive phase = iota
	// phaseResumePending lasts from sending Resume until RESUMED arrives.
	phaseResumePending
)

func (p phase) String() string {
	if p == phaseResumePending {
		return "resume-pending"
	}
	return "active"
}

// State is owned by the goroutine running the session loop and is never shared.
type State struct {
	Sequence          int64
	HeartbeatInterval time.Duration
	SessionID         string
	HeartbeatAcked    bool

	phase phase
}

// Snapshot is a read-only copy of State published for status reporting.
type Snapshot struct {
	SessionID           string    `json:"session_id"`
	Sequence            int64     `json:"seq"`
	HeartbeatIntervalMS int64     `json:"heartbeat_interval_ms"`
	HeartbeatAcked      bool      `json:"heartbeat_acked"`
	Phase               string    `json:"phase"`
	Connected           bool      `json:"connected"`
	ConnID              string    `json:"conn_id,omitempty"`
	LastHeartbeatAck    time.Time `json:"last_heartbeat_ack,omitzero"`
	Reconnects          int       `json:"reconnects"`
}

func (s *Session) Snapshot() Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap
}

func (s *Session) publish(st *State, c *conn) {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	s.snap.SessionID = st.SessionID
	s.snap.Sequence = st.Sequence
	s.snap.HeartbeatIntervalMS = st.HeartbeatInterval.Milliseconds()
	s.snap.HeartbeatAcked = st.HeartbeatAcked
	s.snap.Phase = st.phase.String()
	s.snap.Connected = c != nil
	s.snap.ConnID = ""
	if c != nil {
		s.snap.ConnID = c.id
	}
}

func (s *Session) noteAck() {
	s.snapMu.Lock()
	s.snap.LastHeartbeatAck = time.Now()
	s.snapMu.Unlock()
}

func (s *Session) noteReconnect() {
	s.snapMu.Lock()
	s.snap.Reconnects++
	s.snapMu.Unlock()
}

func (s *Session) markDisconnected() {
	s.snapMu.Lock()
	s.snap.Connected = false
	s.snap.ConnID = ""
	s.snapMu.Unlock()
}
