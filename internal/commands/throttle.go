package commands

import (
	"sync"
	"time"

	"github.com/foobles/discord-bot/internal/protocol"
)

type window struct {
	start time.Time
	count int
}

// Throttle caps how many commands one user may run per fixed window.
type Throttle struct {
	mu      sync.Mutex
	limit   int
	every   time.Duration
	windows map[protocol.Snowflake]window
	now     func() time.Time
}

func NewThrottle(limit int, every time.Duration) *Throttle {
	if limit <= 0 {
		limit = 20
	}
	if every <= 0 {
		every = time.Minute
	}
	return &Throttle{
		limit:   limit,
		every:   every,
		windows: make(map[protocol.Snowflake]window),
		now:     time.Now,
	}
}

// Take counts one command for user. When the user is over the limit it returns false
// and how long until their window reopens.
func (t *Throttle) Take(user protocol.Snowflake) (bool, time.Duration) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.windows[user]
	if w.start.IsZero() || now.Sub(w.start) >= t.every {
		t.windows[user] = window{start: now, count: 1}
		t.sweep(now)
		return true, 0
	}
	if w.count >= t.limit {
		return false, w.start.Add(t.every).Sub(now)
	}
	w.count++
	t.windows[user] = w
	return true, 0
}

// sweep drops expired windows once the map grows past a few hundred users.
func (t *Throttle) sweep(now time.Time) {
	if len(t.windows) < 512 {
		return
	}
	for user, w := range t.windows {
		if now.Sub(w.start) >= t.every {
			delete(t.windows, user)
		}
	}
}
