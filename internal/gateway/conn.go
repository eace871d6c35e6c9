package gateway

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

type inbound struct {
	data []byte
	err  error
}

// conn pairs one Transport with the goroutine that reads it. The reader only forwards
// frames; all session state stays with the goroutine running the loop.
type conn struct {
	id        string
	url       string
	t         Transport
	frames    chan inbound
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(t Transport, url string) *conn {
	c := &conn{
		id:     uuid.NewString(),
		url:    url,
		t:      t,
		frames: make(chan inbound),
		done:   make(chan struct{}),
	}
	go c.read()
	return c
}

func (c *conn) read() {
	for {
		data, err := c.t.ReadMessage()
		select {
		case c.frames <- inbound{data: data, err: err}:
		case <-c.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// next waits for one frame; a transport failure comes back as the error.
func (c *conn) next(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case in := <-c.frames:
		return in.data, in.err
	case <-c.done:
		return nil, errConnClosed
	}
}

func (c *conn) write(data []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	return c.t.WriteMessage(data)
}

func (c *conn) close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.t.Close()
	})
}

var errConnClosed = errors.New("connection closed")
