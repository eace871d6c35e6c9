package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/foobles/discord-bot/internal/protocol"
	"github.com/foobles/discord-bot/internal/rest"
)

type fakeTransport struct {
	in      chan []byte
	sentCh  chan []byte
	closed  chan struct{}
	once    sync.Once
	autoAck bool
	// readErr replaces io.EOF once in is closed.
	readErr error

	mu   sync.Mutex
	sent [][]byte
}

func newFakeTransport(frames ...string) *fakeTransport {
	ft := &fakeTransport{
		in:     make(chan []byte, 32),
		sentCh: make(chan []byte, 64),
		closed: make(chan struct{}),
	}
	for _, f := range frames {
		ft.in <- []byte(f)
	}
	return ft
}

func (ft *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case data, ok := <-ft.in:
		if !ok {
			if ft.readErr != nil {
				return nil, ft.readErr
			}
			return nil, io.EOF
		}
		return data, nil
	case <-ft.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (ft *fakeTransport) WriteMessage(data []byte) error {
	select {
	case <-ft.closed:
		return errors.New("use of closed connection")
	default:
	}
	cp := append([]byte(nil), data...)
	ft.mu.Lock()
	ft.sent = append(ft.sent, cp)
	ft.mu.Unlock()
	select {
	case ft.sentCh <- cp:
	default:
	}
	if ft.autoAck && opOf(cp) == protocol.OpHeartbeat {
		go func() {
			select {
			case ft.in <- []byte(`{"op":11,"d":null}`):
			case <-ft.closed:
			}
		}()
	}
	return nil
}

func (ft *fakeTransport) Close() error {
	ft.once.Do(func() { close(ft.closed) })
	return nil
}

func (ft *fakeTransport) isClosed() bool {
	select {
	case <-ft.closed:
		return true
	default:
		return false
	}
}

func (ft *fakeTransport) push(frame string) {
	ft.in <- []byte(frame)
}

type sentFrame struct {
	Op protocol.Opcode `json:"op"`
	D  json.RawMessage `json:"d"`
}

func opOf(data []byte) protocol.Opcode {
	var f sentFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return -1
	}
	return f.Op
}

// waitSent returns the next frame the session wrote to ft.
func waitSent(t *testing.T, ft *fakeTransport) sentFrame {
	t.Helper()
	select {
	case data := <-ft.sentCh:
		var f sentFrame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("sent frame %q: %v", data, err)
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a sent frame")
		return sentFrame{}
	}
}

type fakeDialer struct {
	mu    sync.Mutex
	queue []*fakeTransport
	urls  []string
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if len(d.queue) == 0 {
		return nil, errors.New("no transport left")
	}
	ft := d.queue[0]
	d.queue = d.queue[1:]
	return ft, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

type recordingHandler struct {
	got chan protocol.DispatchPayload
	err error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{got: make(chan protocol.DispatchPayload, 32)}
}

func (h *recordingHandler) HandleDispatch(_ context.Context, p protocol.DispatchPayload, _ *rest.Client) error {
	h.got <- p
	if _, ok := p.(*protocol.MessageCreate); ok {
		return h.err
	}
	return nil
}

func (h *recordingHandler) wait(t *testing.T, eventType string) protocol.DispatchPayload {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case p := <-h.got:
			if p.EventType() == eventType {
				return p
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", eventType)
			return nil
		}
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newBootstrapClient(t *testing.T) *rest.Client {
	t.Helper()
	return newBootstrapClientWith(t, `{"url":"wss://gateway.test","shards":1}`)
}

// newBootstrapClientWith serves body from gateway/bot.
func newBootstrapClientWith(t *testing.T, body string) *rest.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/gateway/bot") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	c, err := rest.NewClient(rest.Config{BaseURL: srv.URL + "/api", Token: "secret"})
	if err != nil {
		t.Fatalf("rest client: %v", err)
	}
	return c
}

type sessionFixture struct {
	session *Session
	dialer  *fakeDialer
	handler *recordingHandler
	logs    *syncBuffer
}

func newSessionFixture(t *testing.T, cfg Config, transports ...*fakeTransport) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		dialer:  &fakeDialer{queue: transports},
		handler: newRecordingHandler(),
		logs:    &syncBuffer{},
	}
	cfg.Token = "secret"
	cfg.Intents = protocol.IntentGuildMessages | protocol.IntentDirectMessages
	cfg.Dialer = f.dialer
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.Logger = slog.New(slog.NewTextHandler(f.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s, err := NewSession(cfg, newBootstrapClient(t), f.handler)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	f.session = s
	return f
}

// run starts Session.Run and returns a stop func that cancels it and yields its error.
func (f *sessionFixture) run(t *testing.T) (stop func() error, done <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- f.session.Run(ctx) }()
	t.Cleanup(cancel)
	return func() error {
		cancel()
		select {
		case err := <-errc:
			return err
		case <-time.After(2 * time.Second):
			t.Fatalf("session did not stop")
			return nil
		}
	}, errc
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func hello(ms int) string {
	return `{"op":10,"d":{"heartbeat_interval":` + itoa(int64(ms)) + `}}`
}

func ready(seq int64, sessionID string) string {
	return `{"op":0,"s":` + itoa(seq) + `,"t":"READY","d":{"session_id":"` + sessionID + `","user":{"id":"42","username":"eg","discriminator":"0001","bot":true}}}`
}

func messageCreate(seq int64, content string) string {
	return `{"op":0,"s":` + itoa(seq) + `,"t":"MESSAGE_CREATE","d":{"id":"900","channel_id":"7","content":"` + content + `","author":{"id":"1","username":"someone"}}}`
}

func resumed(seq int64) string {
	return `{"op":0,"s":` + itoa(seq) + `,"t":"RESUMED","d":{}}`
}

func itoa(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
