package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is one open streaming connection carrying text frames.
// ReadMessage and WriteMessage are each called from a single goroutine.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// closeResumable is sent when we drop a connection on purpose. Codes 1000 and 1001
// would end the session server-side and make the following Resume fail.
const closeResumable = 4000

// WebsocketDialer opens TLS websocket connections.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	TLSConfig        *tls.Config
}

func (d WebsocketDialer) Dial(ctx context.Context, rawURL string) (Transport, error) {
	hs := d.HandshakeTimeout
	if hs <= 0 {
		hs = 10 * time.Second
	}
	wt := d.WriteTimeout
	if wt <= 0 {
		wt = 10 * time.Second
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: hs,
		TLSClientConfig:  d.TLSConfig,
	}
	header := http.Header{}
	header.Set("User-Agent", "discord-bot (gateway)")
	conn, _, err := dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		return nil, err
	}
	return &wsTransport{conn: conn, writeTimeout: wt}, nil
}

type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
	closeOnce    sync.Once
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, classifyClose(err)
	}
	return data, nil
}

func (t *wsTransport) WriteMessage(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		msg := websocket.FormatCloseMessage(closeResumable, "reconnecting")
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}

func classifyClose(err error) error {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return err
	}
	switch ce.Code {
	case 4004:
		return fmt.Errorf("%w: close %d %s", ErrAuthenticationFailed, ce.Code, ce.Text)
	case 4010, 4011, 4012, 4013, 4014:
		return fmt.Errorf("%w: close %d %s", ErrSessionRejected, ce.Code, ce.Text)
	default:
		return err
	}
}

// gatewayURL appends the protocol version and encoding to the resolved endpoint.
// http and https endpoints are mapped to their websocket schemes.
func gatewayURL(base, version string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("v", version)
	q.Set("encoding", "json")
	u.RawQuery = q.Encode()
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}
