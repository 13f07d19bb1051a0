package live

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is one open message-framed connection. WriteMessage may be called
// concurrently with ReadMessage but not with itself.
type Transport interface {
	WriteMessage(data []byte) error
	ReadMessage() ([]byte, error)
	Close() error
	IsOpen() bool
}

// Dialer opens a Transport to endpoint, authorized by cred.
type Dialer interface {
	Dial(ctx context.Context, endpoint string, cred Credential) (Transport, error)
}

// DialError carries the HTTP status of a rejected websocket upgrade.
type DialError struct {
	StatusCode int
	Err        error
}

func (e *DialError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("dial: HTTP %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("dial: %v", e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

// WebSocketDialer dials with gorilla/websocket.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	CloseGrace       time.Duration
	ReadLimit        int64
	Header           http.Header
	TLSConfig        *tls.Config
}

// NewWebSocketDialer builds a dialer from the timeouts in cfg.
func NewWebSocketDialer(cfg *Config) *WebSocketDialer {
	d := &WebSocketDialer{
		HandshakeTimeout: DefaultDialTimeout,
		WriteTimeout:     DefaultWriteTimeout,
		CloseGrace:       time.Second,
		ReadLimit:        16 << 20,
	}
	if cfg != nil {
		if cfg.DialTimeout > 0 {
			d.HandshakeTimeout = cfg.DialTimeout
		}
		if cfg.WriteTimeout > 0 {
			d.WriteTimeout = cfg.WriteTimeout
		}
	}
	return d
}

func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string, cred Credential) (Transport, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, &DialError{Err: fmt.Errorf("parse endpoint: %w", err)}
	}
	header := http.Header{}
	for k, v := range d.Header {
		header[k] = append([]string(nil), v...)
	}
	if cred == nil {
		cred = NoCredential{}
	}
	if err := cred.Authorize(u, header); err != nil {
		return nil, &DialError{Err: err}
	}

	tlsConfig := d.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
		TLSClientConfig:  tlsConfig,
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		de := &DialError{Err: err}
		if resp != nil {
			de.StatusCode = resp.StatusCode
		}
		return nil, de
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}
	return newWSTransport(conn, d.WriteTimeout, d.CloseGrace), nil
}

type wsTransport struct {
	conn         *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
	closeGrace   time.Duration
	closeOnce    sync.Once
	closed       atomic.Bool
}

func newWSTransport(conn *websocket.Conn, writeTimeout, closeGrace time.Duration) *wsTransport {
	return &wsTransport{conn: conn, writeTimeout: writeTimeout, closeGrace: closeGrace}
}

func (t *wsTransport) WriteMessage(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.closed.Load() {
		return websocket.ErrCloseSent
	}
	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return err
		}
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// ReadMessage returns the next text or binary frame; the service sends JSON
// in either.
func (t *wsTransport) ReadMessage() ([]byte, error) {
	for {
		mt, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// Close waits for an in-flight write, sends a close frame and closes the socket.
func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		t.closed.Store(true)
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(t.closeGrace))
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}

func (t *wsTransport) IsOpen() bool {
	return !t.closed.Load()
}
