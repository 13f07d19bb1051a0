// Package livetest provides a scripted in-process live server for tests and demos.
package livetest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rojolang/bidi-live-go/pkg/live"
)

// Script drives one accepted connection. The connection is closed when the
// script returns.
type Script func(c *Conn)

// RequestInfo records the upgrade request of one connection.
type RequestInfo struct {
	Header http.Header
	Query  url.Values
}

// Server is an httptest server speaking the live protocol.
type Server struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	script   Script

	mu       sync.Mutex
	requests []RequestInfo
	conns    []*Conn
	wg       sync.WaitGroup
}

// NewServer starts a server running script for every connection.
func NewServer(script Script) *Server {
	s := &Server{script: script}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &Conn{ws: ws, header: r.Header.Clone(), query: r.URL.Query()}

	s.mu.Lock()
	s.requests = append(s.requests, RequestInfo{Header: c.header, Query: c.query})
	s.conns = append(s.conns, c)
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	if s.script != nil {
		s.script(c)
	}
	_ = c.Close()
}

// URL is the ws:// address of the server.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// Requests returns the upgrade requests seen so far.
func (s *Server) Requests() []RequestInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RequestInfo(nil), s.requests...)
}

// Close drops every connection and stops the server.
func (s *Server) Close() {
	s.mu.Lock()
	conns := append([]*Conn(nil), s.conns...)
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Drop()
	}
	s.srv.Close()
	s.wg.Wait()
}

// Config returns a session config aimed at the server with short timeouts
// and no credentials.
func (s *Server) Config(modalities ...live.Modality) *live.Config {
	cfg := live.DefaultConfig()
	cfg.Endpoint = s.URL()
	cfg.AuthMode = live.AuthNone
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.DialTimeout = 2 * time.Second
	cfg.WriteTimeout = 2 * time.Second
	cfg.ChunkInterval = 10 * time.Millisecond
	cfg.LogLevel = "disabled"
	if len(modalities) > 0 {
		cfg.Modalities = modalities
	}
	return cfg
}

// Conn is the server side of one connection. Methods other than Close and
// Drop must be called from the script goroutine only.
type Conn struct {
	ws     *websocket.Conn
	header http.Header
	query  url.Values

	closeOnce sync.Once
}

// Header is the upgrade request header.
func (c *Conn) Header() http.Header { return c.header }

// Query is the upgrade request query.
func (c *Conn) Query() url.Values { return c.query }

// ReadRaw returns the next data frame.
func (c *Conn) ReadRaw() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

// ReadEnvelope reads and decodes the next client envelope.
func (c *Conn) ReadEnvelope() (live.OutboundEnvelope, error) {
	data, err := c.ReadRaw()
	if err != nil {
		return nil, err
	}
	return live.DecodeOutbound(data)
}

// Send encodes env and writes it as a text frame.
func (c *Conn) Send(envs ...live.InboundEnvelope) error {
	for _, env := range envs {
		data, err := live.EncodeInbound(env)
		if err != nil {
			return err
		}
		if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			return err
		}
	}
	return nil
}

// SendBinary writes env as a binary frame, as the hosted service does.
func (c *Conn) SendBinary(env live.InboundEnvelope) error {
	data, err := live.EncodeInbound(env)
	if err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

// SendRaw writes data unchanged as a text frame.
func (c *Conn) SendRaw(data []byte) error {
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Handshake expects Setup and answers with SetupComplete.
func (c *Conn) Handshake() (*live.Setup, error) {
	env, err := c.ReadEnvelope()
	if err != nil {
		return nil, err
	}
	setup, ok := env.(*live.Setup)
	if !ok {
		return nil, fmt.Errorf("livetest: expected setup, got %s", env.Kind())
	}
	if err := c.Send(&live.SetupComplete{}); err != nil {
		return nil, err
	}
	return setup, nil
}

// ReadUntilTurnComplete reads client envelopes up to and including the
// end-of-turn marker.
func (c *Conn) ReadUntilTurnComplete() ([]live.OutboundEnvelope, error) {
	var got []live.OutboundEnvelope
	for {
		env, err := c.ReadEnvelope()
		if err != nil {
			return got, err
		}
		got = append(got, env)
		if cc, ok := env.(*live.ClientContent); ok && cc.TurnComplete {
			return got, nil
		}
	}
}

// WaitClosed reads until the client goes away and reports whether it sent
// a normal close frame.
func (c *Conn) WaitClosed() bool {
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return websocket.IsCloseError(err, websocket.CloseNormalClosure)
		}
	}
}

// Close sends a normal close frame and closes the connection.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

// Drop closes the socket without a close frame.
func (c *Conn) Drop() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.ws.Close()
	})
	return err
}
