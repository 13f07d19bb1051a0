package live

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Option configures a Session.
type Option func(*Session)

// WithDialer replaces the default websocket dialer.
func WithDialer(d Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

// WithLogger sets the base logger. The session adds its own component and id fields.
func WithLogger(l *Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithMetrics records session activity on m.
func WithMetrics(m *Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithCredential overrides the credential derived from the config.
func WithCredential(c Credential) Option {
	return func(s *Session) { s.cred = c }
}

// WithStateHandler registers a state handler before the session starts.
func WithStateHandler(h StateHandler) Option {
	return func(s *Session) { s.AddStateHandler(h) }
}

type outboundMsg struct {
	env       OutboundEnvelope
	endOfTurn bool
}

type inboundFrame struct {
	env  InboundEnvelope
	size int
	// markers is the number of end-of-turn markers handed to the transport
	// when the frame was read.
	markers uint64
}

type stateHandlerEntry struct {
	id int
	h  StateHandler
}

// Session is one live conversation over a single transport. Turns run one at
// a time: SendTurn is only accepted in Ready.
type Session struct {
	cfg     *Config
	id      string
	dialer  Dialer
	cred    Credential
	log     *Logger
	metrics *Metrics
	pacer   *Pacer

	mu            sync.Mutex
	state         State
	err           error
	turns         int
	started       uint64
	active        *Turn
	transport     Transport
	handlers      []stateHandlerEntry
	nextHandlerID int
	connectedAt   time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	group     errgroup.Group
	writeCh   chan outboundMsg
	frames    chan inboundFrame
	markers   atomic.Uint64
	closeOnce sync.Once
}

// NewSession validates cfg and builds a Disconnected session. A nil cfg is
// read from the environment.
func NewSession(cfg *Config, opts ...Option) (*Session, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if issues := cfg.validateSession(); len(issues) > 0 {
		return nil, NewError(ErrCodeConfigInvalid, strings.Join(issues, "; ")).AddDetail("issues", issues)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:     cfg,
		id:      uuid.NewString(),
		state:   Disconnected,
		pacer:   NewPacer(cfg.ChunkInterval),
		ctx:     ctx,
		cancel:  cancel,
		writeCh: make(chan outboundMsg, cfg.SendBuffer),
		frames:  make(chan inboundFrame, cfg.ReceiveBuffer),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.log == nil {
		s.log = GetGlobalLogger()
	}
	s.log = s.log.WithComponent("session").WithField("session_id", s.id)
	if s.dialer == nil {
		s.dialer = NewWebSocketDialer(cfg)
	}
	if s.cred == nil {
		cred, err := cfg.Credential()
		if err != nil {
			cancel()
			return nil, err
		}
		s.cred = cred
	}
	return s, nil
}

// ID is a random identifier used to correlate logs.
func (s *Session) ID() string { return s.id }

// Config returns the session configuration. It must not be modified.
func (s *Session) Config() *Config { return s.cfg }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TurnCount is the number of turns that completed with a TurnComplete.
func (s *Session) TurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turns
}

// Err returns the error that moved the session to Failed, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the session is Closed or Failed.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// AddStateHandler registers h and returns a function that removes it.
// Handlers run synchronously on the goroutine causing the transition.
func (s *Session) AddStateHandler(h StateHandler) func() {
	if h == nil {
		return func() {}
	}
	s.mu.Lock()
	id := s.nextHandlerID
	s.nextHandlerID++
	s.handlers = append(s.handlers, stateHandlerEntry{id: id, h: h})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, e := range s.handlers {
			if e.id == id {
				s.handlers = append(s.handlers[:i], s.handlers[i+1:]...)
				return
			}
		}
	}
}

// setStateLocked must be called with mu held. The returned function notifies
// the handlers and must be called after mu is released.
func (s *Session) setStateLocked(to State) func() {
	from := s.state
	if from == to {
		return func() {}
	}
	s.state = to
	handlers := make([]StateHandler, len(s.handlers))
	for i, e := range s.handlers {
		handlers[i] = e.h
	}
	return func() {
		s.log.LogStateChange(from, to)
		for _, h := range handlers {
			h(from, to)
		}
	}
}

// transition moves from -> to if the session is still in from.
func (s *Session) transition(from, to State) bool {
	s.mu.Lock()
	if s.state != from {
		s.mu.Unlock()
		return false
	}
	notify := s.setStateLocked(to)
	s.mu.Unlock()
	notify()
	return true
}

// fail moves the session to Failed with err and tears the connection down.
// Only the first failure is kept.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	wasActive := !s.connectedAt.IsZero()
	s.err = err
	notify := s.setStateLocked(Failed)
	tr := s.transport
	s.mu.Unlock()

	notify()
	s.log.LogError(err)
	s.metrics.recordError(err)
	if wasActive {
		s.metrics.recordSessionEnd()
	}
	s.cancel()
	if tr != nil {
		_ = tr.Close()
	}
}

func (s *Session) stateError(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Closed:
		return NewError(ErrCodeSessionClosed, op+": session closed")
	case Failed:
		e := NewError(ErrCodeInvalidState, op+": session failed")
		e.Err = s.err
		return e
	}
	return NewError(ErrCodeInvalidState, op+": not allowed in state "+string(s.state)).
		AddDetail("state", string(s.state))
}

// terminalErr is the error reported once the inbound stream has ended.
func (s *Session) terminalErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	return NewError(ErrCodeSessionClosed, "session closed")
}

// Connect dials the endpoint, sends Setup and waits for SetupComplete. Any
// failure leaves the session Failed; there is no retry.
func (s *Session) Connect(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "live.Connect")
	span.SetAttributes(
		attribute.String("live.session_id", s.id),
		attribute.String("live.model", NormalizeModel(s.cfg.Model)),
	)
	defer func() { endSpan(span, err) }()

	s.mu.Lock()
	if s.state != Disconnected {
		s.mu.Unlock()
		return s.stateError("connect")
	}
	notify := s.setStateLocked(Connecting)
	s.mu.Unlock()
	notify()

	start := time.Now()
	tr, err := s.dialer.Dial(ctx, s.cfg.Endpoint, s.cred)
	if err != nil {
		e := newErrorf(ErrCodeConnect, err, "dial failed")
		if ctx.Err() != nil {
			e = newErrorf(ErrCodeCanceled, ctx.Err(), "dial canceled")
		}
		var de *DialError
		if errors.As(err, &de) && de.StatusCode != 0 {
			e.AddDetail("status", de.StatusCode)
		}
		s.fail(e)
		return s.connectErr(e)
	}

	s.mu.Lock()
	if s.state != Connecting {
		// Closed while dialing.
		s.mu.Unlock()
		_ = tr.Close()
		return s.stateError("connect")
	}
	s.transport = tr
	s.group.Go(s.readLoop)
	s.group.Go(s.writeLoop)
	s.mu.Unlock()
	s.log.Info("Connected")

	setup := NewSetup(s.cfg.Model, s.cfg.Modalities, s.cfg.EnableTranscription)
	if err := s.enqueue(ctx, outboundMsg{env: setup}); err != nil {
		e := WrapError(err, ErrCodeCanceled)
		s.fail(e)
		return s.connectErr(e)
	}
	s.transition(Connecting, AwaitingSetupComplete)

	timer := time.NewTimer(s.cfg.HandshakeTimeout)
	defer timer.Stop()

	select {
	case f, ok := <-s.frames:
		if !ok {
			return s.terminalErr()
		}
		if _, isSetup := f.env.(*SetupComplete); !isSetup {
			e := NewError(ErrCodeUnexpectedMessage, "expected setup complete, got "+f.env.Kind()).
				AddDetail("kind", f.env.Kind())
			s.fail(e)
			return e
		}
	case <-timer.C:
		e := NewError(ErrCodeHandshakeTimeout, "no setup complete within "+s.cfg.HandshakeTimeout.String())
		s.fail(e)
		return e
	case <-ctx.Done():
		e := newErrorf(ErrCodeCanceled, ctx.Err(), "handshake canceled")
		s.fail(e)
		return s.connectErr(e)
	}

	s.mu.Lock()
	if s.state != AwaitingSetupComplete {
		s.mu.Unlock()
		return s.stateError("connect")
	}
	s.connectedAt = time.Now()
	notify = s.setStateLocked(Ready)
	s.mu.Unlock()
	notify()

	s.metrics.recordHandshake(time.Since(start))
	s.log.Info("Setup complete")
	return nil
}

// connectErr reports e unless the session was closed concurrently.
func (s *Session) connectErr(e error) error {
	if s.State() == Closed {
		return s.stateError("connect")
	}
	return e
}

// SendTurn starts a turn. Media chunks are paced and sent first, then the
// end-of-turn marker carrying the text. Sending runs in the background;
// the caller drains the response with Turn.Receive or Turn.Wait.
func (s *Session) SendTurn(ctx context.Context, in TurnInput, opts ...TurnOption) (*Turn, error) {
	if in.empty() {
		return nil, NewError(ErrCodeInvalidInput, "turn has neither text nor media")
	}

	s.mu.Lock()
	if s.state != Ready {
		s.mu.Unlock()
		return nil, s.stateError("send turn")
	}
	s.started++
	t := newTurn(ctx, s, s.started, in, opts)
	s.active = t
	notify := s.setStateLocked(Streaming)
	s.mu.Unlock()
	notify()

	go t.send(ctx)
	return t, nil
}

// ActiveTurn returns the turn in progress, or nil.
func (s *Session) ActiveTurn() *Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Receive yields the envelopes of the active turn; see Turn.Receive.
func (s *Session) Receive(ctx context.Context) iter.Seq2[InboundEnvelope, error] {
	return func(yield func(InboundEnvelope, error) bool) {
		t := s.ActiveTurn()
		if t == nil {
			yield(nil, s.stateError("receive"))
			return
		}
		t.Receive(ctx)(yield)
	}
}

// Close releases the session in any state. It is idempotent and always
// returns nil. An in-flight write is finished before the close frame.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		notify := func() {}
		wasReady := false
		if !s.state.Terminal() {
			wasReady = !s.connectedAt.IsZero()
			notify = s.setStateLocked(Closed)
		}
		tr := s.transport
		active := s.active
		s.mu.Unlock()
		notify()

		s.cancel()
		if tr != nil {
			_ = tr.Close()
		}
		_ = s.group.Wait()
		if active != nil {
			active.finish(s.terminalErr())
		}
		if wasReady {
			s.metrics.recordSessionEnd()
		}
		s.log.Info("Session closed")
	})
	return nil
}

// enqueue hands m to the writer.
func (s *Session) enqueue(ctx context.Context, m outboundMsg) error {
	select {
	case <-s.ctx.Done():
		return s.terminalErr()
	default:
	}
	select {
	case s.writeCh <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return s.terminalErr()
	}
}

func (s *Session) readLoop() error {
	defer close(s.frames)
	for {
		data, err := s.transport.ReadMessage()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			e := newErrorf(ErrCodeConnectionLost, err, "read failed")
			s.fail(e)
			return e
		}
		markers := s.markers.Load()

		env, err := Decode(data)
		if err != nil {
			e := newErrorf(ErrCodeDecodeMalformed, err, "decode inbound frame").AddDetail("bytes", len(data))
			s.fail(e)
			return e
		}
		s.log.LogEnvelope("inbound", env.Kind(), len(data))
		s.metrics.recordReceived(env)

		select {
		case s.frames <- inboundFrame{env: env, size: len(data), markers: markers}:
		case <-s.ctx.Done():
			return nil
		}
	}
}

func (s *Session) writeLoop() error {
	for {
		select {
		case <-s.ctx.Done():
			return nil
		case m := <-s.writeCh:
			data, err := Encode(m.env)
			if err != nil {
				s.log.WithError(err).Error("Dropping unencodable envelope")
				continue
			}
			if m.endOfTurn {
				// State first: a TurnComplete counted against this marker
				// must find the session awaiting it.
				s.transition(Streaming, AwaitingTurnComplete)
				s.markers.Add(1)
			}
			if err := s.transport.WriteMessage(data); err != nil {
				if s.ctx.Err() != nil {
					return nil
				}
				e := newErrorf(ErrCodeConnectionLost, err, "write failed")
				s.fail(e)
				return e
			}
			s.log.LogEnvelope("outbound", m.env.Kind(), len(data))
			s.metrics.recordSent(m.env)
		}
	}
}

// endTurn is called exactly once per turn.
func (s *Session) endTurn(t *Turn, err error) {
	s.mu.Lock()
	if s.active == t {
		s.active = nil
	}
	notify := func() {}
	if err == nil {
		s.turns++
		if s.state == AwaitingTurnComplete || s.state == Streaming {
			notify = s.setStateLocked(Ready)
		}
	}
	s.mu.Unlock()
	notify()
	s.metrics.recordTurn(err, time.Since(t.startedAt))
}
