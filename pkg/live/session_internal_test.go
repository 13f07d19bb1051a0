package live

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeTransport hands written frames to the test and reads scripted ones.
type pipeTransport struct {
	in        chan []byte
	out       chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newPipeTransport() *pipeTransport {
	return &pipeTransport{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (p *pipeTransport) WriteMessage(data []byte) error {
	select {
	case <-p.closed:
		return errors.New("closed")
	case p.out <- data:
		return nil
	}
}

func (p *pipeTransport) ReadMessage() ([]byte, error) {
	select {
	case <-p.closed:
		return nil, errors.New("closed")
	case data := <-p.in:
		return data, nil
	}
}

func (p *pipeTransport) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func (p *pipeTransport) IsOpen() bool {
	select {
	case <-p.closed:
		return false
	default:
		return true
	}
}

type pipeDialer struct{ tr *pipeTransport }

func (d pipeDialer) Dial(context.Context, string, Credential) (Transport, error) {
	return d.tr, nil
}

func pipeSession(t *testing.T, opts ...Option) (*Session, *pipeTransport) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Endpoint = "ws://pipe"
	cfg.AuthMode = AuthNone
	tr := newPipeTransport()
	s, err := NewSession(cfg, append([]Option{WithDialer(pipeDialer{tr}), WithLogger(NopLogger())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, tr
}

func readFrame(t *testing.T, tr *pipeTransport) OutboundEnvelope {
	t.Helper()
	select {
	case data := <-tr.out:
		env, err := DecodeOutbound(data)
		require.NoError(t, err)
		return env
	case <-time.After(5 * time.Second):
		t.Fatal("no frame written")
		return nil
	}
}

func TestSession_AwaitingStateBeforeMarkerCounted(t *testing.T) {
	s, tr := pipeSession(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		mu      sync.Mutex
		counted []uint64
	)
	s.AddStateHandler(func(from, to State) {
		if to == AwaitingTurnComplete {
			mu.Lock()
			counted = append(counted, s.markers.Load())
			mu.Unlock()
		}
	})

	tr.in <- []byte(`{"setupComplete":{}}`)
	require.NoError(t, s.Connect(ctx))
	_, isSetup := readFrame(t, tr).(*Setup)
	require.True(t, isSetup)

	for i := 0; i < 2; i++ {
		turn, err := s.SendTurn(ctx, TextInput("hi"))
		require.NoError(t, err)
		cc, ok := readFrame(t, tr).(*ClientContent)
		require.True(t, ok)
		require.True(t, cc.TurnComplete)

		tr.in <- []byte(`{"serverContent":{"turnComplete":true}}`)
		res, err := turn.Wait(ctx)
		require.NoError(t, err)
		assert.True(t, res.Complete)
		assert.Equal(t, Ready, s.State())
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{0, 1}, counted)
}

func TestSession_EndTurnFromStreamingReturnsToReady(t *testing.T) {
	s, _ := pipeSession(t)
	ctx := context.Background()

	s.mu.Lock()
	s.state = Streaming
	s.started = 1
	turn := newTurn(ctx, s, 1, TextInput("hi"), nil)
	s.active = turn
	s.mu.Unlock()

	s.endTurn(turn, nil)

	assert.Equal(t, Ready, s.State())
	assert.Equal(t, 1, s.TurnCount())
	assert.Nil(t, s.ActiveTurn())
}

// gateSink blocks in Append until released and records call overlap.
type gateSink struct {
	entered  chan struct{}
	release  chan struct{}
	mu       sync.Mutex
	inside   bool
	overlap  bool
	appends  int
	finished bool
}

func (g *gateSink) enter() {
	g.mu.Lock()
	if g.inside {
		g.overlap = true
	}
	g.inside = true
	g.mu.Unlock()
}

func (g *gateSink) leave() {
	g.mu.Lock()
	g.inside = false
	g.mu.Unlock()
}

func (g *gateSink) Append([]byte) error {
	g.enter()
	defer g.leave()
	g.mu.Lock()
	g.appends++
	first := g.appends == 1
	g.mu.Unlock()
	if first {
		close(g.entered)
		<-g.release
	}
	return nil
}

func (g *gateSink) Finalize() error {
	g.enter()
	defer g.leave()
	g.mu.Lock()
	g.finished = true
	g.mu.Unlock()
	return nil
}

func (g *gateSink) isFinished() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.finished
}

func TestTurn_FinalizeWaitsForAppend(t *testing.T) {
	s, _ := pipeSession(t)
	sink := &gateSink{entered: make(chan struct{}), release: make(chan struct{})}

	s.mu.Lock()
	s.state = AwaitingTurnComplete
	s.started = 1
	turn := newTurn(context.Background(), s, 1, TextInput("hi"), []TurnOption{WithAudioSink(sink)})
	s.active = turn
	s.mu.Unlock()

	go turn.writeSink([]byte{1, 2}, "audio/pcm;rate=24000")
	<-sink.entered

	finished := make(chan struct{})
	go func() {
		turn.finish(ErrSessionClosed)
		close(finished)
	}()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, sink.isFinished())

	close(sink.release)
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("finish did not return")
	}
	assert.True(t, sink.isFinished())

	turn.writeSink([]byte{3, 4}, "audio/pcm;rate=24000")
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, 1, sink.appends)
	assert.False(t, sink.overlap)
}
