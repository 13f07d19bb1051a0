package live

import (
	"context"
	"iter"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TurnInput is what the caller sends in one turn. Chunks are paced and sent
// before Text, which travels in the end-of-turn marker.
type TurnInput struct {
	Role   string
	Text   string
	Chunks iter.Seq[MediaChunk]
}

// TextInput is a text-only turn.
func TextInput(text string) TurnInput {
	return TurnInput{Text: text}
}

// AudioInput is a media-only turn.
func AudioInput(chunks iter.Seq[MediaChunk]) TurnInput {
	return TurnInput{Chunks: chunks}
}

// WithText returns a copy of in carrying text.
func (in TurnInput) WithText(text string) TurnInput {
	in.Text = text
	return in
}

func (in TurnInput) empty() bool {
	return in.Text == "" && in.Chunks == nil
}

// TurnOption configures the views of one turn.
type TurnOption func(*turnOptions)

type turnOptions struct {
	onText          TextHandler
	onAudio         AudioHandler
	onTranscription TranscriptionHandler
	sink            Sink
}

// WithTextHandler is called with every text delta, in order.
func WithTextHandler(h TextHandler) TurnOption {
	return func(o *turnOptions) { o.onText = h }
}

// WithAudioHandler is called with every audio buffer, in order.
func WithAudioHandler(h AudioHandler) TurnOption {
	return func(o *turnOptions) { o.onAudio = h }
}

// WithTranscriptionHandler is called with each transcription fragment and
// the transcription so far.
func WithTranscriptionHandler(h TranscriptionHandler) TurnOption {
	return func(o *turnOptions) { o.onTranscription = h }
}

// WithAudioSink appends the turn's audio to sink and finalizes it when the
// turn ends.
func WithAudioSink(sink Sink) TurnOption {
	return func(o *turnOptions) { o.sink = sink }
}

// Turn is one request/response exchange on a Session.
type Turn struct {
	s         *Session
	seq       uint64
	input     TurnInput
	opts      turnOptions
	agg       *Aggregator
	startedAt time.Time
	span      trace.Span

	recvMu sync.Mutex

	// sinkMu serialises sink calls between the receiving goroutine and
	// Session.Close.
	sinkMu     sync.Mutex
	formatSet  bool
	sinkClosed bool

	mu       sync.Mutex
	finished bool
	result   *TurnResult
	err      error
	sendErr  error
	sinkErr  error

	finishOnce sync.Once
	done       chan struct{}
	sent       chan struct{}
}

func newTurn(ctx context.Context, s *Session, seq uint64, in TurnInput, opts []TurnOption) *Turn {
	t := &Turn{
		s:         s,
		seq:       seq,
		input:     in,
		agg:       NewAggregator(),
		startedAt: time.Now(),
		done:      make(chan struct{}),
		sent:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(&t.opts)
	}
	_, t.span = tracer.Start(ctx, "live.Turn")
	t.span.SetAttributes(
		attribute.String("live.session_id", s.id),
		attribute.Int64("live.turn", int64(seq)),
	)
	return t
}

// Seq is the 1-based number of the turn within its session.
func (t *Turn) Seq() uint64 { return t.seq }

// Done is closed when the turn has ended, completed or not.
func (t *Turn) Done() <-chan struct{} { return t.done }

// Sent is closed once the end-of-turn marker was queued or sending gave up.
func (t *Turn) Sent() <-chan struct{} { return t.sent }

// SendErr reports why sending stopped early, for example a canceled context.
// It is nil while sending is in progress.
func (t *Turn) SendErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sendErr
}

// SinkErr reports the first error returned by the audio sink. Sink errors
// never fail the turn.
func (t *Turn) SinkErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sinkErr
}

func (t *Turn) setSinkErr(err error) {
	t.mu.Lock()
	if t.sinkErr == nil {
		t.sinkErr = err
	}
	t.mu.Unlock()
	t.s.log.WithError(err).Warn("Audio sink error")
}

func (t *Turn) send(ctx context.Context) {
	defer close(t.sent)
	s := t.s

	var sendErr error
	if t.input.Chunks != nil {
		for c := range s.pacer.Pace(ctx, t.input.Chunks) {
			if err := s.enqueue(ctx, outboundMsg{env: NewRealtimeInput(c)}); err != nil {
				sendErr = err
				break
			}
		}
		if sendErr == nil && ctx.Err() != nil {
			sendErr = ctx.Err()
		}
	}

	role := t.input.Role
	if role == "" {
		role = "user"
	}
	marker := outboundMsg{env: NewEndOfTurn(role, t.input.Text), endOfTurn: true}
	if err := s.enqueue(s.ctx, marker); err != nil && sendErr == nil {
		sendErr = err
	}

	if sendErr != nil {
		if ctx.Err() != nil && sendErr == ctx.Err() {
			sendErr = newErrorf(ErrCodeCanceled, ctx.Err(), "turn input canceled")
		}
		s.log.WithError(sendErr).Warn("Turn input stopped early")
		t.mu.Lock()
		t.sendErr = sendErr
		t.mu.Unlock()
	}
}

// Receive yields inbound envelopes in arrival order, updating the turn's
// views as it goes. The sequence ends after the TurnComplete that answers
// this turn's end-of-turn marker; TurnComplete frames read before the marker
// was sent are yielded without ending it. A failure is yielded as the last
// element with a nil envelope. If ctx is done the sequence stops with a
// CANCELED error and the turn stays open for a later Receive.
func (t *Turn) Receive(ctx context.Context) iter.Seq2[InboundEnvelope, error] {
	return func(yield func(InboundEnvelope, error) bool) {
		t.recvMu.Lock()
		defer t.recvMu.Unlock()

		for {
			select {
			case <-t.done:
				if err := t.Err(); err != nil {
					yield(nil, err)
				}
				return
			default:
			}

			select {
			case <-ctx.Done():
				yield(nil, newErrorf(ErrCodeCanceled, ctx.Err(), "receive canceled"))
				return
			case <-t.done:
			case f, ok := <-t.s.frames:
				if !ok {
					t.finish(t.s.terminalErr())
					continue
				}
				ended, skip := t.observe(f)
				if skip {
					continue
				}
				if !yield(f.env, nil) {
					return
				}
				if ended {
					return
				}
			}
		}
	}
}

// observe folds f into the turn. It finishes the turn when f ends it or is a
// server error.
func (t *Turn) observe(f inboundFrame) (ended, skip bool) {
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return false, true
	}
	notes := t.agg.Observe(f.env)
	mimeType := t.agg.AudioMIMEType()
	t.mu.Unlock()

	t.dispatch(notes, mimeType)

	switch e := f.env.(type) {
	case *ServerContent:
		if e.Usage != nil {
			t.logUsage(e.Usage)
		}
		if e.TurnCompleted() {
			if f.markers >= t.seq {
				t.finish(nil)
				return true, false
			}
			t.s.log.Debug("Turn complete before end of input, continuing")
		}
	case *ServerError:
		err := NewError(ErrCodeServerError, e.Message).
			AddDetail("code", e.Code).
			AddDetail("status", e.Status)
		t.s.fail(err)
		t.finish(err)
	case *GoAway:
		t.s.log.WithField("time_left", e.TimeLeft).Warn("Server sent go away")
	case *UsageMetadata:
		t.logUsage(e)
	case *Unrecognized:
		t.s.log.WithField("keys", e.Keys).Debug("Ignoring unrecognized message")
	case *SetupComplete:
		t.s.log.Debug("Ignoring repeated setup complete")
	}
	return false, false
}

func (t *Turn) logUsage(u *UsageMetadata) {
	t.s.log.WithFields(map[string]interface{}{
		"prompt_tokens":   u.PromptTokenCount,
		"response_tokens": u.ResponseTokenCount,
		"total_tokens":    u.TotalTokenCount,
	}).Debug("Usage metadata")
}

func (t *Turn) dispatch(notes []Notification, mimeType string) {
	for _, n := range notes {
		switch n.View {
		case ViewText:
			if t.opts.onText != nil {
				t.opts.onText(n.Text)
			}
		case ViewAudio:
			if n.FirstAudio {
				t.s.log.WithField("mime_type", n.Audio.MIMEType).Info("Receiving audio")
			}
			t.writeSink(n.Audio.Data, mimeType)
			if t.opts.onAudio != nil {
				t.opts.onAudio(n.Audio)
			}
		case ViewTranscription:
			if t.opts.onTranscription != nil {
				t.opts.onTranscription(n.Delta, n.Transcript)
			}
		}
	}
}

func (t *Turn) writeSink(data []byte, mimeType string) {
	sink := t.opts.sink
	if sink == nil || t.SinkErr() != nil {
		return
	}
	t.sinkMu.Lock()
	defer t.sinkMu.Unlock()
	if t.sinkClosed {
		return
	}
	if !t.formatSet {
		t.formatSet = true
		if fs, ok := sink.(FormatSink); ok {
			if err := fs.SetFormat(ParseAudioFormat(mimeType)); err != nil {
				t.setSinkErr(err)
				return
			}
		}
	}
	if err := sink.Append(data); err != nil {
		t.setSinkErr(err)
	}
}

// finish freezes the result. It runs once, from the receiving goroutine or
// from Session.Close.
func (t *Turn) finish(err error) {
	t.finishOnce.Do(func() {
		t.mu.Lock()
		res := t.agg.Result()
		res.Complete = err == nil
		res.Err = err
		t.finished = true
		t.err = err
		if !IsErrorCode(err, ErrCodeDecodeMalformed) {
			t.result = &res
		}
		t.mu.Unlock()

		if t.opts.sink != nil {
			t.sinkMu.Lock()
			t.sinkClosed = true
			ferr := t.opts.sink.Finalize()
			t.sinkMu.Unlock()
			if ferr != nil {
				t.setSinkErr(ferr)
			}
		}
		t.s.endTurn(t, err)
		endSpan(t.span, err)
		close(t.done)
	})
}

// Err is the error that ended the turn, nil if it completed or is still running.
func (t *Turn) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Result returns the frozen result of an ended turn. A turn ended by a
// malformed frame has no result.
func (t *Turn) Result() (*TurnResult, error) {
	select {
	case <-t.done:
	default:
		return nil, NewError(ErrCodeInvalidState, "turn still in progress")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.result == nil {
		return nil, t.err
	}
	r := *t.result
	return &r, t.err
}

// Wait drains the turn and returns its result. On a lost connection the
// partial result is returned with the error; on a malformed frame only the
// error is.
func (t *Turn) Wait(ctx context.Context) (*TurnResult, error) {
	for _, err := range t.Receive(ctx) {
		if err != nil {
			break
		}
	}
	select {
	case <-t.done:
		return t.Result()
	default:
	}
	if ctx.Err() != nil {
		return nil, newErrorf(ErrCodeCanceled, ctx.Err(), "wait canceled")
	}
	return nil, NewError(ErrCodeInvalidState, "turn still in progress")
}
