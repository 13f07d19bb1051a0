package live

import (
	"mime"
	"strconv"
	"strings"
)

// ViewKind names one of the output views of a turn.
type ViewKind string

const (
	ViewText          ViewKind = "text"
	ViewAudio         ViewKind = "audio"
	ViewTranscription ViewKind = "transcription"
	ViewTurnComplete  ViewKind = "turn_complete"
)

// Notification is one update for a view, produced in arrival order.
type Notification struct {
	View ViewKind
	// Text is the text delta for ViewText.
	Text string
	// Audio is the buffer for ViewAudio, forwarded unmodified.
	Audio AudioFrame
	// Delta and Transcript are the new fragment and the running transcription
	// for ViewTranscription.
	Delta      string
	Transcript string
	// FirstAudio is set on the first audio notification of the turn.
	FirstAudio bool
}

// Aggregator folds the inbound envelopes of one turn into view notifications
// and a TurnResult. It is not safe for concurrent use.
type Aggregator struct {
	result     TurnResult
	transcript strings.Builder
}

// NewAggregator returns an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{result: TurnResult{
		TextDeltas:   []string{},
		AudioBuffers: [][]byte{},
	}}
}

// Observe records env and returns its notifications in wire order.
// Envelopes other than ServerContent produce none; usage metadata is kept
// for the result.
func (a *Aggregator) Observe(env InboundEnvelope) []Notification {
	if um, ok := env.(*UsageMetadata); ok {
		a.result.Usage = um
		return nil
	}
	sc, ok := env.(*ServerContent)
	if !ok {
		return nil
	}
	if sc.Usage != nil {
		a.result.Usage = sc.Usage
	}
	notes := make([]Notification, 0, len(sc.Events))
	for _, ev := range sc.Events {
		switch e := ev.(type) {
		case *ModelTurnText:
			a.result.TextDeltas = append(a.result.TextDeltas, e.Text)
			notes = append(notes, Notification{View: ViewText, Text: e.Text})
		case *ModelTurnAudio:
			first := len(a.result.AudioBuffers) == 0
			if a.result.AudioMIMEType == "" && e.MIMEType != "" {
				a.result.AudioMIMEType = e.MIMEType
			}
			a.result.AudioBuffers = append(a.result.AudioBuffers, e.Data)
			notes = append(notes, Notification{
				View:       ViewAudio,
				Audio:      AudioFrame{Data: e.Data, MIMEType: e.MIMEType},
				FirstAudio: first,
			})
		case *OutputTranscriptionDelta:
			a.transcript.WriteString(e.Text)
			a.result.Transcription = a.transcript.String()
			notes = append(notes, Notification{
				View:       ViewTranscription,
				Delta:      e.Text,
				Transcript: a.result.Transcription,
			})
		case *TurnComplete:
			if e.Complete {
				notes = append(notes, Notification{View: ViewTurnComplete})
			}
		}
	}
	return notes
}

// AudioMIMEType is the MIME type of the first audio part that carried one.
func (a *Aggregator) AudioMIMEType() string {
	return a.result.AudioMIMEType
}

// Transcription returns the transcription accumulated so far.
func (a *Aggregator) Transcription() string {
	return a.result.Transcription
}

// Result returns a copy of what has been accumulated. Audio bytes are shared.
func (a *Aggregator) Result() TurnResult {
	r := a.result
	r.TextDeltas = append(make([]string, 0, len(a.result.TextDeltas)), a.result.TextDeltas...)
	r.AudioBuffers = append(make([][]byte, 0, len(a.result.AudioBuffers)), a.result.AudioBuffers...)
	if a.result.Usage != nil {
		u := *a.result.Usage
		r.Usage = &u
	}
	return r
}

// ParseAudioFormat reads the PCM layout from an audio MIME type such as
// "audio/pcm;rate=24000". Missing parameters default to 24 kHz, 16-bit, mono.
func ParseAudioFormat(mimeType string) AudioFormat {
	f := DefaultOutputFormat()
	if mimeType == "" {
		return f
	}
	mediaType, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return f
	}
	if rate, err := strconv.Atoi(params["rate"]); err == nil && rate > 0 {
		f.SampleRate = rate
	}
	if ch, err := strconv.Atoi(params["channels"]); err == nil && ch > 0 {
		f.Channels = ch
	}
	switch strings.ToLower(mediaType) {
	case "audio/l8":
		f.BitsPerSample = 8
	case "audio/l24":
		f.BitsPerSample = 24
	}
	return f
}
