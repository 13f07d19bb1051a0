package livetest

import (
	"slices"

	"github.com/rojolang/bidi-live-go/pkg/live"
)

// DefaultAudioMIMEType is what the hosted service reports for model audio.
const DefaultAudioMIMEType = "audio/pcm;rate=24000"

// Reply describes the server side of one turn.
type Reply struct {
	// Text is sent as one ServerContent per delta when TEXT was requested.
	Text []string
	// Audio is sent as one ServerContent per buffer when AUDIO was requested.
	Audio    [][]byte
	MIMEType string
	// Transcription deltas follow the audio when transcription was enabled.
	Transcription []string
}

// DefaultReply answers "Yes, I'm here." in every modality.
func DefaultReply() Reply {
	return Reply{
		Text:          []string{"Yes, ", "I'm ", "here."},
		Audio:         [][]byte{PCMTone(480, 1000), PCMTone(480, 2000)},
		MIMEType:      DefaultAudioMIMEType,
		Transcription: []string{"Yes, I'm", " here."},
	}
}

// Envelopes renders the reply for the negotiated setup, ending with TurnComplete.
func (r Reply) Envelopes(setup *live.Setup) []live.InboundEnvelope {
	var out []live.InboundEnvelope
	if slices.Contains(setup.ResponseModalities, live.ModalityText) {
		for _, t := range r.Text {
			out = append(out, Text(t))
		}
	}
	if slices.Contains(setup.ResponseModalities, live.ModalityAudio) {
		mime := r.MIMEType
		if mime == "" {
			mime = DefaultAudioMIMEType
		}
		for _, a := range r.Audio {
			out = append(out, Audio(a, mime))
		}
		if setup.OutputAudioTranscription {
			for _, t := range r.Transcription {
				out = append(out, Transcript(t))
			}
		}
	}
	return append(out, TurnComplete())
}

// Responder is a Script that completes the handshake and answers every turn
// with the reply for the requested modalities, until the client leaves.
// Received turns are reported on turns when it is not nil.
func Responder(reply Reply, turns chan<- []live.OutboundEnvelope) Script {
	return func(c *Conn) {
		setup, err := c.Handshake()
		if err != nil {
			return
		}
		for {
			got, err := c.ReadUntilTurnComplete()
			if err != nil {
				return
			}
			if turns != nil {
				turns <- got
			}
			if err := c.Send(reply.Envelopes(setup)...); err != nil {
				return
			}
		}
	}
}

// Text is a ServerContent carrying one text part.
func Text(text string) *live.ServerContent {
	return &live.ServerContent{Events: []live.ContentEvent{&live.ModelTurnText{Text: text}}}
}

// Audio is a ServerContent carrying one inline audio part.
func Audio(data []byte, mimeType string) *live.ServerContent {
	return &live.ServerContent{Events: []live.ContentEvent{&live.ModelTurnAudio{Data: data, MIMEType: mimeType}}}
}

// Transcript is a ServerContent carrying one output transcription fragment.
func Transcript(text string) *live.ServerContent {
	return &live.ServerContent{Events: []live.ContentEvent{&live.OutputTranscriptionDelta{Text: text}}}
}

// TurnComplete ends the server turn.
func TurnComplete() *live.ServerContent {
	return &live.ServerContent{Events: []live.ContentEvent{&live.TurnComplete{Complete: true}}}
}

// PCMTone is n samples of 16-bit little-endian PCM alternating between +amp
// and -amp, a square wave that is easy to recognise in tests.
func PCMTone(n int, amp int16) []byte {
	buf := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		v := amp
		if (i/8)%2 == 1 {
			v = -amp
		}
		buf[2*i] = byte(uint16(v))
		buf[2*i+1] = byte(uint16(v) >> 8)
	}
	return buf
}
