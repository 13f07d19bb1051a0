package live

import (
	"bytes"
	"fmt"
	"strings"
)

// State is the lifecycle state of a Session.
type State string

const (
	Disconnected          State = "disconnected"
	Connecting            State = "connecting"
	AwaitingSetupComplete State = "awaiting_setup_complete"
	Ready                 State = "ready"
	Streaming             State = "streaming"
	AwaitingTurnComplete  State = "awaiting_turn_complete"
	Closed                State = "closed"
	Failed                State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Closed || s == Failed
}

// Modality is a requested output kind negotiated during setup.
type Modality string

const (
	ModalityText  Modality = "TEXT"
	ModalityAudio Modality = "AUDIO"
)

// ParseModality accepts "text"/"audio" in any case.
func ParseModality(s string) (Modality, error) {
	switch Modality(strings.ToUpper(strings.TrimSpace(s))) {
	case ModalityText:
		return ModalityText, nil
	case ModalityAudio:
		return ModalityAudio, nil
	}
	return "", fmt.Errorf("unknown modality %q", s)
}

// ParseModalities parses a comma separated modality list.
func ParseModalities(list string) ([]Modality, error) {
	var out []Modality
	for _, item := range strings.Split(list, ",") {
		if strings.TrimSpace(item) == "" {
			continue
		}
		m, err := ParseModality(item)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// EncodingLinearPCM is the audio_spec encoding for signed 16-bit little-endian PCM.
const EncodingLinearPCM = "AUDIO_ENCODING_LINEAR_PCM"

// AudioSpec describes the media carried by a MediaChunk.
type AudioSpec struct {
	Encoding        string
	SampleRateHertz int
	ChannelCount    int
}

// DefaultInputAudioSpec is 16 kHz mono linear PCM, the rate the service expects for input audio.
func DefaultInputAudioSpec() AudioSpec {
	return AudioSpec{
		Encoding:        EncodingLinearPCM,
		SampleRateHertz: 16000,
		ChannelCount:    1,
	}
}

// MediaChunk is one bounded unit of input media.
type MediaChunk struct {
	Data []byte
	Spec AudioSpec
}

// AudioFrame is one audio buffer delivered by the audio view.
type AudioFrame struct {
	Data     []byte
	MIMEType string
}

// TurnResult is the accumulated output of one turn. It is not mutated after
// the turn ends.
type TurnResult struct {
	TextDeltas    []string
	AudioBuffers  [][]byte
	Transcription string
	AudioMIMEType string
	// Usage is the last usage metadata received during the turn, if any.
	Usage    *UsageMetadata
	Complete bool
	Err           error
}

// Text joins the text deltas in arrival order.
func (r *TurnResult) Text() string {
	if r == nil {
		return ""
	}
	return strings.Join(r.TextDeltas, "")
}

// Audio concatenates the audio buffers in arrival order.
func (r *TurnResult) Audio() []byte {
	if r == nil {
		return nil
	}
	return bytes.Join(r.AudioBuffers, nil)
}

// Handler types
type StateHandler func(from, to State)
type TextHandler func(delta string)
type AudioHandler func(frame AudioFrame)
type TranscriptionHandler func(delta, full string)
