package live

import "strings"

// Envelope kinds, used in logs, metrics and errors.
const (
	KindSetup         = "setup"
	KindClientContent = "client_content"
	KindRealtimeInput = "realtime_input"
	KindSetupComplete = "setup_complete"
	KindServerContent = "server_content"
	KindServerError   = "error"
	KindGoAway        = "go_away"
	KindUsageMetadata = "usage_metadata"
	KindUnrecognized  = "unrecognized"
)

// OutboundEnvelope is a message sent from the client. The set of variants is
// closed: *Setup, *ClientContent and *RealtimeInput.
type OutboundEnvelope interface {
	Kind() string
	outbound()
}

// InboundEnvelope is a message received from the server. Variants:
// *SetupComplete, *ServerContent, *ServerError, *GoAway, *UsageMetadata and
// *Unrecognized.
type InboundEnvelope interface {
	Kind() string
	inbound()
}

// ContentEvent is one item carried by a ServerContent envelope. Variants:
// *ModelTurnText, *ModelTurnAudio, *OutputTranscriptionDelta and *TurnComplete.
type ContentEvent interface {
	contentEvent()
}

// Setup opens the conversation and negotiates the response modalities.
type Setup struct {
	Model                    string
	ResponseModalities       []Modality
	OutputAudioTranscription bool
}

// Part is one piece of client content. Only text parts are sent.
type Part struct {
	Text string
}

// Content is one conversational turn sent by the client.
type Content struct {
	Role  string
	Parts []Part
}

// ClientContent carries text turns. TurnComplete=true is the end-of-turn marker.
type ClientContent struct {
	Turns        []Content
	TurnComplete bool
}

// RealtimeInput carries streamed media chunks.
type RealtimeInput struct {
	MediaChunks []MediaChunk
}

func (*Setup) Kind() string         { return KindSetup }
func (*ClientContent) Kind() string { return KindClientContent }
func (*RealtimeInput) Kind() string { return KindRealtimeInput }

func (*Setup) outbound()         {}
func (*ClientContent) outbound() {}
func (*RealtimeInput) outbound() {}

// NewSetup builds a Setup envelope. Bare model names are prefixed with "models/".
func NewSetup(model string, modalities []Modality, transcription bool) *Setup {
	mods := make([]Modality, len(modalities))
	copy(mods, modalities)
	return &Setup{
		Model:                    NormalizeModel(model),
		ResponseModalities:       mods,
		OutputAudioTranscription: transcription,
	}
}

// NewTextTurn builds a single-turn ClientContent. An empty text yields a turn
// without parts.
func NewTextTurn(role, text string, turnComplete bool) *ClientContent {
	if role == "" {
		role = "user"
	}
	parts := []Part{}
	if text != "" {
		parts = append(parts, Part{Text: text})
	}
	return &ClientContent{
		Turns:        []Content{{Role: role, Parts: parts}},
		TurnComplete: turnComplete,
	}
}

// NewEndOfTurn builds the end-of-turn marker, optionally carrying trailing text.
func NewEndOfTurn(role, text string) *ClientContent {
	return NewTextTurn(role, text, true)
}

// NewRealtimeInput wraps media chunks for streaming.
func NewRealtimeInput(chunks ...MediaChunk) *RealtimeInput {
	cs := make([]MediaChunk, len(chunks))
	copy(cs, chunks)
	return &RealtimeInput{MediaChunks: cs}
}

// NormalizeModel turns "gemini-2.0-flash" into "models/gemini-2.0-flash".
func NormalizeModel(model string) string {
	model = strings.TrimSpace(model)
	if model == "" || strings.Contains(model, "/") {
		return model
	}
	return "models/" + model
}

// SetupComplete acknowledges the Setup envelope.
type SetupComplete struct{}

// ServerContent carries model output. Events keep wire order: model turn parts
// first, then the transcription delta, then the turn-complete flag.
type ServerContent struct {
	Events []ContentEvent
	// Usage is set when the frame also carried usage metadata, which the
	// service usually attaches to the turn-complete frame.
	Usage *UsageMetadata
}

// ServerError is an error reported in-band by the server.
type ServerError struct {
	Code    int
	Message string
	Status  string
}

// GoAway announces that the server will close the connection soon.
type GoAway struct {
	TimeLeft string
}

// UsageMetadata reports token accounting.
type UsageMetadata struct {
	PromptTokenCount   int
	ResponseTokenCount int
	TotalTokenCount    int
}

// Unrecognized is a well-formed frame without any known payload.
type Unrecognized struct {
	Keys []string
}

func (*SetupComplete) Kind() string { return KindSetupComplete }
func (*ServerContent) Kind() string { return KindServerContent }
func (*ServerError) Kind() string   { return KindServerError }
func (*GoAway) Kind() string        { return KindGoAway }
func (*UsageMetadata) Kind() string { return KindUsageMetadata }
func (*Unrecognized) Kind() string  { return KindUnrecognized }

func (*SetupComplete) inbound() {}
func (*ServerContent) inbound() {}
func (*ServerError) inbound()   {}
func (*GoAway) inbound()        {}
func (*UsageMetadata) inbound() {}
func (*Unrecognized) inbound()  {}

// TurnCompleted reports whether the envelope carries TurnComplete=true.
func (c *ServerContent) TurnCompleted() bool {
	for _, ev := range c.Events {
		if tc, ok := ev.(*TurnComplete); ok && tc.Complete {
			return true
		}
	}
	return false
}

// ModelTurnText is a text delta from the model.
type ModelTurnText struct {
	Text string
}

// ModelTurnAudio is an inline audio buffer from the model.
type ModelTurnAudio struct {
	Data     []byte
	MIMEType string
}

// OutputTranscriptionDelta is a transcription fragment of the model's audio.
type OutputTranscriptionDelta struct {
	Text string
}

// TurnComplete signals the end of the server's turn.
type TurnComplete struct {
	Complete bool
}

func (*ModelTurnText) contentEvent()            {}
func (*ModelTurnAudio) contentEvent()           {}
func (*OutputTranscriptionDelta) contentEvent() {}
func (*TurnComplete) contentEvent()             {}
