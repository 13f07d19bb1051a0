package live

import (
	"encoding/json"
	"fmt"
	"sort"
)

// DecodeErrorKind classifies a decode failure.
type DecodeErrorKind string

// Malformed covers every frame the codec cannot map onto an envelope.
const Malformed DecodeErrorKind = "malformed"

// DecodeError is returned by Decode and DecodeOutbound.
type DecodeError struct {
	Kind   DecodeErrorKind
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s frame: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s frame: %s", e.Kind, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func malformed(reason string, err error) *DecodeError {
	return &DecodeError{Kind: Malformed, Reason: reason, Err: err}
}

// Encode serialises an outbound envelope into one text frame.
func Encode(env OutboundEnvelope) ([]byte, error) {
	var msg wireClientMessage
	switch e := env.(type) {
	case *Setup:
		mods := make([]string, 0, len(e.ResponseModalities))
		for _, m := range e.ResponseModalities {
			mods = append(mods, string(m))
		}
		ws := &wireSetup{Model: e.Model}
		ws.GenerationConfig.ResponseModalities = mods
		if e.OutputAudioTranscription {
			ws.GenerationConfig.OutputAudioTranscription = &struct{}{}
		}
		msg.Setup = ws
	case *ClientContent:
		cc := &wireClientContent{Turns: make([]wireContent, 0, len(e.Turns)), TurnComplete: e.TurnComplete}
		for _, t := range e.Turns {
			parts := make([]wirePart, 0, len(t.Parts))
			for _, p := range t.Parts {
				parts = append(parts, wirePart{Text: p.Text})
			}
			cc.Turns = append(cc.Turns, wireContent{Role: t.Role, Parts: parts})
		}
		msg.ClientContent = cc
	case *RealtimeInput:
		ri := &wireRealtimeInput{MediaChunks: make([]wireMediaChunk, 0, len(e.MediaChunks))}
		for _, c := range e.MediaChunks {
			ri.MediaChunks = append(ri.MediaChunks, wireMediaChunk{Audio: wireAudio{
				Data: c.Data,
				AudioSpec: wireAudioSpec{
					Encoding:          c.Spec.Encoding,
					SampleRateHertz:   c.Spec.SampleRateHertz,
					AudioChannelCount: c.Spec.ChannelCount,
				},
			}})
		}
		msg.RealtimeInput = ri
	case nil:
		return nil, fmt.Errorf("encode: nil envelope")
	default:
		return nil, fmt.Errorf("encode: unsupported envelope %T", env)
	}
	return json.Marshal(msg)
}

// Decode parses one inbound text frame. Unknown fields are ignored; a frame
// without any known payload decodes to *Unrecognized. Usage metadata next to
// server content is attached to it; on its own it decodes to *UsageMetadata.
func Decode(data []byte) (InboundEnvelope, error) {
	keys, err := objectKeys(data)
	if err != nil {
		return nil, err
	}

	var msg wireServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, malformed("invalid field", err)
	}

	var (
		found []InboundEnvelope
		usage *UsageMetadata
		derr  error
	)
	add := func(env InboundEnvelope, err error) {
		if err != nil && derr == nil {
			derr = err
		}
		if env != nil {
			found = append(found, env)
		}
	}

	if len(msg.SetupComplete) > 0 && len(msg.SetupCompleteSnake) > 0 {
		return nil, malformed("setup_complete given twice", nil)
	}
	if len(msg.SetupComplete) > 0 || len(msg.SetupCompleteSnake) > 0 {
		add(&SetupComplete{}, nil)
	}
	if sc, err := pick(msg.ServerContent, msg.ServerContentSnake, "server_content"); err != nil {
		return nil, err
	} else if sc != nil {
		add(decodeServerContent(sc))
	}
	if msg.Error != nil {
		add(&ServerError{Code: msg.Error.Code, Message: msg.Error.Message, Status: msg.Error.Status}, nil)
	}
	if ga, err := pick(msg.GoAway, msg.GoAwaySnake, "go_away"); err != nil {
		return nil, err
	} else if ga != nil {
		tl, err := pickString(ga.TimeLeft, ga.TimeLeftSnake, "time_left")
		add(&GoAway{TimeLeft: tl}, err)
	}
	if um, err := pick(msg.UsageMetadata, msg.UsageMetadataSnake, "usage_metadata"); err != nil {
		return nil, err
	} else if um != nil {
		usage = &UsageMetadata{
			PromptTokenCount:   firstNonZero(um.PromptTokenCount, um.PromptTokenCountSnake),
			ResponseTokenCount: firstNonZero(um.ResponseTokenCount, um.ResponseTokenCountSnake),
			TotalTokenCount:    firstNonZero(um.TotalTokenCount, um.TotalTokenCountSnake),
		}
	}

	if derr != nil {
		return nil, derr
	}
	switch len(found) {
	case 0:
		if usage != nil {
			return usage, nil
		}
		return &Unrecognized{Keys: keys}, nil
	case 1:
		// Usage beside setup complete, an error or go away is dropped.
		if sc, ok := found[0].(*ServerContent); ok {
			sc.Usage = usage
		}
		return found[0], nil
	default:
		kinds := make([]string, 0, len(found))
		for _, f := range found {
			kinds = append(kinds, f.Kind())
		}
		return nil, malformed(fmt.Sprintf("ambiguous frame carries %v", kinds), nil)
	}
}

func decodeServerContent(sc *wireServerContent) (InboundEnvelope, error) {
	out := &ServerContent{Events: []ContentEvent{}}

	mt, err := pick(sc.ModelTurn, sc.ModelTurnSnake, "model_turn")
	if err != nil {
		return nil, err
	}
	if mt != nil {
		for i, p := range mt.Parts {
			inline, err := pick(p.InlineData, p.InlineDataSnake, "inline_data")
			if err != nil {
				return nil, err
			}
			switch {
			case p.Text != nil && inline != nil:
				return nil, malformed(fmt.Sprintf("part %d carries both text and inline_data", i), nil)
			case p.Text != nil:
				out.Events = append(out.Events, &ModelTurnText{Text: *p.Text})
			case inline != nil:
				mime, err := pickString(inline.MimeType, inline.MimeTypeSnake, "mime_type")
				if err != nil {
					return nil, err
				}
				out.Events = append(out.Events, &ModelTurnAudio{Data: inline.Data, MIMEType: mime})
			}
		}
	}

	tr, err := pick(sc.OutputTranscription, sc.OutputTranscriptionSnake, "output_transcription")
	if err != nil {
		return nil, err
	}
	if tr != nil {
		out.Events = append(out.Events, &OutputTranscriptionDelta{Text: tr.Text})
	}

	tc, err := pick(sc.TurnComplete, sc.TurnCompleteSnake, "turn_complete")
	if err != nil {
		return nil, err
	}
	if tc != nil {
		out.Events = append(out.Events, &TurnComplete{Complete: *tc})
	}
	return out, nil
}

// EncodeInbound serialises a server envelope using the snake_case names. It
// is the inverse of Decode and is used by fake servers.
func EncodeInbound(env InboundEnvelope) ([]byte, error) {
	var msg wireServerMessage
	switch e := env.(type) {
	case *SetupComplete:
		msg.SetupCompleteSnake = json.RawMessage(`{}`)
	case *ServerContent:
		sc, err := encodeServerContent(e)
		if err != nil {
			return nil, err
		}
		msg.ServerContentSnake = sc
		if e.Usage != nil {
			msg.UsageMetadataSnake = encodeUsage(e.Usage)
		}
	case *ServerError:
		msg.Error = &wireError{Code: e.Code, Message: e.Message, Status: e.Status}
	case *GoAway:
		msg.GoAwaySnake = &wireGoAway{TimeLeftSnake: e.TimeLeft}
	case *UsageMetadata:
		msg.UsageMetadataSnake = encodeUsage(e)
	case *Unrecognized:
		obj := make(map[string]struct{}, len(e.Keys))
		for _, k := range e.Keys {
			obj[k] = struct{}{}
		}
		return json.Marshal(obj)
	case nil:
		return nil, fmt.Errorf("encode inbound: nil envelope")
	default:
		return nil, fmt.Errorf("encode inbound: unsupported envelope %T", env)
	}
	return json.Marshal(msg)
}

func encodeUsage(u *UsageMetadata) *wireUsage {
	return &wireUsage{
		PromptTokenCountSnake:   u.PromptTokenCount,
		ResponseTokenCountSnake: u.ResponseTokenCount,
		TotalTokenCountSnake:    u.TotalTokenCount,
	}
}

// encodeServerContent requires the canonical event order: model turn parts,
// at most one transcription delta, at most one turn-complete flag.
func encodeServerContent(c *ServerContent) (*wireServerContent, error) {
	const (
		stageParts = iota
		stageTranscription
		stageTurnComplete
	)
	out := &wireServerContent{}
	stage := stageParts
	var parts []wireServerPart
	for i, ev := range c.Events {
		switch e := ev.(type) {
		case *ModelTurnText:
			if stage != stageParts {
				return nil, fmt.Errorf("encode inbound: event %d: model turn part after transcription or turn_complete", i)
			}
			text := e.Text
			parts = append(parts, wireServerPart{Text: &text})
		case *ModelTurnAudio:
			if stage != stageParts {
				return nil, fmt.Errorf("encode inbound: event %d: model turn part after transcription or turn_complete", i)
			}
			parts = append(parts, wireServerPart{InlineDataSnake: &wireInlineData{MimeTypeSnake: e.MIMEType, Data: e.Data}})
		case *OutputTranscriptionDelta:
			if stage >= stageTranscription {
				return nil, fmt.Errorf("encode inbound: event %d: transcription out of order", i)
			}
			stage = stageTranscription
			out.OutputTranscriptionSnake = &wireTranscription{Text: e.Text}
		case *TurnComplete:
			if stage == stageTurnComplete {
				return nil, fmt.Errorf("encode inbound: event %d: duplicate turn_complete", i)
			}
			stage = stageTurnComplete
			v := e.Complete
			out.TurnCompleteSnake = &v
		default:
			return nil, fmt.Errorf("encode inbound: event %d: unsupported %T", i, ev)
		}
	}
	if len(parts) > 0 {
		out.ModelTurnSnake = &wireModelTurn{Parts: parts}
	}
	return out, nil
}

// DecodeOutbound parses a client frame. Fake servers use it to inspect what
// a session sent.
func DecodeOutbound(data []byte) (OutboundEnvelope, error) {
	if _, err := objectKeys(data); err != nil {
		return nil, err
	}
	var msg wireClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, malformed("invalid field", err)
	}

	var found []OutboundEnvelope
	if msg.Setup != nil {
		mods := make([]Modality, 0, len(msg.Setup.GenerationConfig.ResponseModalities))
		for _, m := range msg.Setup.GenerationConfig.ResponseModalities {
			mods = append(mods, Modality(m))
		}
		found = append(found, &Setup{
			Model:                    msg.Setup.Model,
			ResponseModalities:       mods,
			OutputAudioTranscription: msg.Setup.GenerationConfig.OutputAudioTranscription != nil,
		})
	}
	if msg.ClientContent != nil {
		cc := &ClientContent{Turns: make([]Content, 0, len(msg.ClientContent.Turns)), TurnComplete: msg.ClientContent.TurnComplete}
		for _, t := range msg.ClientContent.Turns {
			parts := make([]Part, 0, len(t.Parts))
			for _, p := range t.Parts {
				parts = append(parts, Part{Text: p.Text})
			}
			cc.Turns = append(cc.Turns, Content{Role: t.Role, Parts: parts})
		}
		found = append(found, cc)
	}
	if msg.RealtimeInput != nil {
		ri := &RealtimeInput{MediaChunks: make([]MediaChunk, 0, len(msg.RealtimeInput.MediaChunks))}
		for _, c := range msg.RealtimeInput.MediaChunks {
			ri.MediaChunks = append(ri.MediaChunks, MediaChunk{
				Data: c.Audio.Data,
				Spec: AudioSpec{
					Encoding:        c.Audio.AudioSpec.Encoding,
					SampleRateHertz: c.Audio.AudioSpec.SampleRateHertz,
					ChannelCount:    c.Audio.AudioSpec.AudioChannelCount,
				},
			})
		}
		found = append(found, ri)
	}

	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return nil, malformed("no client payload", nil)
	default:
		return nil, malformed("ambiguous client frame", nil)
	}
}

// objectKeys checks that data is a single JSON object and returns its sorted
// top-level keys.
func objectKeys(data []byte) ([]string, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, malformed("not a JSON object", err)
	}
	if obj == nil {
		return nil, malformed("null frame", nil)
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func pick[T any](camel, snake *T, field string) (*T, error) {
	if camel != nil && snake != nil {
		return nil, malformed(field+" given twice", nil)
	}
	if camel != nil {
		return camel, nil
	}
	return snake, nil
}

func pickString(camel, snake, field string) (string, error) {
	if camel != "" && snake != "" && camel != snake {
		return "", malformed(field+" given twice", nil)
	}
	if camel != "" {
		return camel, nil
	}
	return snake, nil
}

func firstNonZero(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}
