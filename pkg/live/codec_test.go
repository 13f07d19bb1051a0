package live

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_Setup(t *testing.T) {
	data, err := Encode(NewSetup("gemini-2.0-flash", []Modality{ModalityAudio}, true))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"setup": {
			"model": "models/gemini-2.0-flash",
			"generation_config": {
				"response_modalities": ["AUDIO"],
				"output_audio_transcription": {}
			}
		}
	}`, string(data))
}

func TestEncode_SetupWithoutTranscription(t *testing.T) {
	data, err := Encode(NewSetup("models/gemini-2.0-flash", []Modality{ModalityText}, false))
	require.NoError(t, err)
	assert.JSONEq(t, `{"setup":{"model":"models/gemini-2.0-flash","generation_config":{"response_modalities":["TEXT"]}}}`, string(data))
}

func TestEncode_EndOfTurn(t *testing.T) {
	data, err := Encode(NewEndOfTurn("user", ""))
	require.NoError(t, err)
	assert.JSONEq(t, `{"client_content":{"turns":[{"role":"user","parts":[]}],"turn_complete":true}}`, string(data))

	data, err = Encode(NewTextTurn("", "Hello? Gemini, are you there?", true))
	require.NoError(t, err)
	assert.JSONEq(t, `{"client_content":{"turns":[{"role":"user","parts":[{"text":"Hello? Gemini, are you there?"}]}],"turn_complete":true}}`, string(data))
}

func TestEncode_RealtimeInput(t *testing.T) {
	data, err := Encode(NewRealtimeInput(MediaChunk{Data: []byte{0, 0, 0, 0}, Spec: DefaultInputAudioSpec()}))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"realtime_input": {
			"media_chunks": [{
				"audio": {
					"data": "AAAAAA==",
					"audio_spec": {
						"encoding": "AUDIO_ENCODING_LINEAR_PCM",
						"sample_rate_hertz": 16000,
						"audio_channel_count": 1
					}
				}
			}]
		}
	}`, string(data))
}

func TestEncode_Nil(t *testing.T) {
	_, err := Encode(nil)
	assert.Error(t, err)
}

func TestOutboundRoundTrip(t *testing.T) {
	envs := []OutboundEnvelope{
		NewSetup("gemini-2.0-flash", []Modality{ModalityText}, false),
		NewSetup("models/x", []Modality{ModalityText, ModalityAudio}, true),
		NewSetup("models/x", nil, false),
		NewTextTurn("user", "hi", false),
		NewEndOfTurn("user", ""),
		NewEndOfTurn("model", "trailing"),
		NewRealtimeInput(
			MediaChunk{Data: []byte{1, 2, 3}, Spec: DefaultInputAudioSpec()},
			MediaChunk{Data: []byte{4}, Spec: AudioSpec{Encoding: EncodingLinearPCM, SampleRateHertz: 8000, ChannelCount: 2}},
		),
		NewRealtimeInput(),
	}
	for _, env := range envs {
		data, err := Encode(env)
		require.NoError(t, err)
		back, err := DecodeOutbound(data)
		require.NoError(t, err, string(data))
		assert.Equal(t, env, back, string(data))
	}
}

func TestInboundRoundTrip(t *testing.T) {
	envs := []InboundEnvelope{
		&SetupComplete{},
		&ServerContent{Events: []ContentEvent{}},
		&ServerContent{Events: []ContentEvent{
			&ModelTurnText{Text: "A"},
			&ModelTurnAudio{Data: []byte{1, 2}, MIMEType: "audio/pcm;rate=24000"},
			&ModelTurnText{Text: "B"},
			&OutputTranscriptionDelta{Text: "a b"},
			&TurnComplete{Complete: true},
		}},
		&ServerContent{Events: []ContentEvent{&TurnComplete{Complete: false}}},
		&ServerContent{
			Events: []ContentEvent{&TurnComplete{Complete: true}},
			Usage:  &UsageMetadata{PromptTokenCount: 1, ResponseTokenCount: 2, TotalTokenCount: 3},
		},
		&ServerError{Code: 400, Message: "bad request", Status: "INVALID_ARGUMENT"},
		&GoAway{TimeLeft: "10s"},
		&UsageMetadata{PromptTokenCount: 3, ResponseTokenCount: 5, TotalTokenCount: 8},
		&Unrecognized{Keys: []string{"sessionResumptionUpdate"}},
	}
	for _, env := range envs {
		data, err := EncodeInbound(env)
		require.NoError(t, err)
		back, err := Decode(data)
		require.NoError(t, err, string(data))
		assert.Equal(t, env, back, string(data))
	}
}

func TestEncodeInbound_RejectsNonCanonicalOrder(t *testing.T) {
	_, err := EncodeInbound(&ServerContent{Events: []ContentEvent{
		&TurnComplete{Complete: true},
		&ModelTurnText{Text: "late"},
	}})
	assert.Error(t, err)

	_, err = EncodeInbound(&ServerContent{Events: []ContentEvent{
		&OutputTranscriptionDelta{Text: "a"},
		&OutputTranscriptionDelta{Text: "b"},
	}})
	assert.Error(t, err)
}

func TestDecode_CamelCase(t *testing.T) {
	env, err := Decode([]byte(`{"setupComplete":{}}`))
	require.NoError(t, err)
	assert.IsType(t, &SetupComplete{}, env)

	env, err = Decode([]byte(`{
		"serverContent": {
			"modelTurn": {"parts": [
				{"inlineData": {"mimeType": "audio/pcm;rate=24000", "data": "AAEC"}},
				{"text": "hello"}
			]},
			"outputTranscription": {"text": "hel"},
			"turnComplete": true
		}
	}`))
	require.NoError(t, err)
	sc, ok := env.(*ServerContent)
	require.True(t, ok)
	assert.Equal(t, []ContentEvent{
		&ModelTurnAudio{Data: []byte{0, 1, 2}, MIMEType: "audio/pcm;rate=24000"},
		&ModelTurnText{Text: "hello"},
		&OutputTranscriptionDelta{Text: "hel"},
		&TurnComplete{Complete: true},
	}, sc.Events)
	assert.True(t, sc.TurnCompleted())
}

func TestDecode_IgnoresUnknownFields(t *testing.T) {
	env, err := Decode([]byte(`{"serverContent":{"turnComplete":true,"interrupted":false},"extra":1}`))
	require.NoError(t, err)
	sc, ok := env.(*ServerContent)
	require.True(t, ok)
	assert.True(t, sc.TurnCompleted())
}

func TestDecode_SkipsUnknownParts(t *testing.T) {
	env, err := Decode([]byte(`{"serverContent":{"modelTurn":{"parts":[{"executableCode":{}},{"text":"x"}]}}}`))
	require.NoError(t, err)
	assert.Equal(t, []ContentEvent{&ModelTurnText{Text: "x"}}, env.(*ServerContent).Events)
}

func TestDecode_UsageBesideServerContent(t *testing.T) {
	env, err := Decode([]byte(`{"serverContent":{"turnComplete":true},"usageMetadata":{"promptTokenCount":4,"responseTokenCount":6,"totalTokenCount":10}}`))
	require.NoError(t, err)
	sc, ok := env.(*ServerContent)
	require.True(t, ok, "got %T", env)
	assert.True(t, sc.TurnCompleted())
	assert.Equal(t, &UsageMetadata{PromptTokenCount: 4, ResponseTokenCount: 6, TotalTokenCount: 10}, sc.Usage)

	env, err = Decode([]byte(`{"usage_metadata":{"total_token_count":9}}`))
	require.NoError(t, err)
	assert.Equal(t, &UsageMetadata{TotalTokenCount: 9}, env)

	env, err = Decode([]byte(`{"goAway":{"timeLeft":"5s"},"usageMetadata":{"totalTokenCount":2}}`))
	require.NoError(t, err)
	assert.Equal(t, &GoAway{TimeLeft: "5s"}, env)
}

func TestDecode_Unrecognized(t *testing.T) {
	env, err := Decode([]byte(`{"toolCall":{"functionCalls":[]},"id":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, &Unrecognized{Keys: []string{"id", "toolCall"}}, env)
}

func TestDecode_Malformed(t *testing.T) {
	cases := map[string]string{
		"truncated":        `{"serverContent":{"modelTurn"`,
		"empty":            ``,
		"array":            `[1,2]`,
		"string":           `"hello"`,
		"null":             `null`,
		"wrong type":       `{"serverContent":{"turnComplete":"yes"}}`,
		"bad base64":       `{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"data":"!!!"}}]}}}`,
		"ambiguous":        `{"setupComplete":{},"serverContent":{}}`,
		"both spellings":   `{"setupComplete":{},"setup_complete":{}}`,
		"text and inline":  `{"serverContent":{"modelTurn":{"parts":[{"text":"a","inlineData":{"data":"AA=="}}]}}}`,
		"duplicate inline": `{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"data":"AA=="},"inline_data":{"data":"AA=="}}]}}}`,
		"trailing garbage": `{"setupComplete":{}} x`,
	}
	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			env, err := Decode([]byte(frame))
			require.Error(t, err)
			assert.Nil(t, env)

			var de *DecodeError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, Malformed, de.Kind)
		})
	}
}

func TestDecodeOutbound_Malformed(t *testing.T) {
	for _, frame := range []string{`{}`, `{"setup":{},"client_content":{}}`, `nope`} {
		_, err := DecodeOutbound([]byte(frame))
		var de *DecodeError
		assert.True(t, errors.As(err, &de), frame)
	}
}

func TestNormalizeModel(t *testing.T) {
	assert.Equal(t, "models/gemini-2.0-flash", NormalizeModel("gemini-2.0-flash"))
	assert.Equal(t, "models/gemini-2.0-flash", NormalizeModel("models/gemini-2.0-flash"))
	assert.Equal(t, "tunedModels/x", NormalizeModel("tunedModels/x"))
	assert.Equal(t, "", NormalizeModel("  "))
}
