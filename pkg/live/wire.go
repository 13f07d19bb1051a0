package live

import "encoding/json"

// Client frames use the snake_case names of the BidiGenerateContent contract.

type wireClientMessage struct {
	Setup         *wireSetup         `json:"setup,omitempty"`
	ClientContent *wireClientContent `json:"client_content,omitempty"`
	RealtimeInput *wireRealtimeInput `json:"realtime_input,omitempty"`
}

type wireSetup struct {
	Model            string               `json:"model"`
	GenerationConfig wireGenerationConfig `json:"generation_config"`
}

type wireGenerationConfig struct {
	ResponseModalities       []string  `json:"response_modalities"`
	OutputAudioTranscription *struct{} `json:"output_audio_transcription,omitempty"`
}

type wireClientContent struct {
	Turns        []wireContent `json:"turns"`
	TurnComplete bool          `json:"turn_complete"`
}

type wireContent struct {
	Role  string     `json:"role"`
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Text string `json:"text"`
}

type wireRealtimeInput struct {
	MediaChunks []wireMediaChunk `json:"media_chunks"`
}

type wireMediaChunk struct {
	Audio wireAudio `json:"audio"`
}

type wireAudio struct {
	Data      []byte        `json:"data"`
	AudioSpec wireAudioSpec `json:"audio_spec"`
}

type wireAudioSpec struct {
	Encoding          string `json:"encoding"`
	SampleRateHertz   int    `json:"sample_rate_hertz"`
	AudioChannelCount int    `json:"audio_channel_count"`
}

// Server frames arrive either in the snake_case contract spelling or in the
// lowerCamelCase spelling the hosted service emits, so every field has both.
// Only the snake_case fields are filled when encoding.

type wireServerMessage struct {
	SetupComplete      json.RawMessage    `json:"setupComplete,omitempty"`
	SetupCompleteSnake json.RawMessage    `json:"setup_complete,omitempty"`
	ServerContent      *wireServerContent `json:"serverContent,omitempty"`
	ServerContentSnake *wireServerContent `json:"server_content,omitempty"`
	Error              *wireError         `json:"error,omitempty"`
	GoAway             *wireGoAway        `json:"goAway,omitempty"`
	GoAwaySnake        *wireGoAway        `json:"go_away,omitempty"`
	UsageMetadata      *wireUsage         `json:"usageMetadata,omitempty"`
	UsageMetadataSnake *wireUsage         `json:"usage_metadata,omitempty"`
}

type wireServerContent struct {
	ModelTurn                *wireModelTurn     `json:"modelTurn,omitempty"`
	ModelTurnSnake           *wireModelTurn     `json:"model_turn,omitempty"`
	OutputTranscription      *wireTranscription `json:"outputTranscription,omitempty"`
	OutputTranscriptionSnake *wireTranscription `json:"output_transcription,omitempty"`
	TurnComplete             *bool              `json:"turnComplete,omitempty"`
	TurnCompleteSnake        *bool              `json:"turn_complete,omitempty"`
}

type wireModelTurn struct {
	Parts []wireServerPart `json:"parts"`
}

type wireServerPart struct {
	Text            *string         `json:"text,omitempty"`
	InlineData      *wireInlineData `json:"inlineData,omitempty"`
	InlineDataSnake *wireInlineData `json:"inline_data,omitempty"`
}

type wireInlineData struct {
	MimeType      string `json:"mimeType,omitempty"`
	MimeTypeSnake string `json:"mime_type,omitempty"`
	Data          []byte `json:"data"`
}

type wireTranscription struct {
	Text string `json:"text"`
}

type wireError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type wireGoAway struct {
	TimeLeft      string `json:"timeLeft,omitempty"`
	TimeLeftSnake string `json:"time_left,omitempty"`
}

type wireUsage struct {
	PromptTokenCount        int `json:"promptTokenCount,omitempty"`
	PromptTokenCountSnake   int `json:"prompt_token_count,omitempty"`
	ResponseTokenCount      int `json:"responseTokenCount,omitempty"`
	ResponseTokenCountSnake int `json:"response_token_count,omitempty"`
	TotalTokenCount         int `json:"totalTokenCount,omitempty"`
	TotalTokenCountSnake    int `json:"total_token_count,omitempty"`
}
