package live

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearLiveEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"LIVE_ENDPOINT", "LIVE_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY", "LIVE_MODEL",
		"LIVE_MODALITIES", "LIVE_ENABLE_TRANSCRIPTION", "LIVE_CHUNK_INTERVAL",
		"LIVE_HANDSHAKE_TIMEOUT", "LIVE_DIAL_TIMEOUT", "LIVE_WRITE_TIMEOUT", "LIVE_TOKEN_TTL",
		"LIVE_SEND_BUFFER", "LIVE_RECEIVE_BUFFER", "LIVE_AUTH_MODE", "LIVE_LOG_LEVEL",
		"LIVE_DEBUG_WEBSOCKET",
	} {
		t.Setenv(name, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, DefaultEndpoint, cfg.Endpoint)
	assert.Equal(t, DefaultModel, cfg.Model)
	assert.Equal(t, []Modality{ModalityText}, cfg.Modalities)
	assert.Equal(t, 128*time.Millisecond, cfg.ChunkInterval)
	assert.Equal(t, AuthQuery, cfg.AuthMode)
	assert.Empty(t, cfg.validateSession())
	assert.Contains(t, cfg.Validate(), "LIVE_API_KEY environment variable not set")
}

func TestNewConfig_FromEnv(t *testing.T) {
	clearLiveEnv(t)
	t.Setenv("LIVE_API_KEY", "AIzaFromEnv")
	t.Setenv("LIVE_MODEL", "gemini-exp")
	t.Setenv("LIVE_MODALITIES", "text, audio")
	t.Setenv("LIVE_ENABLE_TRANSCRIPTION", "true")
	t.Setenv("LIVE_CHUNK_INTERVAL", "64ms")
	t.Setenv("LIVE_SEND_BUFFER", "8")
	t.Setenv("LIVE_AUTH_MODE", "HEADER")
	t.Setenv("LIVE_DEBUG_WEBSOCKET", "true")

	cfg := NewConfig()
	assert.Equal(t, "AIzaFromEnv", cfg.APIKey)
	assert.Equal(t, "gemini-exp", cfg.Model)
	assert.Equal(t, []Modality{ModalityText, ModalityAudio}, cfg.Modalities)
	assert.True(t, cfg.EnableTranscription)
	assert.Equal(t, 64*time.Millisecond, cfg.ChunkInterval)
	assert.Equal(t, 8, cfg.SendBuffer)
	assert.Equal(t, AuthHeader, cfg.AuthMode)
	assert.True(t, cfg.DebugWebsocket)
	assert.Empty(t, cfg.Validate())
}

func TestNewConfig_APIKeyFallback(t *testing.T) {
	clearLiveEnv(t)
	t.Setenv("GEMINI_API_KEY", "AIzaGemini")
	t.Setenv("GOOGLE_API_KEY", "AIzaGoogle")
	assert.Equal(t, "AIzaGemini", NewConfig().APIKey)

	t.Setenv("GEMINI_API_KEY", "")
	assert.Equal(t, "AIzaGoogle", NewConfig().APIKey)
}

func TestNewConfig_IgnoresBadValues(t *testing.T) {
	clearLiveEnv(t)
	t.Setenv("LIVE_CHUNK_INTERVAL", "soon")
	t.Setenv("LIVE_SEND_BUFFER", "many")
	t.Setenv("LIVE_MODALITIES", "video")

	cfg := NewConfig()
	assert.Equal(t, DefaultChunkInterval, cfg.ChunkInterval)
	assert.Equal(t, DefaultBufferSize, cfg.SendBuffer)
	assert.Equal(t, []Modality{ModalityText}, cfg.Modalities)
}

func TestLoadConfigFile(t *testing.T) {
	clearLiveEnv(t)
	path := filepath.Join(t.TempDir(), "live.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
endpoint: ws://localhost:9000/live
model: models/test
modalities: [audio]
enable_transcription: true
chunk_interval: 50ms
auth_mode: none
log_level: debug
`), 0o600))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:9000/live", cfg.Endpoint)
	assert.Equal(t, "models/test", cfg.Model)
	assert.Equal(t, []Modality{ModalityAudio}, cfg.Modalities)
	assert.True(t, cfg.EnableTranscription)
	assert.Equal(t, 50*time.Millisecond, cfg.ChunkInterval)
	assert.Equal(t, DefaultHandshakeTimeout, cfg.HandshakeTimeout)
	assert.NoError(t, cfg.Validated())
}

func TestLoadConfigFile_Errors(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, IsErrorCode(err, ErrCodeConfigInvalid))

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chunk_interval: [1, 2"), 0o600))
	_, err = LoadConfigFile(path)
	assert.True(t, IsErrorCode(err, ErrCodeConfigInvalid))
}

func TestConfig_Validate(t *testing.T) {
	cases := map[string]func(c *Config){
		"endpoint scheme":         func(c *Config) { c.Endpoint = "https://example.com" },
		"auth mode":               func(c *Config) { c.AuthMode = "oauth" },
		"empty model":             func(c *Config) { c.Model = " " },
		"no modalities":           func(c *Config) { c.Modalities = nil },
		"bad modality":            func(c *Config) { c.Modalities = []Modality{"VIDEO"} },
		"transcription w/o audio": func(c *Config) { c.EnableTranscription = true },
		"chunk interval":          func(c *Config) { c.ChunkInterval = 0 },
		"handshake timeout":       func(c *Config) { c.HandshakeTimeout = -time.Second },
		"buffers":                 func(c *Config) { c.ReceiveBuffer = 0 },
		"log level":               func(c *Config) { c.LogLevel = "loud" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.AuthMode = AuthNone
			mutate(cfg)
			assert.Len(t, cfg.Validate(), 1)

			err := cfg.Validated()
			require.Error(t, err)
			var le *Error
			require.ErrorAs(t, err, &le)
			assert.Equal(t, ErrCodeConfigInvalid, le.Code)
			issues, ok := le.GetDetail("issues")
			assert.True(t, ok)
			assert.Len(t, issues, 1)
		})
	}
}

func TestConfig_Credential(t *testing.T) {
	cfg := DefaultConfig()
	_, err := cfg.Credential()
	assert.True(t, IsErrorCode(err, ErrCodeAuthFailed))

	cfg.APIKey = "AIzaKey"
	cred, err := cfg.Credential()
	require.NoError(t, err)
	assert.Equal(t, APIKey("AIzaKey"), cred)

	cfg.AuthMode = AuthHeader
	cred, err = cfg.Credential()
	require.NoError(t, err)
	assert.Equal(t, HeaderAPIKey("AIzaKey"), cred)

	cfg.AuthMode = AuthJWT
	cred, err = cfg.Credential()
	require.NoError(t, err)
	st, ok := cred.(*SignedToken)
	require.True(t, ok)
	assert.Equal(t, []byte("AIzaKey"), st.Secret)
	assert.Equal(t, cfg.TokenTTL, st.TTL)

	cfg.AuthMode = AuthNone
	cfg.APIKey = ""
	cred, err = cfg.Credential()
	require.NoError(t, err)
	assert.Equal(t, NoCredential{}, cred)
}

func TestConfig_PrintConfigMasksKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.APIKey = "AIzaSyDUMMYDUMMYDUMMYDUMMYDUMMYDUMMY12"
	var buf bytes.Buffer
	cfg.PrintConfig(&buf)
	out := buf.String()
	assert.Contains(t, out, "API Key: AIzaSy...12")
	assert.NotContains(t, out, cfg.APIKey)
	assert.Contains(t, out, "Model: models/gemini-2.0-flash")

	cfg.APIKey = ""
	buf.Reset()
	cfg.PrintConfig(&buf)
	assert.Contains(t, buf.String(), "API Key: NOT SET")
}

func TestConfig_Logger(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.LogLevel = "warn"
	l := cfg.Logger(&buf)
	l.Info("hidden")
	l.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	cfg.DebugWebsocket = true
	cfg.Logger(&buf).Trace("frame")
	assert.Contains(t, buf.String(), "frame")
}
