package live

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultEndpoint is the hosted BidiGenerateContent websocket.
	DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/" +
		"google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	DefaultModel            = "models/gemini-2.0-flash"
	DefaultChunkInterval    = 128 * time.Millisecond
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultDialTimeout      = 15 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultBufferSize       = 64
)

// Auth modes
const (
	AuthQuery  = "query"
	AuthHeader = "header"
	AuthJWT    = "jwt"
	AuthNone   = "none"
)

// Config holds everything a Session needs besides its collaborators.
type Config struct {
	Endpoint            string        `yaml:"endpoint" json:"endpoint"`
	APIKey              string        `yaml:"api_key" json:"-"`
	Model               string        `yaml:"model" json:"model"`
	Modalities          []Modality    `yaml:"modalities" json:"modalities"`
	EnableTranscription bool          `yaml:"enable_transcription" json:"enable_transcription"`
	ChunkInterval       time.Duration `yaml:"chunk_interval" json:"chunk_interval"`
	HandshakeTimeout    time.Duration `yaml:"handshake_timeout" json:"handshake_timeout"`
	DialTimeout         time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	WriteTimeout        time.Duration `yaml:"write_timeout" json:"write_timeout"`
	SendBuffer          int           `yaml:"send_buffer" json:"send_buffer"`
	ReceiveBuffer       int           `yaml:"receive_buffer" json:"receive_buffer"`
	AuthMode            string        `yaml:"auth_mode" json:"auth_mode"`
	TokenTTL            time.Duration `yaml:"token_ttl" json:"token_ttl"`
	LogLevel            string        `yaml:"log_level" json:"log_level"`
	DebugWebsocket      bool          `yaml:"debug_websocket" json:"debug_websocket"`
}

// DefaultConfig returns the built-in defaults without reading the environment.
func DefaultConfig() *Config {
	return &Config{
		Endpoint:         DefaultEndpoint,
		Model:            DefaultModel,
		Modalities:       []Modality{ModalityText},
		ChunkInterval:    DefaultChunkInterval,
		HandshakeTimeout: DefaultHandshakeTimeout,
		DialTimeout:      DefaultDialTimeout,
		WriteTimeout:     DefaultWriteTimeout,
		SendBuffer:       DefaultBufferSize,
		ReceiveBuffer:    DefaultBufferSize,
		AuthMode:         AuthQuery,
		TokenTTL:         10 * time.Minute,
		LogLevel:         "info",
	}
}

// NewConfig returns the defaults overlaid by the environment (and .env, if present).
func NewConfig() *Config {
	c := DefaultConfig()
	c.loadFromEnv()
	return c
}

// LoadConfigFile returns NewConfig overlaid by the YAML file at path.
func LoadConfigFile(path string) (*Config, error) {
	c := NewConfig()
	if err := c.LoadFile(path); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFile overlays the fields present in a YAML file.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return newErrorf(ErrCodeConfigInvalid, err, "read config file %s", path)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return newErrorf(ErrCodeConfigInvalid, err, "parse config file %s", path)
	}
	for i, m := range c.Modalities {
		if pm, err := ParseModality(string(m)); err == nil {
			c.Modalities[i] = pm
		}
	}
	return nil
}

func (c *Config) loadFromEnv() {
	// Load .env if exists
	_ = godotenv.Load()

	if v := os.Getenv("LIVE_ENDPOINT"); v != "" {
		c.Endpoint = v
	}
	for _, name := range []string{"LIVE_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"} {
		if v := os.Getenv(name); v != "" {
			c.APIKey = v
			break
		}
	}
	if v := os.Getenv("LIVE_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("LIVE_MODALITIES"); v != "" {
		if mods, err := ParseModalities(v); err == nil && len(mods) > 0 {
			c.Modalities = mods
		}
	}
	if v := os.Getenv("LIVE_ENABLE_TRANSCRIPTION"); v != "" {
		c.EnableTranscription, _ = strconv.ParseBool(v)
	}
	envDuration("LIVE_CHUNK_INTERVAL", &c.ChunkInterval)
	envDuration("LIVE_HANDSHAKE_TIMEOUT", &c.HandshakeTimeout)
	envDuration("LIVE_DIAL_TIMEOUT", &c.DialTimeout)
	envDuration("LIVE_WRITE_TIMEOUT", &c.WriteTimeout)
	envDuration("LIVE_TOKEN_TTL", &c.TokenTTL)
	envInt("LIVE_SEND_BUFFER", &c.SendBuffer)
	envInt("LIVE_RECEIVE_BUFFER", &c.ReceiveBuffer)
	if v := os.Getenv("LIVE_AUTH_MODE"); v != "" {
		c.AuthMode = strings.ToLower(v)
	}
	if v := os.Getenv("LIVE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	c.DebugWebsocket = os.Getenv("LIVE_DEBUG_WEBSOCKET") == "true"
}

func envDuration(name string, dst *time.Duration) {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// Validate returns list of issues
func (c *Config) Validate() []string {
	issues := []string{}
	switch c.AuthMode {
	case AuthQuery, AuthHeader, AuthJWT:
		if c.APIKey == "" {
			issues = append(issues, "LIVE_API_KEY environment variable not set")
		}
	}
	return append(issues, c.validateSession()...)
}

// validateSession checks everything but the presence of credentials, which a
// caller may supply directly.
func (c *Config) validateSession() []string {
	issues := []string{}

	if !strings.HasPrefix(c.Endpoint, "ws://") && !strings.HasPrefix(c.Endpoint, "wss://") {
		issues = append(issues, fmt.Sprintf("Invalid websocket endpoint: %q", c.Endpoint))
	}
	switch c.AuthMode {
	case AuthQuery, AuthHeader, AuthJWT, AuthNone:
	default:
		issues = append(issues, fmt.Sprintf("Invalid auth mode: %s", c.AuthMode))
	}
	if strings.TrimSpace(c.Model) == "" {
		issues = append(issues, "Model is empty")
	}
	if len(c.Modalities) == 0 {
		issues = append(issues, "At least one response modality is required")
	}
	hasAudio := false
	for _, m := range c.Modalities {
		switch m {
		case ModalityAudio:
			hasAudio = true
		case ModalityText:
		default:
			issues = append(issues, fmt.Sprintf("Invalid modality: %s", m))
		}
	}
	if c.EnableTranscription && !hasAudio {
		issues = append(issues, "Output transcription requires the AUDIO modality")
	}
	if c.ChunkInterval <= 0 {
		issues = append(issues, "Chunk interval must be positive")
	}
	if c.HandshakeTimeout <= 0 {
		issues = append(issues, "Handshake timeout must be positive")
	}
	if c.SendBuffer < 1 || c.ReceiveBuffer < 1 {
		issues = append(issues, "Send and receive buffers must hold at least one message")
	}
	if _, ok := ParseLogLevel(c.LogLevel); !ok {
		issues = append(issues, fmt.Sprintf("Invalid log level: %s", c.LogLevel))
	}
	return issues
}

// Validated turns Validate's issues into a CONFIG_INVALID error.
func (c *Config) Validated() error {
	issues := c.Validate()
	if len(issues) == 0 {
		return nil
	}
	return NewError(ErrCodeConfigInvalid, strings.Join(issues, "; ")).AddDetail("issues", issues)
}

// Credential builds the credential selected by AuthMode.
func (c *Config) Credential() (Credential, error) {
	if c.AuthMode != AuthNone && c.APIKey == "" {
		return nil, NewError(ErrCodeAuthFailed, "no API key configured")
	}
	switch c.AuthMode {
	case AuthQuery, "":
		return APIKey(c.APIKey), nil
	case AuthHeader:
		return HeaderAPIKey(c.APIKey), nil
	case AuthJWT:
		return &SignedToken{Secret: []byte(c.APIKey), TTL: c.TokenTTL}, nil
	case AuthNone:
		return NoCredential{}, nil
	}
	return nil, NewError(ErrCodeConfigInvalid, "unknown auth mode "+c.AuthMode)
}

// Logger builds a logger at the configured level.
func (c *Config) Logger(w io.Writer) *Logger {
	cfg := DefaultLogConfig()
	if w != nil {
		cfg.Output = w
	}
	cfg.Level, _ = ParseLogLevel(c.LogLevel)
	if c.DebugWebsocket && cfg.Level > TraceLevel {
		cfg.Level = TraceLevel
	}
	return NewLogger(cfg)
}

// PrintConfig writes a human readable summary with the API key masked.
func (c *Config) PrintConfig(w io.Writer) {
	fmt.Fprintln(w, "Live Session Configuration")
	fmt.Fprintln(w, "==================================================")
	if c.APIKey != "" {
		fmt.Fprintf(w, "API Key: %s\n", maskKey(c.APIKey))
	} else {
		fmt.Fprintln(w, "API Key: NOT SET")
	}
	fmt.Fprintf(w, "Endpoint: %s\n", c.Endpoint)
	fmt.Fprintf(w, "Auth Mode: %s\n", c.AuthMode)
	fmt.Fprintf(w, "Model: %s\n", NormalizeModel(c.Model))
	mods := make([]string, len(c.Modalities))
	for i, m := range c.Modalities {
		mods[i] = string(m)
	}
	fmt.Fprintf(w, "Modalities: %s\n", strings.Join(mods, ","))
	fmt.Fprintf(w, "Transcription: %t\n", c.EnableTranscription)
	fmt.Fprintf(w, "Chunk Interval: %s\n", c.ChunkInterval)
	fmt.Fprintf(w, "Handshake Timeout: %s\n", c.HandshakeTimeout)
	fmt.Fprintf(w, "Buffers: send=%d receive=%d\n", c.SendBuffer, c.ReceiveBuffer)
	fmt.Fprintf(w, "Log Level: %s\n", c.LogLevel)
	fmt.Fprintf(w, "Debug WebSocket: %t\n", c.DebugWebsocket)
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:6] + "..." + key[len(key)-2:]
}
