package live

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonLogger(level LogLevel) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewLogger(&LogConfig{Level: level, Output: &buf}), &buf
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &m))
	return m
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]LogLevel{
		"trace": TraceLevel, "DEBUG": DebugLevel, "": InfoLevel, "warning": WarnLevel,
		"error": ErrorLevel, "disabled": DisabledLevel,
	} {
		got, ok := ParseLogLevel(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseLogLevel("loud")
	assert.False(t, ok)
}

func TestLogger_Fields(t *testing.T) {
	l, buf := jsonLogger(DebugLevel)
	l.WithComponent("session").WithField("session_id", "abc").Debug("hello")

	m := lastLine(t, buf)
	assert.Equal(t, "hello", m["message"])
	assert.Equal(t, "session", m["component"])
	assert.Equal(t, "abc", m["session_id"])
	assert.Equal(t, "debug", m["level"])
}

func TestLogger_LogStateChange(t *testing.T) {
	l, buf := jsonLogger(DebugLevel)
	l.LogStateChange(Ready, Streaming)
	m := lastLine(t, buf)
	assert.Equal(t, "ready", m["from"])
	assert.Equal(t, "streaming", m["to"])

	l.LogStateChange(Streaming, Failed)
	assert.Equal(t, "warn", lastLine(t, buf)["level"])
}

func TestLogger_LogError(t *testing.T) {
	l, buf := jsonLogger(InfoLevel)
	l.LogError(NewError(ErrCodeConnectionLost, "read failed").AddDetail("bytes", 3))
	m := lastLine(t, buf)
	assert.Equal(t, "error", m["level"])
	assert.Equal(t, ErrCodeConnectionLost, m["error_code"])
}

func TestLogger_LogEnvelopeIsTrace(t *testing.T) {
	l, buf := jsonLogger(DebugLevel)
	l.LogEnvelope("inbound", KindServerContent, 12)
	assert.Empty(t, buf.String())

	l, buf = jsonLogger(TraceLevel)
	l.LogEnvelope("inbound", KindServerContent, 12)
	m := lastLine(t, buf)
	assert.Equal(t, "server_content", m["message_type"])
	assert.Equal(t, "inbound", m["direction"])
}

func TestNopLogger(t *testing.T) {
	l := NopLogger()
	l.Error("nothing")
	l.WithComponent("x").Warnf("nothing %d", 1)
}

func TestGlobalLogger(t *testing.T) {
	prev := GetGlobalLogger()
	defer SetGlobalLogger(prev)

	l, buf := jsonLogger(InfoLevel)
	SetGlobalLogger(l)
	GetGlobalLogger().Info("global")
	assert.Equal(t, "global", lastLine(t, buf)["message"])
}
