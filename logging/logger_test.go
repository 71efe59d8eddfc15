package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(level LogLevel) (*PipelineLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := NewPipelineLogger(LoggerConfig{Level: level, Format: "json", Output: &buf})
	return l, &buf
}

func decodeRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	return rec
}

func TestPipelineLogger_ArgsBecomeAttributes(t *testing.T) {
	l, buf := newBufferLogger(LogLevelDebug)

	l.Info("masked sensitive content", "pii", 2, "profanity", 1)

	rec := decodeRecord(t, buf)
	assert.Equal(t, "masked sensitive content", rec["msg"])
	assert.EqualValues(t, 2, rec["pii"])
	assert.EqualValues(t, 1, rec["profanity"])
}

func TestPipelineLogger_ContextAttributes(t *testing.T) {
	l, buf := newBufferLogger(LogLevelDebug)

	l.WithStage("guard").WithSession("s1", "inv-1").Warn("something", "error", "boom")

	rec := decodeRecord(t, buf)
	assert.Equal(t, "guard", rec["stage"])
	assert.Equal(t, "s1", rec["session_id"])
	assert.Equal(t, "inv-1", rec["invocation_id"])
	assert.Equal(t, "boom", rec["error"])
}

func TestPipelineLogger_LevelFiltering(t *testing.T) {
	l, buf := newBufferLogger(LogLevelWarn)

	l.Info("suppressed", "k", "v")
	assert.Zero(t, buf.Len())

	l.Warn("emitted")
	assert.NotZero(t, buf.Len())
}

func TestPipelineLogger_LogToolCall(t *testing.T) {
	l, buf := newBufferLogger(LogLevelDebug)

	l.LogToolCall("note.add", 5*time.Millisecond, false, errors.New("no such note"))

	rec := decodeRecord(t, buf)
	assert.Equal(t, "tool execution failed", rec["msg"])
	assert.Equal(t, "note.add", rec["tool_name"])
	assert.Equal(t, false, rec["success"])
	assert.Equal(t, "no such note", rec["error"])
}
