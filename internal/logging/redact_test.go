package logging

import (
	"testing"
	"time"

	"github.com/fyrsmithlabs/seagent/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func encode(t *testing.T, enc zapcore.Encoder, fields ...zap.Field) string {
	t.Helper()
	buf, err := enc.EncodeEntry(zapcore.Entry{Time: time.Unix(0, 0), Message: "m"}, fields)
	require.NoError(t, err)
	return buf.String()
}

func TestRedactingEncoder(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	out := encode(t, enc,
		zap.String("gh_token", "ghp_abcdefghijklmnopqrstuvwxyz"),
		zap.String("note", "calling with Bearer abc.def"),
		zap.String("path", "src/main.go"),
	)
	assert.NotContains(t, out, "ghp_abcdefghijklmnopqrstuvwxyz")
	assert.NotContains(t, out, "abc.def")
	assert.Contains(t, out, "src/main.go")
}

func TestRedactingEncoder_Disabled(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{})
	require.NoError(t, err)
	assert.Contains(t, encode(t, enc, zap.String("token", "abc")), "abc")
}

func TestRedactingEncoder_BadPattern(t *testing.T) {
	_, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{Enabled: true, Patterns: []string{"("}})
	assert.Error(t, err)
}

func TestSecretField(t *testing.T) {
	f := Secret("gh_token", config.Secret("abcd"))
	assert.Equal(t, "[REDACTED:4]", f.String)
}
