package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/authenticator/internal/domain/model"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "json", slog.LevelInfo)

	l.Info("pin refreshed", "account_id", "acc-1", "digits", 6)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), buf.String())
	assert.Equal(t, "pin refreshed", entry["msg"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "acc-1", entry["account_id"])
	assert.Equal(t, float64(6), entry["digits"])
	assert.Contains(t, entry, "time")
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "text", slog.LevelInfo)

	l.Warn("keyring slow", "timeout", "5s")

	out := buf.String()
	assert.True(t, strings.Contains(out, "level=WARN"), out)
	assert.Contains(t, out, `msg="keyring slow"`)
	assert.Contains(t, out, "timeout=5s")
}

func TestNew_Level(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "json", slog.LevelWarn)

	l.Info("hidden")
	assert.Empty(t, buf.String())

	l.Error("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNew_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "json", slog.LevelInfo)

	l.Info("account created", "secret", model.Secret("JBSWY3DPEHPK3PXP"))

	assert.NotContains(t, buf.String(), "JBSWY3DPEHPK3PXP")
}

func TestSetupDefault_SetsGlobalLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	SetupDefault(&buf, "json", slog.LevelInfo)

	slog.Default().Info("global test", "test_key", "test_val")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), buf.String())
	assert.Equal(t, "global test", entry["msg"])
	assert.Equal(t, "test_val", entry["test_key"])
}
