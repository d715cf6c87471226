package log

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestKeyValuesReachLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))

	Info("panel flush", "bytes", 115200, "dangling")
	Error("wifi failed", errors.New("no carrier"), "ssid", "home")

	entries := logs.All()
	require.Len(t, entries, 2)

	assert.Equal(t, "panel flush", entries[0].Message)
	assert.Equal(t, int64(115200), entries[0].ContextMap()["bytes"])
	assert.NotContains(t, entries[0].ContextMap(), "dangling")

	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "no carrier", entries[1].ContextMap()["err"])
	assert.Equal(t, "home", entries[1].ContextMap()["ssid"])
}

func TestNonStringKeysDropped(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))

	Warn("odd", 1, "x", "k", "v")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, map[string]any{"k": "v"}, entries[0].ContextMap())
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"":        LevelInfo,
		"warning": LevelWarn,
		" error ": LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestSetupRejectsUnknownFormat(t *testing.T) {
	assert.Error(t, Setup("xml", LevelInfo))
}
