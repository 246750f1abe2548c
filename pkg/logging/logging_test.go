package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/scalarkalman/pkg/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"Warn":    slog.LevelWarn,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("LOUD")
	assert.Error(t, err)
}

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(&buf, slog.LevelInfo, "json")
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Warn("large residual", "step", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "large residual", rec["msg"])
	assert.Equal(t, "WARN", rec["level"])
	assert.EqualValues(t, 3, rec["step"])
}

func TestNewWithWriter_Text(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(&buf, slog.LevelDebug, "text")
	require.NoError(t, err)

	logger.Debug("observations read", "count", 12)
	assert.Contains(t, buf.String(), "observations read")
	assert.Contains(t, buf.String(), "count=12")
}

func TestNewWithWriter_BadFormat(t *testing.T) {
	_, err := NewWithWriter(&bytes.Buffer{}, slog.LevelInfo, "xml")
	assert.ErrorContains(t, err, "invalid log format")
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kfilter.log")
	logger, closer, err := New(config.LoggingConfig{
		Level:      "INFO",
		Format:     "text",
		Output:     path,
		MaxSizeMB:  1,
		MaxBackups: 1,
	})
	require.NoError(t, err)

	logger.Info("batch complete", "estimates", 3)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "batch complete")
}

func TestNew_InvalidLevel(t *testing.T) {
	_, _, err := New(config.LoggingConfig{Level: "nope"})
	assert.Error(t, err)
}

func TestNew_Stderr(t *testing.T) {
	logger, closer, err := New(config.LoggingConfig{Level: "ERROR", Output: "stderr"})
	require.NoError(t, err)
	assert.NotNil(t, logger)
	assert.NoError(t, closer.Close())
}
