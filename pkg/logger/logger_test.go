package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"debug", DEBUG},
		{"DEBUG", DEBUG},
		{"info", INFO},
		{"warn", WARN},
		{"warning", WARN},
		{"error", ERROR},
		{" Error ", ERROR},
		{"invalid", INFO},
		{"", INFO},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, ParseLogLevel(tt.input), tt.input)
	}
}

func TestLogLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", DEBUG.String())
	assert.Equal(t, "ERROR", ERROR.String())
	assert.Equal(t, "UNKNOWN", LogLevel(99).String())
	assert.Equal(t, slog.LevelWarn, WARN.SlogLevel())
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&Config{Level: WARN, Console: true, Writer: &buf, Format: FormatText})
	require.NoError(t, err)
	defer l.Close()

	l.Info("[Compaction] hidden")
	l.Warn("[Compaction] shown", "tokens", 42)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "tokens=42")
}

func TestPrefixOnEveryLine(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&Config{Level: DEBUG, Prefix: "[ai] ", Console: true, Writer: &buf, Format: FormatText})
	require.NoError(t, err)

	l.Debug("one")
	l.Info("two")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, "[ai] "), line)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&Config{Level: INFO, Console: true, Writer: &buf, Format: FormatJSON})
	require.NoError(t, err)

	l.Info("[Tree] Navigated", "to", "abc")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "[Tree] Navigated", rec["msg"])
	assert.Equal(t, "abc", rec["to"])
}

func TestNonTerminalWriterDefaultsToText(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, FormatText, resolveFormat(FormatAuto, &buf))
	assert.Equal(t, FormatJSON, resolveFormat("JSON", &buf))
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "compact.log")
	l, err := New(&Config{Level: INFO, File: true, FilePath: path, Format: FormatText})
	require.NoError(t, err)

	l.Info("to file")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}

func TestSetupInstallsDefault(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	l, err := Setup(&Config{Level: INFO, Console: true, Writer: &buf, Format: FormatText})
	require.NoError(t, err)
	defer l.Close()

	slog.Info("through default")
	assert.Contains(t, buf.String(), "through default")
}

func TestCloseWithoutFile(t *testing.T) {
	assert.NoError(t, NewDefaultLogger().Close())
	var l *Logger
	assert.NoError(t, l.Close())
}
