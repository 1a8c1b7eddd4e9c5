package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptobuks/truebit-os/config"
)

func TestStdoutJSON(t *testing.T) {
	var buf bytes.Buffer
	log, closer := New(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	defer closer.Close()

	log.Info().Msg("hidden")
	log.Warn().Str("task", "0x01").Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"task":"0x01"`)
	assert.Contains(t, buf.String(), `"message":"shown"`)
	assert.Equal(t, zerolog.WarnLevel, log.GetLevel())
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	log, _ := New(config.LoggingConfig{Level: "loud"}, &bytes.Buffer{})
	assert.Equal(t, zerolog.InfoLevel, log.GetLevel())
}

func TestFileIsAppendedAndDirectoryCreated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "agent.log")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("previous\n"), 0o644))

	var buf bytes.Buffer
	log, closer := New(config.LoggingConfig{Level: "info", Format: "json", File: path}, &buf)
	log.Info().Msg("appended")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "previous\n")
	assert.Contains(t, string(data), "appended")
	assert.Contains(t, buf.String(), "appended")
}

func TestUnopenableFileFallsBackToStdout(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	var buf bytes.Buffer
	log, closer := New(config.LoggingConfig{Level: "info", File: filepath.Join(blocker, "agent.log")}, &buf)
	defer closer.Close()
	log.Info().Msg("still here")

	assert.Contains(t, buf.String(), "Failed to open log file")
	assert.Contains(t, buf.String(), "still here")
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	log, _ := New(config.LoggingConfig{Level: "info", Format: "console"}, &buf)
	cl := Component(log, "monitor")
	cl.Info().Msg("polling")
	assert.Contains(t, buf.String(), "polling")
	assert.Contains(t, buf.String(), "component=")
	assert.NotContains(t, buf.String(), "{")
}
