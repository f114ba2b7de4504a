package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {

	level, err := ParseLevel("DEBUG")
	assert.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	level, err = ParseLevel("verbose")
	assert.Error(t, err)
	assert.Equal(t, slog.LevelInfo, level)
}

func TestInitLoggerWritesFile(t *testing.T) {

	defaultLogger := slog.Default()
	defer slog.SetDefault(defaultLogger)

	path := filepath.Join(t.TempDir(), "kernel.log")

	closer, err := InitLogger(path, "WARN")
	require.NoError(t, err)

	slog.Info("hidden")
	slog.Warn("shown", "function", "TestInitLoggerWritesFile")

	require.NoError(t, closer.Close())

	content, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Contains(t, string(content), "msg=shown")
	assert.NotContains(t, string(content), "hidden")
}
