package applog

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewCreatesLogFileAndDirectories(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "cauth.log")

	logger, closer, err := New(path, slog.LevelInfo)
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer closer.Close()

	logger.Info("hello", "key", "value")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "hello")
	require.Contains(t, string(data), "key=value")
}

func TestDefaultPathUnderHome(t *testing.T) {
	path := DefaultPath()
	require.Contains(t, path, filepath.Join(".agent-island", "logs", "cauth.log"))
}
