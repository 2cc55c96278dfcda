package atomicfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteCreatesParentAndMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "deeper", "file.json")

	require.NoError(t, Write(path, []byte(`{"a":1}`)))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, string(data))

	// no leftover temp file
	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))
}

func TestWriteOverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.json")

	require.NoError(t, Write(path, []byte("first")))
	require.NoError(t, Write(path, []byte("second")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "second", string(data))
}

func TestReadIfExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.json")

	data, ok, err := ReadIfExists(path)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, data)

	require.NoError(t, Write(path, []byte("present")))
	data, ok, err = ReadIfExists(path)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "present", string(data))
}
