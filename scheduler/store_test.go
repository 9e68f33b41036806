package scheduler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	var store MemoryStore

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNoContext)

	blob := []byte{1, 2, 3}
	require.NoError(t, store.Save(blob))
	blob[0] = 0xFF

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got, "store keeps its own copy")
}

func TestFileStore(t *testing.T) {
	store := FileStore{Path: filepath.Join(t.TempDir(), "session.ctx")}

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNoContext)

	require.NoError(t, store.Save([]byte("first")))
	require.NoError(t, store.Save([]byte("second")))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)

	info, err := os.Stat(store.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(store.Path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files are cleaned up")
}

func TestFileStoreMissingDirectory(t *testing.T) {
	store := FileStore{Path: filepath.Join(t.TempDir(), "missing", "session.ctx")}
	assert.Error(t, store.Save([]byte("x")))
}
