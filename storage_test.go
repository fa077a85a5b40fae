package curvecare

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStorageContract exercises the behavior every Storage backend must share.
func runStorageContract(t *testing.T, newStore func(t *testing.T) Storage) {
	t.Run("get missing key", func(t *testing.T) {
		s := newStore(t)
		_, ok, err := s.Get("nope")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("set then get", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set("k1", "v1"))

		got, ok, err := s.Get("k1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v1", got)
	})

	t.Run("overwrite", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set("k1", "v1"))
		require.NoError(t, s.Set("k1", "v2"))

		got, _, err := s.Get("k1")
		require.NoError(t, err)
		assert.Equal(t, "v2", got)
	})

	t.Run("remove", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set("k1", "v1"))
		require.NoError(t, s.Remove("k1"))

		_, ok, err := s.Get("k1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("remove missing key is a no-op", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Remove("never-set"))
	})

	t.Run("keys by prefix", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set("groupmsg:g1", "a"))
		require.NoError(t, s.Set("groupmsg:g2", "b"))
		require.NoError(t, s.Set("other:x", "c"))

		keys, err := s.Keys("groupmsg:")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"groupmsg:g1", "groupmsg:g2"}, keys)
	})
}

func TestMemoryStorage(t *testing.T) {
	runStorageContract(t, func(t *testing.T) Storage {
		return NewMemoryStorage()
	})
}

func TestFileStorage(t *testing.T) {
	runStorageContract(t, func(t *testing.T) Storage {
		return NewFileStorage(filepath.Join(t.TempDir(), "store.json"))
	})

	t.Run("persists across instances", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "store.json")

		s1 := NewFileStorage(path)
		require.NoError(t, s1.Set("k1", "v1"))

		s2 := NewFileStorage(path)
		got, ok, err := s2.Get("k1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v1", got)
	})

	t.Run("missing file reads as empty", func(t *testing.T) {
		s := NewFileStorage(filepath.Join(t.TempDir(), "does", "not", "exist.json"))
		_, ok, err := s.Get("k1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("no temp files left behind", func(t *testing.T) {
		dir := t.TempDir()
		s := NewFileStorage(filepath.Join(dir, "store.json"))
		require.NoError(t, s.Set("k1", "v1"))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "store.json", entries[0].Name())
	})
}

func TestPebbleStorage(t *testing.T) {
	runStorageContract(t, func(t *testing.T) Storage {
		s, err := OpenPebbleStorage(filepath.Join(t.TempDir(), "db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})

	t.Run("persists across reopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "db")

		s1, err := OpenPebbleStorage(path)
		require.NoError(t, err)
		require.NoError(t, s1.Set("k1", "v1"))
		require.NoError(t, s1.Close())

		s2, err := OpenPebbleStorage(path)
		require.NoError(t, err)
		defer s2.Close()

		got, ok, err := s2.Get("k1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v1", got)
	})
}
