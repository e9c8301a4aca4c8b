package persist

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testDoc struct {
	Version int    `yaml:"version"`
	Name    string `yaml:"name"`
}

func (d testDoc) GetVersion() int { return d.Version }

func TestStore_SaveThenLoad(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "doc.yaml"))

	require.False(t, s.Exists())
	require.NoError(t, s.Save(testDoc{Version: 1, Name: "Game"}))
	require.True(t, s.Exists())

	var loaded testDoc
	require.NoError(t, s.Load(&loaded))
	require.Equal(t, "Game", loaded.Name)
	require.Equal(t, 1, loaded.Version)
}

func TestStore_SaveOverwritesAtomically(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "doc.yaml"))

	require.NoError(t, s.Save(testDoc{Version: 1, Name: "First"}))
	require.NoError(t, s.Save(testDoc{Version: 1, Name: "Second"}))

	var loaded testDoc
	require.NoError(t, s.Load(&loaded))
	require.Equal(t, "Second", loaded.Name)
}
