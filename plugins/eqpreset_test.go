package plugins

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEQPresetByName_KnownPreset(t *testing.T) {
	p, ok := EQPresetByName("Vocal Boost")
	require.True(t, ok)
	require.Len(t, p.Bands, 5)
}

func TestEQPresetByName_Unknown(t *testing.T) {
	_, ok := EQPresetByName("nonexistent")
	require.False(t, ok)
}

func TestEQPresetNames_IncludesFlat(t *testing.T) {
	require.Contains(t, EQPresetNames(), "Flat")
}
