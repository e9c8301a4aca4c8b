package plugins

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLADSPASearchPaths_IncludesConfiguredPath(t *testing.T) {
	paths := LADSPASearchPaths("/opt/custom/ladspa")
	require.Contains(t, paths, "/opt/custom/ladspa")
	require.Contains(t, paths, "/usr/lib/ladspa")
}

func TestFindRNNoise_NotFoundReturnsFalse(t *testing.T) {
	_, ok := FindRNNoise("/nonexistent/path/for/test")
	require.False(t, ok)
}
