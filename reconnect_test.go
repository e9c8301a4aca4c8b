package pwmixer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReconnector_CapsAtLastStep(t *testing.T) {
	r := NewReconnector()
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second}
	for _, w := range want {
		require.Equal(t, w, r.Next())
	}
	// further calls stay capped at the last step
	require.Equal(t, 30*time.Second, r.Next())
	require.Equal(t, 30*time.Second, r.Next())
}

func TestReconnector_ResetRestartsBackoff(t *testing.T) {
	r := NewReconnector()
	r.Next()
	r.Next()
	r.Reset()
	require.Equal(t, 2*time.Second, r.Next())
}
