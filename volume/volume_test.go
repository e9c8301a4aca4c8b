package volume

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDBToLinear_Boundaries(t *testing.T) {
	require.Equal(t, 0.0, DBToLinear(MinDB))
	require.Equal(t, 0.0, DBToLinear(MinDB-10))
	require.Equal(t, 1.0, DBToLinear(0))
	require.InDelta(t, math.Pow(10, MaxDB/20), DBToLinear(MaxDB), 1e-9)
	require.InDelta(t, math.Pow(10, MaxDB/20), DBToLinear(MaxDB+10), 1e-9)
}

func TestDBToLinear_BoostAt24dB(t *testing.T) {
	require.InDelta(t, math.Pow(10, 1.2), DBToLinear(24), 1e-9)
}

func TestDBToLinear_Monotonic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		a := rapid.Float64Range(MinDB-20, MaxDB+20).Draw(rt, "a")
		b := rapid.Float64Range(MinDB-20, MaxDB+20).Draw(rt, "b")
		if a > b {
			a, b = b, a
		}
		require.LessOrEqual(rt, DBToLinear(a), DBToLinear(b))
	})
}

func TestLinearToDB_RoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		db := rapid.Float64Range(MinDB, MaxDB).Draw(rt, "db")
		lin := DBToLinear(db)
		back := LinearToDB(lin)
		require.InDelta(rt, db, back, 0.01)
	})
}
