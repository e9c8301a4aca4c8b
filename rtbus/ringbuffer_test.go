package rtbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRing_FIFOOrder(t *testing.T) {
	r := NewRing(4)
	for i := 0; i < 4; i++ {
		require.True(t, r.Push(ParamMessage{ParamIndex: uint32(i), Value: float32(i)}))
	}
	// capacity reached, next push must fail rather than overwrite
	require.False(t, r.Push(ParamMessage{ParamIndex: 99}))

	for i := 0; i < 4; i++ {
		msg, ok := r.Pop()
		require.True(t, ok)
		require.Equal(t, uint32(i), msg.ParamIndex)
	}
	_, ok := r.Pop()
	require.False(t, ok)
}

func TestRing_DrainAppliesInOrder(t *testing.T) {
	r := NewRing(8)
	for i := 0; i < 5; i++ {
		r.Push(ParamMessage{ParamIndex: uint32(i)})
	}
	var got []uint32
	n := r.Drain(func(m ParamMessage) { got = append(got, m.ParamIndex) })
	require.Equal(t, 5, n)
	require.Equal(t, []uint32{0, 1, 2, 3, 4}, got)
	require.Equal(t, 0, r.Len())
}

func TestSmoothedParam_ConvergesToTarget(t *testing.T) {
	s := NewSmoothedParam(0, 10)
	s.SetTarget(1)
	for i := 0; i < 1000 && !s.AtTarget(0.001); i++ {
		s.Tick()
	}
	require.True(t, s.AtTarget(0.001))
}
