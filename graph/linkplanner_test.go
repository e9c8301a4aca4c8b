package graph

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPlanLinks_ChannelTagMatch(t *testing.T) {
	src := Node{ID: 1, Ports: []Port{
		{ID: 10, NodeID: 1, Direction: DirectionOutput, Channel: ChannelFR},
		{ID: 11, NodeID: 1, Direction: DirectionOutput, Channel: ChannelFL},
	}}
	dst := Node{ID: 2, Ports: []Port{
		{ID: 20, NodeID: 2, Direction: DirectionInput, Channel: ChannelFL},
		{ID: 21, NodeID: 2, Direction: DirectionInput, Channel: ChannelFR},
	}}

	plans := PlanLinks(src, dst)
	require.Len(t, plans, 2)
	for _, p := range plans {
		if p.OutputPortID == 11 {
			require.Equal(t, uint32(20), p.InputPortID)
		}
		if p.OutputPortID == 10 {
			require.Equal(t, uint32(21), p.InputPortID)
		}
	}
}

func TestPlanLinks_PositionalFallback(t *testing.T) {
	src := Node{ID: 1, Ports: []Port{
		{ID: 10, NodeID: 1, Direction: DirectionOutput, Channel: ChannelUnknown},
		{ID: 11, NodeID: 1, Direction: DirectionOutput, Channel: ChannelUnknown},
	}}
	dst := Node{ID: 2, Ports: []Port{
		{ID: 20, NodeID: 2, Direction: DirectionInput, Channel: ChannelUnknown},
		{ID: 21, NodeID: 2, Direction: DirectionInput, Channel: ChannelUnknown},
	}}

	plans := PlanLinks(src, dst)
	require.Len(t, plans, 2)
	require.Equal(t, uint32(10), plans[0].OutputPortID)
	require.Equal(t, uint32(20), plans[0].InputPortID)
}

// PlanLinks must never assign the same port twice, regardless of how many
// ports either side has or how they are tagged.
func TestPlanLinks_NoDuplicatePorts(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		nOut := rapid.IntRange(0, 8).Draw(rt, "nOut")
		nIn := rapid.IntRange(0, 8).Draw(rt, "nIn")

		var outPorts, inPorts []Port
		for i := 0; i < nOut; i++ {
			tag := ChannelTag(rapid.IntRange(0, int(ChannelUnknown)).Draw(rt, "outTag"))
			outPorts = append(outPorts, Port{ID: uint32(100 + i), NodeID: 1, Direction: DirectionOutput, Channel: tag})
		}
		for i := 0; i < nIn; i++ {
			tag := ChannelTag(rapid.IntRange(0, int(ChannelUnknown)).Draw(rt, "inTag"))
			inPorts = append(inPorts, Port{ID: uint32(200 + i), NodeID: 2, Direction: DirectionInput, Channel: tag})
		}

		src := Node{ID: 1, Ports: outPorts}
		dst := Node{ID: 2, Ports: inPorts}
		plans := PlanLinks(src, dst)

		seenOut := map[uint32]bool{}
		seenIn := map[uint32]bool{}
		for _, p := range plans {
			require.False(rt, seenOut[p.OutputPortID], "output port reused")
			require.False(rt, seenIn[p.InputPortID], "input port reused")
			seenOut[p.OutputPortID] = true
			seenIn[p.InputPortID] = true
		}
		require.LessOrEqual(rt, len(plans), nOut)
		require.LessOrEqual(rt, len(plans), nIn)
	})
}
