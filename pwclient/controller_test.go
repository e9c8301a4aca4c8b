package pwclient

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sootmix/pwmixer/internal/metrics"
)

func newTestController() (*Controller, *fakeBackend) {
	fb := newFakeBackend()
	log := zerolog.Nop()
	c := NewController(log, fb, fb, fb, fb)
	c.pollEvery = 10 * time.Millisecond
	return c, fb
}

func TestController_CreateVirtualSink(t *testing.T) {
	c, _ := newTestController()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	sinkID, outID, pid, err := c.CreateVirtualSink(ctx, "pwmixer_test", "Test Channel")
	require.NoError(t, err)
	require.NotZero(t, sinkID)
	require.NotZero(t, outID)
	require.NotZero(t, pid)

	n, ok := c.Mirror().Node(sinkID)
	require.True(t, ok)
	require.Equal(t, "pwmixer_test", n.Name)

	out, ok := c.Mirror().Node(outID)
	require.True(t, ok)
	require.Equal(t, "pwmixer_test_playback", out.Name)
}

func TestController_CreateLink_PlansAndLinks(t *testing.T) {
	c, fb := newTestController()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	sinkID, _, _, err := c.CreateVirtualSink(ctx, "pwmixer_game", "Game")
	require.NoError(t, err)

	fb.addStreamNode(9001, "firefox")
	time.Sleep(20 * time.Millisecond) // let reconcile pick up the stream node

	err = c.CreateLink(ctx, 9001, sinkID)
	require.NoError(t, err)

	require.NotEmpty(t, fb.links)
}

func TestController_DestroyVirtualSink_RemovesFromMirror(t *testing.T) {
	c, _ := newTestController()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	sinkID, outID, pid, err := c.CreateVirtualSink(ctx, "pwmixer_music", "Music")
	require.NoError(t, err)

	require.NoError(t, c.DestroyVirtualSink(ctx, pid, sinkID, outID))

	_, ok := c.Mirror().Node(sinkID)
	require.False(t, ok)
}

func TestController_Reconcile_ObservesXrunGrowth(t *testing.T) {
	c, fb := newTestController()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	fb.addStreamNode(5001, "xrun_test_node")
	fb.setXrunCount(5001, 2)
	time.Sleep(20 * time.Millisecond)

	before := testutil.ToFloat64(metrics.XrunTotal.WithLabelValues("xrun_test_node"))

	fb.setXrunCount(5001, 5)
	time.Sleep(20 * time.Millisecond)

	after := testutil.ToFloat64(metrics.XrunTotal.WithLabelValues("xrun_test_node"))
	require.Equal(t, float64(3), after-before)
}
