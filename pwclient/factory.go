package pwclient

import (
	"context"
	"fmt"
	"time"

	"github.com/sootmix/pwmixer/internal/metrics"
	"github.com/sootmix/pwmixer/pwclient/exec"
)

// discoveryPoll implements the initial-discovery heuristic: poll pw-dump
// at a growing interval (starting at min, capped at max) until a node with
// the requested name appears, giving up after quiesce polls without a
// match or when ctx is canceled.
type discoveryPoll struct {
	min, max time.Duration
	quiesce  int
}

func defaultDiscoveryPoll() discoveryPoll {
	return discoveryPoll{min: 300 * time.Millisecond, max: 1500 * time.Millisecond, quiesce: 4}
}

// CreateVirtualSink spawns a loopback sink helper and waits for the audio
// server to register both halves of the pair it creates: the sink node
// apps get linked into, and its paired loopback-output (playback-stream)
// node, which is what actually carries audio onward to a hardware device
// and is what SetVolume/SetMute/RouteChannelToDevice operate on.
func (c *Controller) CreateVirtualSink(ctx context.Context, name, description string) (sinkNodeID, loopbackOutputNodeID uint32, pid int, err error) {
	err = c.RunSync(ctx, func(ctx context.Context) error {
		spawnedPID, err := c.spawner.SpawnLoopback(ctx, name, description)
		if err != nil {
			return fmt.Errorf("spawn loopback: %w", err)
		}
		sinkID, err := c.awaitNodeByName(ctx, name)
		if err != nil {
			_ = c.spawner.KillLoopback(spawnedPID)
			return err
		}
		outID, err := c.awaitNodeByName(ctx, name+exec.PlaybackNodeSuffix)
		if err != nil {
			_ = c.spawner.KillLoopback(spawnedPID)
			return err
		}
		sinkNodeID, loopbackOutputNodeID, pid = sinkID, outID, spawnedPID
		c.emit(Event{Kind: EventVirtualSinkCreated, NodeID: sinkID})
		return nil
	})
	return sinkNodeID, loopbackOutputNodeID, pid, err
}

// DestroyVirtualSink kills the loopback helper owning the given node pair,
// relying on the audio server to unregister both nodes once the process
// exits.
func (c *Controller) DestroyVirtualSink(ctx context.Context, pid int, sinkNodeID, loopbackOutputNodeID uint32) error {
	return c.RunSync(ctx, func(ctx context.Context) error {
		if err := c.spawner.KillLoopback(pid); err != nil {
			return fmt.Errorf("kill loopback: %w", err)
		}
		c.listener.OnNodeRemoved(sinkNodeID)
		if loopbackOutputNodeID != 0 {
			c.listener.OnNodeRemoved(loopbackOutputNodeID)
		}
		c.emit(Event{Kind: EventVirtualSinkDestroyed, NodeID: sinkNodeID})
		return nil
	})
}

// CreateRecordingSource spawns the same loopback helper pair as
// CreateVirtualSink and waits only for the node named name (the sink side
// of the pair); no separate source node or monitor capture is set up.
// Returns that node ID and the helper pid.
func (c *Controller) CreateRecordingSource(ctx context.Context, name, description string) (nodeID uint32, pid int, err error) {
	err = c.RunSync(ctx, func(ctx context.Context) error {
		spawnedPID, err := c.spawner.SpawnLoopback(ctx, name, description)
		if err != nil {
			return fmt.Errorf("spawn recording source: %w", err)
		}
		id, err := c.awaitNodeByName(ctx, name)
		if err != nil {
			_ = c.spawner.KillLoopback(spawnedPID)
			return err
		}
		nodeID, pid = id, spawnedPID
		c.emit(Event{Kind: EventRecordingSourceCreated, NodeID: id})
		return nil
	})
	return nodeID, pid, err
}

// DestroyRecordingSource tears down a recording-source node created by
// CreateRecordingSource.
func (c *Controller) DestroyRecordingSource(ctx context.Context, pid int, nodeID uint32) error {
	return c.DestroyVirtualSink(ctx, pid, nodeID, 0)
}

// awaitNodeByName polls the mirror for a node with the given name using
// the adaptive discovery heuristic: poll interval grows from min toward
// max, and discovery gives up after `quiesce` consecutive polls produce
// no new match (or ctx is canceled).
func (c *Controller) awaitNodeByName(ctx context.Context, name string) (uint32, error) {
	start := time.Now()
	d := defaultDiscoveryPoll()
	interval := d.min
	misses := 0

	for {
		if err := c.reconcile(ctx); err != nil {
			c.log.Warn().Err(err).Msg("discovery reconcile failed")
		}
		if n, ok := c.mirror.NodeByName(name); ok {
			metrics.DiscoveryDuration.Set(time.Since(start).Seconds())
			return n.ID, nil
		}

		misses++
		if misses >= d.quiesce {
			return 0, fmt.Errorf("node %q did not appear after %d polls", name, misses)
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(interval):
		}

		interval *= 2
		if interval > d.max {
			interval = d.max
		}
	}
}
