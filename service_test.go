package pwmixer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sootmix/pwmixer/graph"
	"github.com/sootmix/pwmixer/pwclient"
	"github.com/sootmix/pwmixer/pwclient/exec"
)

// fakeBackend implements exec.Registry, exec.LinkFactory, exec.NodeSpawner,
// and exec.NodeProxy in memory, for exercising Service without a real
// PipeWire server or NATS transport.
type fakeBackend struct {
	mu       sync.Mutex
	nodes    map[uint32]graph.Node
	nextID   atomic.Uint32
	links    map[[2]uint32]bool
	pidNodes map[int][]uint32
}

func newFakeBackend() *fakeBackend {
	f := &fakeBackend{
		nodes:    make(map[uint32]graph.Node),
		links:    make(map[[2]uint32]bool),
		pidNodes: make(map[int][]uint32),
	}
	f.nextID.Store(1)
	return f
}

func (f *fakeBackend) Dump(ctx context.Context) (graph.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := graph.Snapshot{}
	for _, n := range f.nodes {
		snap.Nodes = append(snap.Nodes, n)
	}
	for pair := range f.links {
		snap.Links = append(snap.Links, graph.Link{
			ID:           pair[0]<<16 | pair[1],
			OutputNodeID: pair[0] / 1000,
			OutputPortID: pair[0],
			InputNodeID:  pair[1] / 1000,
			InputPortID:  pair[1],
		})
	}
	return snap, nil
}

func (f *fakeBackend) Link(ctx context.Context, outPort, inPort uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links[[2]uint32{outPort, inPort}] = true
	return nil
}

func (f *fakeBackend) Unlink(ctx context.Context, outPort, inPort uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.links, [2]uint32{outPort, inPort})
	return nil
}

func (f *fakeBackend) SpawnLoopback(ctx context.Context, name, description string) (int, error) {
	sinkID := f.nextID.Add(1)
	streamID := f.nextID.Add(1)
	pid := int(sinkID)

	f.mu.Lock()
	f.nodes[sinkID] = graph.Node{
		ID:          sinkID,
		Name:        name,
		Description: description,
		MediaClass:  graph.MediaClassAudioSink,
		Ports: []graph.Port{
			{ID: sinkID*1000 + 1, NodeID: sinkID, Direction: graph.DirectionInput, Channel: graph.ChannelFL},
			{ID: sinkID*1000 + 2, NodeID: sinkID, Direction: graph.DirectionInput, Channel: graph.ChannelFR},
		},
	}
	f.nodes[streamID] = graph.Node{
		ID:          streamID,
		Name:        name + exec.PlaybackNodeSuffix,
		Description: description + " (stream)",
		MediaClass:  graph.MediaClassStreamOutput,
		Ports: []graph.Port{
			{ID: streamID*1000 + 1, NodeID: streamID, Direction: graph.DirectionOutput, Channel: graph.ChannelFL},
			{ID: streamID*1000 + 2, NodeID: streamID, Direction: graph.DirectionOutput, Channel: graph.ChannelFR},
		},
	}
	f.pidNodes[pid] = []uint32{sinkID, streamID}
	f.mu.Unlock()
	return pid, nil
}

func (f *fakeBackend) KillLoopback(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.pidNodes[pid] {
		delete(f.nodes, id)
	}
	delete(f.pidNodes, pid)
	return nil
}

func (f *fakeBackend) SetVolume(ctx context.Context, nodeID uint32, linear float64) error { return nil }
func (f *fakeBackend) SetMute(ctx context.Context, nodeID uint32, muted bool) error        { return nil }
func (f *fakeBackend) SetDefaultSink(ctx context.Context, nodeID uint32) error             { return nil }
func (f *fakeBackend) UpdateSinkDescription(ctx context.Context, nodeID uint32, description string) error {
	return nil
}

func newTestService(t *testing.T) (*Service, context.Context, context.CancelFunc) {
	t.Helper()
	fb := newFakeBackend()
	ctrl := pwclient.NewController(zerolog.Nop(), fb, fb, fb, fb)

	ctx, cancel := context.WithCancel(context.Background())
	go ctrl.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	dir := t.TempDir()
	svc := NewService(ServiceConfig{
		Logger:       zerolog.Nop(),
		Controller:   ctrl,
		BufferFrames: 256,
		ConfigPath:   dir + "/config.yaml",
		RulesPath:    dir + "/rules.yaml",
	})
	require.NoError(t, svc.Start(ctx))
	return svc, ctx, cancel
}

func TestService_CreateAndDeleteChannel(t *testing.T) {
	svc, ctx, cancel := newTestService(t)
	defer cancel()

	ch, err := svc.CreateChannel(ctx, "game")
	require.NoError(t, err)
	require.NotZero(t, ch.SinkNodeID)
	require.NotZero(t, ch.LoopbackOutputNodeID)
	require.NotZero(t, ch.SinkPID)
	require.True(t, ch.IsManaged)
	require.Equal(t, ChannelKindOutput, ch.Kind)
	require.Len(t, svc.Channels(), 1)

	require.NoError(t, svc.DeleteChannel(ctx, ch.ID))
	require.Empty(t, svc.Channels())
}

func TestService_SetVolume_ClampsAndPersists(t *testing.T) {
	svc, ctx, cancel := newTestService(t)
	defer cancel()

	ch, err := svc.CreateChannel(ctx, "music")
	require.NoError(t, err)

	require.NoError(t, svc.SetVolume(ctx, ch.ID, 100))
	got := svc.Channels()[0]
	require.Equal(t, 24.0, got.VolumeDB)

	require.NoError(t, svc.SetVolume(ctx, ch.ID, -200))
	got = svc.Channels()[0]
	require.Equal(t, -96.0, got.VolumeDB)

	var doc MixerConfigDocument
	require.NoError(t, svc.configStore.Load(&doc))
	require.Len(t, doc.Channels, 1)
	require.Equal(t, -96.0, doc.Channels[0].VolumeDB)
}

func TestService_SetMasterRecording_TogglesOnceAndPersists(t *testing.T) {
	svc, ctx, cancel := newTestService(t)
	defer cancel()

	require.False(t, svc.MasterRecordingEnabled())

	require.NoError(t, svc.SetMasterRecording(ctx, true))
	require.True(t, svc.MasterRecordingEnabled())

	var enabledDoc MixerConfigDocument
	require.NoError(t, svc.configStore.Load(&enabledDoc))
	require.True(t, enabledDoc.MasterRecording)

	// Enabling again is a no-op, not a second spawn.
	require.NoError(t, svc.SetMasterRecording(ctx, true))
	require.True(t, svc.MasterRecordingEnabled())

	require.NoError(t, svc.SetMasterRecording(ctx, false))
	require.False(t, svc.MasterRecordingEnabled())

	var disabledDoc MixerConfigDocument
	require.NoError(t, svc.configStore.Load(&disabledDoc))
	require.False(t, disabledDoc.MasterRecording)
}
