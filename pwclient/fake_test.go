package pwclient

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sootmix/pwmixer/graph"
	"github.com/sootmix/pwmixer/pwclient/exec"
)

// fakeBackend implements exec.Registry, exec.LinkFactory, exec.NodeSpawner,
// and exec.NodeProxy entirely in memory, for testing the controller and
// its callers without a real PipeWire server.
type fakeBackend struct {
	mu          sync.Mutex
	nodes       map[uint32]graph.Node
	nextID      atomic.Uint32
	links       map[[2]uint32]bool
	pidNodes    map[int][]uint32
	volumes     map[uint32]float64
	mutes       map[uint32]bool
	defaultSink uint32
	descriptions map[uint32]string
}

func newFakeBackend() *fakeBackend {
	f := &fakeBackend{
		nodes:        make(map[uint32]graph.Node),
		links:        make(map[[2]uint32]bool),
		pidNodes:     make(map[int][]uint32),
		volumes:      make(map[uint32]float64),
		mutes:        make(map[uint32]bool),
		descriptions: make(map[uint32]string),
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

// SpawnLoopback creates a sink node and a paired playback-stream node,
// mirroring the real pw-loopback helper's sink+output-stream contract.
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

func (f *fakeBackend) SetVolume(ctx context.Context, nodeID uint32, linear float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes[nodeID] = linear
	return nil
}

func (f *fakeBackend) SetMute(ctx context.Context, nodeID uint32, muted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutes[nodeID] = muted
	return nil
}

func (f *fakeBackend) SetDefaultSink(ctx context.Context, nodeID uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaultSink = nodeID
	return nil
}

func (f *fakeBackend) UpdateSinkDescription(ctx context.Context, nodeID uint32, description string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.descriptions[nodeID] = description
	return nil
}

func (f *fakeBackend) addStreamNode(id uint32, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[id] = graph.Node{
		ID: id, Name: name, MediaClass: graph.MediaClassStreamOutput,
		Ports: []graph.Port{{ID: id*1000 + 1, NodeID: id, Direction: graph.DirectionOutput, Channel: graph.ChannelFL}},
	}
}

func (f *fakeBackend) setXrunCount(id uint32, count int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[id]
	if !ok {
		return
	}
	if n.Properties == nil {
		n.Properties = make(map[string]string)
	}
	n.Properties["xrun.count"] = fmt.Sprint(count)
	f.nodes[id] = n
}
