// Package graph mirrors the PipeWire audio graph in memory: nodes, ports,
// and links, kept current by a registry listener and queried by the
// controller and link planner.
package graph

import "sync"

// Direction is a port's signal direction relative to its owning node.
type Direction int

const (
	DirectionUnknown Direction = iota
	DirectionInput
	DirectionOutput
)

// MediaClass classifies a node the way PipeWire's registry reports it.
type MediaClass string

const (
	MediaClassAudioSink   MediaClass = "Audio/Sink"
	MediaClassAudioSource MediaClass = "Audio/Source"
	MediaClassStreamInput MediaClass = "Stream/Input/Audio"
	MediaClassStreamOutput MediaClass = "Stream/Output/Audio"
)

// ChannelTag identifies a port's audio channel position. Ordering follows
// the stable sort the link planner requires: FL < FR < FC < LFE < RL < RR < Unknown.
type ChannelTag int

const (
	ChannelFL ChannelTag = iota
	ChannelFR
	ChannelFC
	ChannelLFE
	ChannelRL
	ChannelRR
	ChannelUnknown
)

// ChannelTagFromName maps a PipeWire port "channel" property value to a tag.
func ChannelTagFromName(name string) ChannelTag {
	switch name {
	case "FL":
		return ChannelFL
	case "FR":
		return ChannelFR
	case "FC", "MONO":
		return ChannelFC
	case "LFE":
		return ChannelLFE
	case "RL", "SL":
		return ChannelRL
	case "RR", "SR":
		return ChannelRR
	default:
		return ChannelUnknown
	}
}

// Port is a single input or output port on a node.
type Port struct {
	ID        uint32
	NodeID    uint32
	Name      string
	Direction Direction
	Channel   ChannelTag
}

// Node is a PipeWire node: a sink, source, or stream endpoint.
type Node struct {
	ID          uint32
	Name        string
	Description string
	MediaClass  MediaClass
	Properties  map[string]string
	Ports       []Port
}

// Link connects an output port to an input port.
type Link struct {
	ID           uint32
	OutputNodeID uint32
	OutputPortID uint32
	InputNodeID  uint32
	InputPortID  uint32
}

// Snapshot is a read-only, point-in-time copy of the mirrored graph.
type Snapshot struct {
	Nodes []Node
	Links []Link
}

// Mirror holds the in-memory graph state, updated by the registry listener
// goroutine and read by the controller and link planner. All access goes
// through its methods; the zero value is not usable, use NewMirror.
type Mirror struct {
	mu    sync.RWMutex
	nodes map[uint32]*Node
	links map[uint32]*Link
}

func NewMirror() *Mirror {
	return &Mirror{
		nodes: make(map[uint32]*Node),
		links: make(map[uint32]*Link),
	}
}

func (m *Mirror) UpsertNode(n Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := n
	cp.Properties = copyProps(n.Properties)
	m.nodes[n.ID] = &cp
}

func copyProps(p map[string]string) map[string]string {
	if p == nil {
		return nil
	}
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func (m *Mirror) RemoveNode(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes, id)
}

func (m *Mirror) AddPort(nodeID uint32, p Port) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[nodeID]
	if !ok {
		return
	}
	n.Ports = append(n.Ports, p)
}

func (m *Mirror) RemovePort(nodeID, portID uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[nodeID]
	if !ok {
		return
	}
	out := n.Ports[:0]
	for _, p := range n.Ports {
		if p.ID != portID {
			out = append(out, p)
		}
	}
	n.Ports = out
}

func (m *Mirror) UpsertLink(l Link) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := l
	m.links[l.ID] = &cp
}

func (m *Mirror) RemoveLink(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.links, id)
}

func (m *Mirror) Node(id uint32) (Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// NodeByName returns the first node whose Name matches, mirroring how
// PipeWire identifies nodes by their node.name property in practice.
func (m *Mirror) NodeByName(name string) (Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, n := range m.nodes {
		if n.Name == name {
			return *n, true
		}
	}
	return Node{}, false
}

// Snapshot returns a deep copy of the current graph for callers that need
// a consistent view across several decisions (e.g. the link planner).
func (m *Mirror) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Snapshot{
		Nodes: make([]Node, 0, len(m.nodes)),
		Links: make([]Link, 0, len(m.links)),
	}
	for _, n := range m.nodes {
		cp := *n
		cp.Ports = append([]Port(nil), n.Ports...)
		cp.Properties = copyProps(n.Properties)
		s.Nodes = append(s.Nodes, cp)
	}
	for _, l := range m.links {
		s.Links = append(s.Links, *l)
	}
	return s
}

// ByMediaClass filters nodes from a snapshot by media class, in the same
// collection-then-filter idiom the teacher used for device collections.
func (s Snapshot) ByMediaClass(mc MediaClass) []Node {
	var out []Node
	for _, n := range s.Nodes {
		if n.MediaClass == mc {
			out = append(out, n)
		}
	}
	return out
}

// PlaybackStreams returns every stream-output node (an application's
// playback stream), the candidate set the link planner and auto-router
// pick from when routing an app to a channel.
func (s Snapshot) PlaybackStreams() []Node {
	return s.ByMediaClass(MediaClassStreamOutput)
}

// OutputDevices returns every hardware audio sink, excluding nodes whose
// name is in exclude (typically the mixer's own virtual sinks), the
// candidate set SetMasterOutput and RouteChannelToDevice choose a
// fallback target from.
func (s Snapshot) OutputDevices(exclude ...string) []Node {
	skip := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		skip[name] = true
	}
	var out []Node
	for _, n := range s.ByMediaClass(MediaClassAudioSink) {
		if !skip[n.Name] {
			out = append(out, n)
		}
	}
	return out
}

// LinksFromNode returns every link whose output end is attached to nodeID,
// used by RouteChannelToDevice to enumerate a loopback output's existing
// connections before re-routing them.
func (s Snapshot) LinksFromNode(nodeID uint32) []Link {
	var out []Link
	for _, l := range s.Links {
		if l.OutputNodeID == nodeID {
			out = append(out, l)
		}
	}
	return out
}

// Outputs returns a node's output-direction ports.
func (n Node) Outputs() []Port {
	var out []Port
	for _, p := range n.Ports {
		if p.Direction == DirectionOutput {
			out = append(out, p)
		}
	}
	return out
}

// Inputs returns a node's input-direction ports.
func (n Node) Inputs() []Port {
	var out []Port
	for _, p := range n.Ports {
		if p.Direction == DirectionInput {
			out = append(out, p)
		}
	}
	return out
}
