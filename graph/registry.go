package graph

// RegistryEvent is the set of PipeWire registry callbacks the controller
// subscribes to. A real client implementation adapts libpipewire's
// pw_registry_events into these; see pwclient for the concrete binding.
type RegistryEvent int

const (
	EventNodeAdded RegistryEvent = iota
	EventNodeRemoved
	EventPortAdded
	EventPortRemoved
	EventLinkAdded
	EventLinkRemoved
)

// Listener receives registry events and applies them to a Mirror. Kept as
// a thin adapter so the controller (pwclient) can drive a Mirror without
// this package depending on any transport.
type Listener struct {
	m *Mirror
}

func NewListener(m *Mirror) *Listener {
	return &Listener{m: m}
}

func (l *Listener) OnNodeAdded(n Node) { l.m.UpsertNode(n) }
func (l *Listener) OnNodeRemoved(id uint32) { l.m.RemoveNode(id) }
func (l *Listener) OnPortAdded(nodeID uint32, p Port) { l.m.AddPort(nodeID, p) }
func (l *Listener) OnPortRemoved(nodeID, portID uint32) { l.m.RemovePort(nodeID, portID) }
func (l *Listener) OnLinkAdded(link Link) { l.m.UpsertLink(link) }
func (l *Listener) OnLinkRemoved(id uint32) { l.m.RemoveLink(id) }
