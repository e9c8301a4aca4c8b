// Package pwclient is the graph controller: a single goroutine that owns
// all mutation of the mirrored PipeWire graph, draining a command queue
// and applying a registry listener's events to the mirror.
package pwclient

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sootmix/pwmixer/graph"
	"github.com/sootmix/pwmixer/internal/metrics"
	"github.com/sootmix/pwmixer/pwclient/exec"
	"github.com/sootmix/pwmixer/queue"
)

// Command is the full mutation surface the controller accepts, named
// exactly as the channel/app service invokes it.
type Command interface {
	queue.Op
}

// Event is published by the controller after a command completes or the
// registry observes a change, for the channel/app service to react to.
type Event struct {
	Kind   EventKind
	NodeID uint32
	PortID uint32
	LinkID uint32
	Err    error
}

type EventKind int

const (
	EventVirtualSinkCreated EventKind = iota
	EventVirtualSinkDestroyed
	EventRecordingSourceCreated
	EventNodeAdded
	EventNodeRemoved
	EventPortAdded
	EventLinkCreated
	EventLinkDestroyed
)

// volumeThrottle is the coalescing window for native-proxy volume/mute
// writes on a single node: repeated calls within the window collapse to
// one dispatch carrying the last value written.
const volumeThrottle = 50 * time.Millisecond

// dispatchTimeout bounds how long a throttled proxy write may take before
// the controller gives up on it.
const dispatchTimeout = 60 * time.Millisecond

type pendingControl struct {
	linear *float64
	muted  *bool
	timer  *time.Timer
}

// Controller runs the single-threaded command drain loop and keeps the
// graph mirror current.
type Controller struct {
	log       zerolog.Logger
	mirror    *graph.Mirror
	listener  *graph.Listener
	registry  exec.Registry
	links     exec.LinkFactory
	spawner   exec.NodeSpawner
	proxy     exec.NodeProxy
	cmds      *queue.Queue
	events    chan Event
	pollEvery time.Duration
	connected atomic.Bool

	ctrlMu  sync.Mutex
	pending map[uint32]*pendingControl
}

func NewController(log zerolog.Logger, registry exec.Registry, links exec.LinkFactory, spawner exec.NodeSpawner, proxy exec.NodeProxy) *Controller {
	return NewControllerWithQueueLen(log, registry, links, spawner, proxy, 64)
}

// NewControllerWithQueueLen is NewController with an explicit command
// queue depth, for callers that size it from configuration.
func NewControllerWithQueueLen(log zerolog.Logger, registry exec.Registry, links exec.LinkFactory, spawner exec.NodeSpawner, proxy exec.NodeProxy, queueLen int) *Controller {
	mirror := graph.NewMirror()
	return &Controller{
		log:       log.With().Str("component", "controller").Logger(),
		mirror:    mirror,
		listener:  graph.NewListener(mirror),
		registry:  registry,
		links:     links,
		spawner:   spawner,
		proxy:     proxy,
		cmds:      queue.New(queueLen),
		events:    make(chan Event, 256),
		pollEvery: 500 * time.Millisecond,
		pending:   make(map[uint32]*pendingControl),
	}
}

func (c *Controller) Mirror() *graph.Mirror { return c.mirror }
func (c *Controller) Events() <-chan Event  { return c.events }

// Connected reports whether the controller's run loop has completed at
// least one reconcile pass against the audio server since it last started.
func (c *Controller) Connected() bool { return c.connected.Load() }

// Enqueue schedules a command onto the controller's single mutation
// goroutine. Non-blocking unless the queue is full.
func (c *Controller) Enqueue(cmd Command) error {
	return c.cmds.Enqueue(cmd)
}

// RunSync enqueues a function and blocks for its result, used by commands
// that must report success/failure synchronously (e.g. CreateVirtualSink
// waiting for VirtualSinkCreated).
func (c *Controller) RunSync(ctx context.Context, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	start := time.Now()
	err := c.cmds.Enqueue(queue.Func(func(ctx context.Context) error {
		e := fn(ctx)
		metrics.ObserveDispatch(start)
		select {
		case done <- e:
		default:
		}
		return e
	}))
	if err != nil {
		return err
	}
	select {
	case e := <-done:
		return e
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AwaitInitialDiscovery blocks until the registry poll loop has completed
// at least one reconcile pass, or ctx ends. The caller bounds the wait:
// Service.awaitInitialDiscovery waits at least 300ms and at most 1500ms in
// total; no count of quiescent polls is kept.
func (c *Controller) AwaitInitialDiscovery(ctx context.Context) error {
	for !c.Connected() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return nil
}

// Run starts the command queue worker and the registry poll loop. It
// blocks until ctx is canceled.
func (c *Controller) Run(ctx context.Context) error {
	c.cmds.Start()
	defer c.cmds.Close()
	defer close(c.events)
	defer c.connected.Store(false)

	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()

	if err := c.reconcile(ctx); err != nil {
		c.log.Warn().Err(err).Msg("initial graph reconcile failed")
	} else {
		c.connected.Store(true)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.reconcile(ctx); err != nil {
				c.log.Warn().Err(err).Msg("graph reconcile failed")
				continue
			}
			c.connected.Store(true)
		}
	}
}

// reconcile re-dumps the audio server's registry and diffs it against the
// mirror, emitting NodeAdded/NodeRemoved/PortAdded/LinkCreated/LinkDestroyed
// events for anything that changed. This stands in for a push-based
// registry listener (which the real libpipewire client would provide)
// behind the same exec.Registry interface, routing every mutation through
// graph.Listener so the mirror is only ever touched through that adapter.
func (c *Controller) reconcile(ctx context.Context) error {
	snap, err := c.registry.Dump(ctx)
	if err != nil {
		return fmt.Errorf("dump registry: %w", err)
	}

	before := c.mirror.Snapshot()
	oldByID := make(map[uint32]graph.Node, len(before.Nodes))
	for _, old := range before.Nodes {
		oldByID[old.ID] = old
	}

	seen := make(map[uint32]bool, len(snap.Nodes))
	for _, n := range snap.Nodes {
		seen[n.ID] = true
		old, existed := oldByID[n.ID]
		if !existed {
			c.listener.OnNodeAdded(n)
			c.emit(Event{Kind: EventNodeAdded, NodeID: n.ID})
			continue
		}
		c.listener.OnNodeAdded(n) // upsert: refresh properties/ports on the existing node
		c.observeXrunDelta(n, old)
		if len(old.Ports) == 0 && len(n.Ports) > 0 {
			for _, p := range n.Ports {
				c.emit(Event{Kind: EventPortAdded, NodeID: n.ID, PortID: p.ID})
			}
		}
	}
	for _, old := range before.Nodes {
		if !seen[old.ID] {
			c.listener.OnNodeRemoved(old.ID)
			c.emit(Event{Kind: EventNodeRemoved, NodeID: old.ID})
		}
	}

	oldLinkByID := make(map[uint32]graph.Link, len(before.Links))
	for _, l := range before.Links {
		oldLinkByID[l.ID] = l
	}
	seenLinks := make(map[uint32]bool, len(snap.Links))
	for _, l := range snap.Links {
		seenLinks[l.ID] = true
		if _, existed := oldLinkByID[l.ID]; !existed {
			c.listener.OnLinkAdded(l)
			c.emit(Event{Kind: EventLinkCreated, NodeID: l.InputNodeID, PortID: l.InputPortID, LinkID: l.ID})
		}
	}
	for _, l := range before.Links {
		if !seenLinks[l.ID] {
			c.listener.OnLinkRemoved(l.ID)
			c.emit(Event{Kind: EventLinkDestroyed, NodeID: l.InputNodeID, PortID: l.InputPortID, LinkID: l.ID})
		}
	}
	return nil
}

// observeXrunDelta increments the xrun counter when a node's xrun.count
// property grows between two reconcile passes, surfacing PipeWire-reported
// underrun/overrun events as a Prometheus counter.
func (c *Controller) observeXrunDelta(current, previous graph.Node) {
	cur, err1 := strconv.Atoi(current.Properties["xrun.count"])
	prev, err2 := strconv.Atoi(previous.Properties["xrun.count"])
	if err1 != nil || err2 != nil {
		return
	}
	if cur > prev {
		metrics.XrunTotal.WithLabelValues(current.Name).Add(float64(cur - prev))
	}
}

func (c *Controller) emit(e Event) {
	select {
	case c.events <- e:
	default:
		metrics.ThrottleDrops.Inc()
		c.log.Warn().Msg("event channel full, dropping event")
	}
}

// CreateLink plans and executes links between two nodes using the link
// planner, emitting LinkCreated for each.
func (c *Controller) CreateLink(ctx context.Context, srcNodeID, dstNodeID uint32) error {
	return c.RunSync(ctx, func(ctx context.Context) error {
		src, ok := c.mirror.Node(srcNodeID)
		if !ok {
			return fmt.Errorf("source node %d not found", srcNodeID)
		}
		dst, ok := c.mirror.Node(dstNodeID)
		if !ok {
			return fmt.Errorf("destination node %d not found", dstNodeID)
		}
		plans := graph.PlanLinks(src, dst)
		for _, p := range plans {
			if err := c.links.Link(ctx, p.OutputPortID, p.InputPortID); err != nil {
				return fmt.Errorf("link %d->%d: %w", p.OutputPortID, p.InputPortID, err)
			}
			c.emit(Event{Kind: EventLinkCreated, NodeID: dstNodeID, PortID: p.InputPortID})
		}
		return nil
	})
}

// DestroyLink removes a single port-to-port link.
func (c *Controller) DestroyLink(ctx context.Context, outPort, inPort uint32) error {
	return c.RunSync(ctx, func(ctx context.Context) error {
		if err := c.links.Unlink(ctx, outPort, inPort); err != nil {
			return err
		}
		c.emit(Event{Kind: EventLinkDestroyed, PortID: inPort})
		return nil
	})
}

// BindNode links every matching port pair between two nodes, the
// node-granularity command the service uses to route an app to a channel.
func (c *Controller) BindNode(ctx context.Context, srcNodeID, dstNodeID uint32) error {
	return c.CreateLink(ctx, srcNodeID, dstNodeID)
}

// UnbindNode removes every existing link between two nodes, the
// node-granularity counterpart to BindNode used when an app is
// reassigned or removed.
func (c *Controller) UnbindNode(ctx context.Context, srcNodeID, dstNodeID uint32) error {
	return c.RunSync(ctx, func(ctx context.Context) error {
		snap := c.mirror.Snapshot()
		for _, l := range snap.Links {
			if l.OutputNodeID != srcNodeID || l.InputNodeID != dstNodeID {
				continue
			}
			if err := c.links.Unlink(ctx, l.OutputPortID, l.InputPortID); err != nil {
				return fmt.Errorf("unlink %d->%d: %w", l.OutputPortID, l.InputPortID, err)
			}
			c.listener.OnLinkRemoved(l.ID)
			c.emit(Event{Kind: EventLinkDestroyed, PortID: l.InputPortID, LinkID: l.ID})
		}
		return nil
	})
}

// RouteChannelToDevice re-routes a channel's loopback output to a new
// hardware sink: it computes the new port pairs and links them first,
// then destroys the previously existing links from the loopback output,
// so a failure mid-way never leaves the channel silent.
func (c *Controller) RouteChannelToDevice(ctx context.Context, loopbackOutputNodeID, deviceNodeID uint32) error {
	return c.RunSync(ctx, func(ctx context.Context) error {
		src, ok := c.mirror.Node(loopbackOutputNodeID)
		if !ok {
			return fmt.Errorf("loopback output node %d not found", loopbackOutputNodeID)
		}
		dst, ok := c.mirror.Node(deviceNodeID)
		if !ok {
			return fmt.Errorf("device node %d not found", deviceNodeID)
		}

		existing := c.mirror.Snapshot().LinksFromNode(loopbackOutputNodeID)

		plans := graph.PlanLinks(src, dst)
		for _, p := range plans {
			if err := c.links.Link(ctx, p.OutputPortID, p.InputPortID); err != nil {
				return fmt.Errorf("link %d->%d: %w", p.OutputPortID, p.InputPortID, err)
			}
			c.listener.OnLinkAdded(graph.Link{
				OutputNodeID: loopbackOutputNodeID, OutputPortID: p.OutputPortID,
				InputNodeID: deviceNodeID, InputPortID: p.InputPortID,
			})
			c.emit(Event{Kind: EventLinkCreated, NodeID: deviceNodeID, PortID: p.InputPortID})
		}
		for _, l := range existing {
			if err := c.links.Unlink(ctx, l.OutputPortID, l.InputPortID); err != nil {
				c.log.Warn().Err(err).Uint32("link", l.ID).Msg("failed to unlink stale route")
				continue
			}
			c.listener.OnLinkRemoved(l.ID)
			c.emit(Event{Kind: EventLinkDestroyed, PortID: l.InputPortID, LinkID: l.ID})
		}
		return nil
	})
}

// UpdateSinkDescription renames a sink's node.description via the
// session-manager tool, the backing command for RenameChannel.
func (c *Controller) UpdateSinkDescription(ctx context.Context, nodeID uint32, description string) error {
	return c.RunSync(ctx, func(ctx context.Context) error {
		return c.proxy.UpdateSinkDescription(ctx, nodeID, description)
	})
}

// SetDefaultSink marks nodeID as the audio server's default sink, the
// backing command for SetMasterOutput.
func (c *Controller) SetDefaultSink(ctx context.Context, nodeID uint32) error {
	return c.RunSync(ctx, func(ctx context.Context) error {
		return c.proxy.SetDefaultSink(ctx, nodeID)
	})
}

// SetVolume schedules a per-node volume write through the native proxy,
// coalescing repeated calls within volumeThrottle into a single dispatch
// that carries the last value written (last-writer-wins), so a rapid
// sequence of UI slider events never queues one shell call per event.
func (c *Controller) SetVolume(nodeID uint32, linear float64) {
	c.scheduleControl(nodeID, func(p *pendingControl) { p.linear = &linear })
}

// SetMute schedules a per-node mute write with the same coalescing
// behavior as SetVolume.
func (c *Controller) SetMute(nodeID uint32, muted bool) {
	c.scheduleControl(nodeID, func(p *pendingControl) { p.muted = &muted })
}

func (c *Controller) scheduleControl(nodeID uint32, set func(*pendingControl)) {
	c.ctrlMu.Lock()
	defer c.ctrlMu.Unlock()
	p, ok := c.pending[nodeID]
	if !ok {
		p = &pendingControl{}
		c.pending[nodeID] = p
	}
	set(p)
	if p.timer != nil {
		return
	}
	p.timer = time.AfterFunc(volumeThrottle, func() { c.flushControl(nodeID) })
}

func (c *Controller) flushControl(nodeID uint32) {
	c.ctrlMu.Lock()
	p, ok := c.pending[nodeID]
	if ok {
		delete(c.pending, nodeID)
	}
	c.ctrlMu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()
	err := c.RunSync(ctx, func(ctx context.Context) error {
		if p.linear != nil {
			if err := c.proxy.SetVolume(ctx, nodeID, *p.linear); err != nil {
				return err
			}
		}
		if p.muted != nil {
			if err := c.proxy.SetMute(ctx, nodeID, *p.muted); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		c.log.Warn().Err(err).Uint32("node", nodeID).Msg("throttled volume/mute dispatch failed")
	}
}
