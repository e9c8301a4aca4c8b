// Package rtchain runs a channel's ordered plugin instances against
// ping-pong audio buffers on the real-time thread. It never blocks, and
// allocates only to grow its ping-pong buffers the first time a block is
// longer than they are: a busy plugin is skipped via TryLock rather than
// waited on, and an empty chain (or one with a plugin unavailable) falls
// through as passthrough rather than silence.
package rtchain

import (
	"sync"
	"sync/atomic"

	"github.com/sootmix/pwmixer/plugins"
	"github.com/sootmix/pwmixer/rtbus"
)

type slot struct {
	name     string
	instance plugins.Instance
	bypassed atomic.Bool
	mu       sync.Mutex // guards instance access; RT thread only ever TryLocks
	params   *rtbus.Ring
}

// Processor owns an ordered list of plugin slots for one channel and
// ping-pong buffers to avoid allocating inside Process. The slot list
// itself is published via an atomic pointer so Process never takes a
// lock to read the chain topology — AddPlugin/RemovePlugin build a new
// slice and swap it in.
type Processor struct {
	mgmt     sync.Mutex // serializes AddPlugin/RemovePlugin/RenameChain-adjacent writers
	slots    atomic.Pointer[[]*slot]
	pingPong [2][]float32
	peak     rtbus.AtomicF32
}

func NewProcessor(bufferFrames int) *Processor {
	p := &Processor{}
	p.pingPong[0] = make([]float32, bufferFrames)
	p.pingPong[1] = make([]float32, bufferFrames)
	empty := []*slot{}
	p.slots.Store(&empty)
	return p
}

func (p *Processor) current() []*slot {
	return *p.slots.Load()
}

// AddPlugin appends a plugin instance to the end of the chain. Non-RT
// call, serialized by the caller (the channel/app service's command
// queue).
func (p *Processor) AddPlugin(name string, inst plugins.Instance) error {
	if err := inst.Activate(); err != nil {
		return err
	}
	p.mgmt.Lock()
	defer p.mgmt.Unlock()
	next := append(append([]*slot(nil), p.current()...), &slot{name: name, instance: inst, params: rtbus.NewRing(64)})
	p.slots.Store(&next)
	return nil
}

// RemovePlugin removes the named plugin from the chain, deactivating it.
func (p *Processor) RemovePlugin(name string) error {
	p.mgmt.Lock()
	defer p.mgmt.Unlock()
	cur := p.current()
	next := make([]*slot, 0, len(cur))
	var removed *slot
	for _, s := range cur {
		if s.name == name {
			removed = s
			continue
		}
		next = append(next, s)
	}
	p.slots.Store(&next)
	if removed != nil {
		return removed.instance.Deactivate()
	}
	return nil
}

// SetBypass toggles bypass for a named plugin without removing it.
func (p *Processor) SetBypass(name string, bypass bool) {
	for _, s := range p.current() {
		if s.name == name {
			s.bypassed.Store(bypass)
			return
		}
	}
}

// QueueParam enqueues a parameter update for the named plugin's RT-safe
// ring buffer. Non-RT callers use this instead of calling SetParameter
// directly.
func (p *Processor) QueueParam(name string, index uint32, value float32) bool {
	for _, s := range p.current() {
		if s.name == name {
			return s.params.Push(rtbus.ParamMessage{ParamIndex: index, Value: value})
		}
	}
	return false
}

// Process runs the chain against in, writing the result to out. Called
// from the RT thread only. An empty chain copies in to out (passthrough).
// A plugin whose slot lock can't be acquired immediately, or that is
// bypassed, is skipped for this block rather than blocking the thread.
func (p *Processor) Process(in, out []float32) {
	slots := p.current()
	if len(slots) == 0 {
		copy(out, in)
		p.storePeak(out)
		return
	}

	cur := in
	if len(p.pingPong[0]) < len(in) {
		p.pingPong[0] = make([]float32, len(in))
		p.pingPong[1] = make([]float32, len(in))
	}
	a, b := p.pingPong[0], p.pingPong[1]
	bufs := [2][]float32{a[:len(in)], b[:len(in)]}
	next := 0

	ranAny := false
	for _, s := range slots {
		if s.bypassed.Load() {
			continue
		}
		if !s.mu.TryLock() {
			continue // busy: skip this block for this plugin, passthrough its input
		}
		s.params.Drain(func(m rtbus.ParamMessage) {
			_ = s.instance.SetParameter(int(m.ParamIndex), m.Value)
		})
		dst := bufs[next]
		if err := s.instance.Process(cur, dst); err != nil {
			s.mu.Unlock()
			continue
		}
		s.mu.Unlock()
		cur = dst
		next = 1 - next
		ranAny = true
	}

	if !ranAny {
		cur = in
	}
	copy(out, cur)
	p.storePeak(out)
}

func (p *Processor) storePeak(out []float32) {
	var peak float32
	for _, v := range out {
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	p.peak.Store(peak)
}

// PeakLevel returns the peak absolute sample value from the most recently
// processed block, for UI-facing metering. Safe to call from any thread;
// never blocks the RT thread, which only ever writes to it.
func (p *Processor) PeakLevel() float32 {
	return p.peak.Load()
}

// Names lists the chain's plugin names in processing order.
func (p *Processor) Names() []string {
	slots := p.current()
	names := make([]string, len(slots))
	for i, s := range slots {
		names[i] = s.name
	}
	return names
}

// Len reports the number of plugins in the chain.
func (p *Processor) Len() int {
	return len(p.current())
}
