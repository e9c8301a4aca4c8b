package rtbus

import (
	"math"
	"sync/atomic"
)

// AtomicF32 is a lock-free float32 built on atomic.Uint32, since the
// standard library has no atomic.Float32. Safe for one writer and any
// number of readers without the RT thread ever taking a lock.
type AtomicF32 struct {
	bits atomic.Uint32
}

func NewAtomicF32(v float32) *AtomicF32 {
	a := &AtomicF32{}
	a.Store(v)
	return a
}

func (a *AtomicF32) Load() float32 {
	return math.Float32frombits(a.bits.Load())
}

func (a *AtomicF32) Store(v float32) {
	a.bits.Store(math.Float32bits(v))
}

// ParameterBlock is a double-buffered value of type T: the control path
// writes a new value into the inactive slot then flips the active index,
// so the RT thread's Read never observes a torn write and never blocks
// behind the writer.
type ParameterBlock[T any] struct {
	slots  [2]T
	active atomic.Uint32
}

func NewParameterBlock[T any](initial T) *ParameterBlock[T] {
	p := &ParameterBlock[T]{}
	p.slots[0] = initial
	p.slots[1] = initial
	return p
}

// Write stores v into the inactive slot and publishes it. Must be called
// from a single writer goroutine (or serialized externally).
func (p *ParameterBlock[T]) Write(v T) {
	next := 1 - p.active.Load()
	p.slots[next] = v
	p.active.Store(next)
}

// Read returns the currently published value. Safe for the RT thread.
func (p *ParameterBlock[T]) Read() T {
	return p.slots[p.active.Load()]
}
