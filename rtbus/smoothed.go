package rtbus

import "math"

// SmoothedParam applies a one-pole lowpass to a target value so RT-thread
// parameter changes (e.g. volume) ramp instead of stepping, avoiding
// audible zipper noise. Tick must be called once per audio block from
// the RT thread; SetTarget may be called from any thread via the
// embedded AtomicF32.
type SmoothedParam struct {
	target  *AtomicF32
	current float32
	coeff   float32 // per-tick pole coefficient, in (0, 1]
}

// NewSmoothedParam creates a param with the given initial value and a
// time constant expressed as the number of ticks to settle to ~63% of a
// step change (the standard one-pole RC definition).
func NewSmoothedParam(initial float32, timeConstantTicks float64) *SmoothedParam {
	coeff := float32(1.0)
	if timeConstantTicks > 0 {
		coeff = float32(1 - math.Exp(-1/timeConstantTicks))
	}
	return &SmoothedParam{
		target:  NewAtomicF32(initial),
		current: initial,
		coeff:   coeff,
	}
}

// SetTarget publishes a new target value. Non-RT callers use this.
func (s *SmoothedParam) SetTarget(v float32) {
	s.target.Store(v)
}

// Tick advances the filter by one step and returns the new current value.
// RT-thread only.
func (s *SmoothedParam) Tick() float32 {
	t := s.target.Load()
	s.current += (t - s.current) * s.coeff
	return s.current
}

// Current returns the filter's last computed value without advancing it.
func (s *SmoothedParam) Current() float32 {
	return s.current
}

// AtTarget reports whether the current value has converged to within eps
// of the target, useful for tests and for deciding when to stop ticking.
func (s *SmoothedParam) AtTarget(eps float32) bool {
	t := s.target.Load()
	d := t - s.current
	if d < 0 {
		d = -d
	}
	return d <= eps
}
