package plugins

import "math"

// NoiseGate is a pure-Go, VAD-threshold-driven noise gate: a small,
// CGO-free stand-in for hosting the real RNNoise LADSPA plugin. It
// attenuates frames whose RMS level falls below its threshold rather than
// performing spectral noise suppression, so the chain always has a
// functioning input-channel slot whether or not librnnoise_ladspa.so is
// installed (the real plugin is never loaded; see NewNoiseSuppressionChain).
type NoiseGate struct {
	thresholdLinear float32
	attenuation      float32
	active           bool
}

// NewNoiseGate builds a gate that attenuates frames whose RMS falls below
// thresholdDB to attenDB.
func NewNoiseGate(thresholdDB, attenDB float32) *NoiseGate {
	return &NoiseGate{
		thresholdLinear: dbToLinear32(thresholdDB),
		attenuation:      dbToLinear32(attenDB),
	}
}

func dbToLinear32(db float32) float32 {
	return float32(math.Pow(10, float64(db)/20))
}

func (g *NoiseGate) Info() Info {
	return Info{
		Name:         "Noise Gate",
		Manufacturer: "pwmixer",
		Format:       "native",
		Capabilities: map[Capability]bool{
			CapActivate: true, CapDeactivate: true, CapProcess: true,
			CapParameterCount: true, CapParameterInfo: true,
			CapGetParameter: true, CapSetParameter: true, CapReset: true,
		},
		Parameters: []Parameter{
			{Index: 0, Name: "threshold", Unit: "linear", Min: 0, Max: 1, Default: g.thresholdLinear},
		},
	}
}

func (g *NoiseGate) Activate() error   { g.active = true; return nil }
func (g *NoiseGate) Deactivate() error { g.active = false; return nil }

func (g *NoiseGate) Process(in, out []float32) error {
	var sumSq float32
	for _, v := range in {
		sumSq += v * v
	}
	rms := float32(0)
	if len(in) > 0 {
		rms = float32(math.Sqrt(float64(sumSq) / float64(len(in))))
	}
	gain := float32(1)
	if rms < g.thresholdLinear {
		gain = g.attenuation
	}
	for i, v := range in {
		out[i] = v * gain
	}
	return nil
}

func (g *NoiseGate) ParameterCount() int { return 1 }

func (g *NoiseGate) ParameterInfo(idx int) (Parameter, error) {
	if idx != 0 {
		return Parameter{}, errParamOutOfRange
	}
	return g.Info().Parameters[0], nil
}

func (g *NoiseGate) GetParameter(idx int) (float32, error) {
	if idx != 0 {
		return 0, errParamOutOfRange
	}
	return g.thresholdLinear, nil
}

func (g *NoiseGate) SetParameter(idx int, v float32) error {
	if idx != 0 {
		return errParamOutOfRange
	}
	g.thresholdLinear = v
	return nil
}

func (g *NoiseGate) SaveState() ([]byte, error) { return nil, nil }
func (g *NoiseGate) LoadState([]byte) error     { return nil }
func (g *NoiseGate) Reset() error               { g.active = false; return nil }
func (g *NoiseGate) Latency() int               { return 0 }
func (g *NoiseGate) TailLength() int            { return 0 }

// NewNoiseSuppressionChain builds the noise-suppression instance for an
// input channel. It calls FindRNNoise but ignores the result (nothing is
// logged here and no plugin is loaded, since this module hosts no CGO
// plugin loader) and always returns the pure-Go NoiseGate, so an input
// channel's chain is never empty.
func NewNoiseSuppressionChain(configPath string, vadThresholdDB float64) (Instance, bool) {
	_, _ = FindRNNoise(configPath)
	return NewNoiseGate(float32(vadThresholdDB), -36), true
}

type paramRangeError struct{ msg string }

func (e *paramRangeError) Error() string { return e.msg }

var errParamOutOfRange = &paramRangeError{"parameter index out of range"}
