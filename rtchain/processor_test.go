package rtchain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sootmix/pwmixer/plugins"
)

// gainPlugin is a trivial RT-safe plugin instance used only for tests: it
// multiplies every sample by a fixed gain.
type gainPlugin struct {
	gain float32
}

func (g *gainPlugin) Info() plugins.Info { return plugins.Info{Name: "gain"} }
func (g *gainPlugin) Activate() error    { return nil }
func (g *gainPlugin) Deactivate() error  { return nil }
func (g *gainPlugin) Process(in, out []float32) error {
	for i := range in {
		out[i] = in[i] * g.gain
	}
	return nil
}
func (g *gainPlugin) ParameterCount() int                        { return 1 }
func (g *gainPlugin) ParameterInfo(int) (plugins.Parameter, error) { return plugins.Parameter{}, nil }
func (g *gainPlugin) GetParameter(int) (float32, error)           { return g.gain, nil }
func (g *gainPlugin) SetParameter(idx int, v float32) error       { g.gain = v; return nil }
func (g *gainPlugin) SaveState() ([]byte, error)                  { return nil, nil }
func (g *gainPlugin) LoadState([]byte) error                      { return nil }
func (g *gainPlugin) Reset() error                                { return nil }
func (g *gainPlugin) Latency() int                                { return 0 }
func (g *gainPlugin) TailLength() int                             { return 0 }

func TestProcessor_EmptyChainIsPassthrough(t *testing.T) {
	p := NewProcessor(4)
	in := []float32{1, 2, 3, 4}
	out := make([]float32, 4)
	p.Process(in, out)
	require.Equal(t, in, out)
}

func TestProcessor_AppliesPlugin(t *testing.T) {
	p := NewProcessor(4)
	require.NoError(t, p.AddPlugin("gain", &gainPlugin{gain: 2}))

	in := []float32{1, 2, 3, 4}
	out := make([]float32, 4)
	p.Process(in, out)
	require.Equal(t, []float32{2, 4, 6, 8}, out)
}

func TestProcessor_BypassedPluginIsSkipped(t *testing.T) {
	p := NewProcessor(4)
	require.NoError(t, p.AddPlugin("gain", &gainPlugin{gain: 2}))
	p.SetBypass("gain", true)

	in := []float32{1, 2, 3, 4}
	out := make([]float32, 4)
	p.Process(in, out)
	require.Equal(t, in, out)
}

func TestProcessor_PeakLevelTracksLastBlock(t *testing.T) {
	p := NewProcessor(4)
	require.Zero(t, p.PeakLevel())

	in := []float32{1, -2, 3, -4}
	out := make([]float32, 4)
	p.Process(in, out)
	require.Equal(t, float32(4), p.PeakLevel())

	p.Process([]float32{0.5, 0.1, -0.2, 0}, out)
	require.Equal(t, float32(0.5), p.PeakLevel())
}

func TestManager_CreateGetDeleteChain(t *testing.T) {
	m := NewManager(4)
	_, err := m.CreateChain("voice")
	require.NoError(t, err)
	require.True(t, m.HasChain("voice"))

	_, err = m.CreateChain("voice")
	require.Error(t, err)

	require.NoError(t, m.DeleteChain("voice"))
	require.False(t, m.HasChain("voice"))
}
