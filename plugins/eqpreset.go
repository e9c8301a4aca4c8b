package plugins

// Band is one parametric EQ band: center frequency in Hz, gain in dB,
// and Q factor.
type Band struct {
	FrequencyHz float32
	GainDB      float32
	Q           float32
}

// EQPreset is a named, fixed 5-band configuration a channel can select by
// name via Channel.EQPreset, recovered from the original implementation's
// preset catalog.
type EQPreset struct {
	Name  string
	Bands [5]Band
}

var eqPresets = []EQPreset{
	{
		Name: "Flat",
		Bands: [5]Band{
			{80, 0, 0.7}, {300, 0, 0.7}, {1000, 0, 0.7}, {3000, 0, 0.7}, {8000, 0, 0.7},
		},
	},
	{
		Name: "Vocal Boost",
		Bands: [5]Band{
			{80, -2, 0.7}, {300, -1, 0.8}, {2500, 3, 1.2}, {5000, 2, 1.0}, {10000, 1, 0.7},
		},
	},
	{
		Name: "Bass Cut",
		Bands: [5]Band{
			{60, -8, 0.9}, {150, -4, 0.9}, {1000, 0, 0.7}, {3000, 0, 0.7}, {8000, 0, 0.7},
		},
	},
	{
		Name: "Telephone",
		Bands: [5]Band{
			{80, -12, 0.8}, {300, -2, 1.0}, {1500, 4, 1.3}, {3400, -12, 1.0}, {8000, -18, 0.8},
		},
	},
}

// EQPresetByName looks up a built-in preset by name.
func EQPresetByName(name string) (EQPreset, bool) {
	for _, p := range eqPresets {
		if p.Name == name {
			return p, true
		}
	}
	return EQPreset{}, false
}

// EQPresetNames lists the built-in preset catalog, in catalog order.
func EQPresetNames() []string {
	names := make([]string, len(eqPresets))
	for i, p := range eqPresets {
		names[i] = p.Name
	}
	return names
}
