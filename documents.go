package pwmixer

// MixerConfigDocument is the first of the two persistence documents:
// channel and app configuration, including master output selection.
type MixerConfigDocument struct {
	Version             int       `yaml:"version"`
	MasterOutput        string    `yaml:"master_output,omitempty"`
	MasterVolumeDB      float64   `yaml:"master_volume_db"`
	MasterMuted         bool      `yaml:"master_muted"`
	MasterRecording     bool      `yaml:"master_recording"`
	Channels            []Channel `yaml:"channels"`
}

func (d MixerConfigDocument) GetVersion() int { return d.Version }

// RoutingRulesDocument is the second persistence document: the ordered
// set of auto-assignment rules.
type RoutingRulesDocument struct {
	Version int           `yaml:"version"`
	Rules   []RoutingRule `yaml:"rules"`
}

func (d RoutingRulesDocument) GetVersion() int { return d.Version }
