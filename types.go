// Package pwmixer implements the per-application audio mixer: channels
// and apps bound to them, routing rules, and the service that drives the
// graph controller to realize that state on the audio server.
package pwmixer

import (
	"time"

	"github.com/google/uuid"
)

// MatchType is how a RoutingRule compares an application's identifying
// string against its pattern.
type MatchType string

const (
	MatchContains MatchType = "contains"
	MatchEquals   MatchType = "equals"
	MatchRegex    MatchType = "regex"
	MatchGlob     MatchType = "glob"
)

// MatchTarget scopes which of an application's identifying strings a
// RoutingRule tests its pattern against.
type MatchTarget string

const (
	MatchTargetName   MatchTarget = "name"
	MatchTargetBinary MatchTarget = "binary"
	MatchTargetEither MatchTarget = "either"
)

// RoutingRule auto-assigns an application to a channel by matching its
// binary name or window title. Rules are addressed by UUID but target a
// channel by name, since channels can be deleted and recreated under the
// same name across restarts while their UUID changes.
type RoutingRule struct {
	ID          uuid.UUID   `yaml:"id"`
	Name        string      `yaml:"name"`
	Enabled     bool        `yaml:"enabled"`
	ChannelName string      `yaml:"channel_name"`
	MatchTarget MatchTarget `yaml:"match_target"`
	Match       MatchType   `yaml:"match"`
	Pattern     string      `yaml:"pattern"`
	Priority    int         `yaml:"priority"`
}

// App is one application stream bound to a channel.
type App struct {
	NodeID      uint32 `yaml:"-"`
	BinaryName  string `yaml:"binary_name"`
	WindowTitle string `yaml:"window_title,omitempty"`
}

// ChannelKind distinguishes a playback channel (a virtual sink apps send
// audio into) from an input channel (a recording/microphone source with
// its own noise-suppression chain).
type ChannelKind string

const (
	ChannelKindOutput ChannelKind = "output"
	ChannelKindInput  ChannelKind = "input"
)

// Channel is a logical mixer channel: a virtual sink, the apps assigned
// to it, and its processing/output state.
type Channel struct {
	ID                   uuid.UUID   `yaml:"id"`
	Name                 string      `yaml:"name"`
	Kind                 ChannelKind `yaml:"kind"`
	IsManaged            bool        `yaml:"is_managed"`
	SinkNodeID           uint32      `yaml:"-"`
	LoopbackOutputNodeID uint32      `yaml:"-"`
	SinkPID              int         `yaml:"-"`
	VolumeDB             float64     `yaml:"volume_db"`
	Muted                bool        `yaml:"muted"`
	EQEnabled            bool        `yaml:"eq_enabled"`
	EQPreset             string      `yaml:"eq_preset,omitempty"`
	OutputDevice         string      `yaml:"output_device,omitempty"`
	VADThreshold         float64     `yaml:"vad_threshold,omitempty"`
	Apps                 []App       `yaml:"apps"`
	CreatedAt            time.Time   `yaml:"created_at"`
}

func (c *Channel) HasApp(binaryName string) bool {
	for _, a := range c.Apps {
		if a.BinaryName == binaryName {
			return true
		}
	}
	return false
}

func (c *Channel) RemoveApp(binaryName string) {
	out := c.Apps[:0]
	for _, a := range c.Apps {
		if a.BinaryName != binaryName {
			out = append(out, a)
		}
	}
	c.Apps = out
}
