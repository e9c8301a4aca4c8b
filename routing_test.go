package pwmixer

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRoutingRule_Matches(t *testing.T) {
	cases := []struct {
		rule RoutingRule
		in   string
		want bool
	}{
		{RoutingRule{Enabled: true, MatchTarget: MatchTargetBinary, Match: MatchEquals, Pattern: "steam.exe"}, "steam.exe", true},
		{RoutingRule{Enabled: true, MatchTarget: MatchTargetBinary, Match: MatchEquals, Pattern: "steam.exe"}, "steam64.exe", false},
		{RoutingRule{Enabled: true, MatchTarget: MatchTargetBinary, Match: MatchContains, Pattern: "discord"}, "Discord.exe", false},
		{RoutingRule{Enabled: true, MatchTarget: MatchTargetBinary, Match: MatchContains, Pattern: "discord"}, "discord-canary", true},
		{RoutingRule{Enabled: true, MatchTarget: MatchTargetBinary, Match: MatchGlob, Pattern: "steam*"}, "steamwebhelper", true},
		{RoutingRule{Enabled: true, MatchTarget: MatchTargetBinary, Match: MatchGlob, Pattern: "*.exe"}, "game.exe", true},
		{RoutingRule{Enabled: true, MatchTarget: MatchTargetBinary, Match: MatchRegex, Pattern: `^vlc(-\d+)?$`}, "vlc-3", true},
		{RoutingRule{Enabled: true, MatchTarget: MatchTargetBinary, Match: MatchRegex, Pattern: `^vlc(-\d+)?$`}, "vlc-bad-suffix-x", false},
		{RoutingRule{Enabled: false, MatchTarget: MatchTargetBinary, Match: MatchEquals, Pattern: "steam.exe"}, "steam.exe", false},
	}
	for _, c := range cases {
		require.Equal(t, c.want, c.rule.Matches(c.in, ""), "pattern=%q input=%q", c.rule.Pattern, c.in)
	}
}

func TestRoutingRule_MatchTargetScopesComparison(t *testing.T) {
	rule := RoutingRule{Enabled: true, MatchTarget: MatchTargetName, Match: MatchContains, Pattern: "Voice Chat"}
	require.False(t, rule.Matches("discord", "irrelevant binary-only match"))
	require.True(t, rule.Matches("discord", "Game — Voice Chat"))
}

func TestService_AutoRoute_StickyAssignmentWinsOverRules(t *testing.T) {
	s := &Service{channels: make(map[uuid.UUID]*Channel)}
	sticky := &Channel{ID: uuid.New(), Name: "Voice", Apps: []App{{BinaryName: "discord"}}}
	other := &Channel{ID: uuid.New(), Name: "Game"}
	s.channels[sticky.ID] = sticky
	s.channels[other.ID] = other
	s.rules = []RoutingRule{{Enabled: true, MatchTarget: MatchTargetBinary, ChannelName: other.Name, Match: MatchContains, Pattern: "disc", Priority: 10}}

	ch, ok := s.AutoRoute(context.Background(), 0, "discord", "")
	require.True(t, ok)
	require.Equal(t, sticky.ID, ch.ID)
}
