package pwmixer

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Matches reports whether an application's identifying strings satisfy a
// enabled rule's pattern under its match type (a disabled rule never
// matches), scoped to MatchTarget:
// Name only tests windowTitle, Binary only tests binaryName, Either tests
// both and matches on the first hit.
func (r RoutingRule) Matches(binaryName, windowTitle string) bool {
	if !r.Enabled {
		return false
	}
	switch r.MatchTarget {
	case MatchTargetName:
		return r.matchOne(windowTitle)
	case MatchTargetBinary:
		return r.matchOne(binaryName)
	default:
		return r.matchOne(binaryName) || r.matchOne(windowTitle)
	}
}

func (r RoutingRule) matchOne(s string) bool {
	switch r.Match {
	case MatchEquals:
		return s == r.Pattern
	case MatchContains:
		return strings.Contains(s, r.Pattern)
	case MatchRegex:
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return false
		}
		return re.MatchString(s)
	case MatchGlob:
		ok, err := filepath.Match(r.Pattern, s)
		return err == nil && ok
	default:
		return false
	}
}

// AddRule appends an auto-assignment rule.
func (s *Service) AddRule(rule RoutingRule) error {
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	s.mu.Lock()
	s.rules = append(s.rules, rule)
	s.mu.Unlock()
	return s.persistRules()
}

// RemoveRule deletes a rule by ID.
func (s *Service) RemoveRule(id uuid.UUID) error {
	s.mu.Lock()
	out := s.rules[:0]
	for _, r := range s.rules {
		if r.ID != id {
			out = append(out, r)
		}
	}
	s.rules = out
	s.mu.Unlock()
	return s.persistRules()
}

// ToggleRule sets a rule's enabled flag to enabled.
func (s *Service) ToggleRule(id uuid.UUID, enabled bool) error {
	s.mu.Lock()
	found := false
	for i := range s.rules {
		if s.rules[i].ID == id {
			s.rules[i].Enabled = enabled
			found = true
			break
		}
	}
	s.mu.Unlock()
	if !found {
		return &Error{Kind: ErrNotFound, Op: "ToggleRule", Err: errNoSuchRule}
	}
	return s.persistRules()
}

// Rules returns a copy of the configured routing rules.
func (s *Service) Rules() []RoutingRule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RoutingRule, len(s.rules))
	copy(out, s.rules)
	return out
}

// channelByName returns the channel with the given name, used to resolve
// a RoutingRule's target at auto-route time since rules address channels
// by name rather than UUID.
func (s *Service) channelByName(name string) *Channel {
	for _, ch := range s.channels {
		if ch.Name == name {
			return ch
		}
	}
	return nil
}

// AutoRoute decides which channel a newly seen application should join:
// first, sticky assignment (the app was previously and explicitly
// assigned to some channel and is still present there); otherwise the
// highest-priority matching enabled rule; otherwise no assignment is made.
func (s *Service) AutoRoute(ctx context.Context, appNodeID uint32, binaryName, windowTitle string) (*Channel, bool) {
	s.mu.Lock()
	for _, ch := range s.channels {
		if ch.HasApp(binaryName) {
			s.mu.Unlock()
			return ch, true
		}
	}

	var best *RoutingRule
	for i := range s.rules {
		r := &s.rules[i]
		if !r.Matches(binaryName, windowTitle) {
			continue
		}
		if best == nil || r.Priority > best.Priority {
			best = r
		}
	}
	var target *Channel
	if best != nil {
		target = s.channelByName(best.ChannelName)
	}
	s.mu.Unlock()

	if target == nil {
		return nil, false
	}
	if err := s.AssignApp(ctx, target.ID, appNodeID, binaryName); err != nil {
		s.log.Warn().Err(err).Str("binary", binaryName).Msg("auto-route assign failed")
		return nil, false
	}
	return target, true
}
