package graph

import (
	"sort"
	"strings"
)

// Plan is one output-port-to-input-port connection the controller should
// create.
type Plan struct {
	OutputNodeID uint32
	OutputPortID uint32
	InputNodeID  uint32
	InputPortID  uint32
}

// PlanLinks matches a source node's output ports against a destination
// node's input ports in three passes, falling back progressively:
//
//  1. channel-tag match (FL<->FL, FR<->FR, ...)
//  2. name-suffix match (foo_0<->bar_0, foo_1<->bar_1)
//  3. positional zip (i-th output to i-th input)
//
// Every output port is consumed at most once and every input port is
// used at most once; leftover unmatched ports on either side are
// dropped silently (the caller decides whether that is an error).
// Ports within each pass are considered in a stable order: tagged
// channels sort FL < FR < FC < LFE < RL < RR < Unknown, ties broken by
// port ID.
func PlanLinks(src, dst Node) []Plan {
	outputs := sortedPorts(src.Outputs())
	inputs := sortedPorts(dst.Inputs())

	usedOut := make(map[int]bool, len(outputs))
	usedIn := make(map[int]bool, len(inputs))
	var plans []Plan

	// Pass 1: channel-tag match.
	for oi, op := range outputs {
		if usedOut[oi] || op.Channel == ChannelUnknown {
			continue
		}
		for ii, ip := range inputs {
			if usedIn[ii] || ip.Channel == ChannelUnknown {
				continue
			}
			if op.Channel == ip.Channel {
				plans = append(plans, Plan{src.ID, op.ID, dst.ID, ip.ID})
				usedOut[oi], usedIn[ii] = true, true
				break
			}
		}
	}

	// Pass 2: name-suffix match (e.g. "..._0", "..._1").
	for oi, op := range outputs {
		if usedOut[oi] {
			continue
		}
		suf := suffix(op.Name)
		if suf == "" {
			continue
		}
		for ii, ip := range inputs {
			if usedIn[ii] {
				continue
			}
			if suffix(ip.Name) == suf {
				plans = append(plans, Plan{src.ID, op.ID, dst.ID, ip.ID})
				usedOut[oi], usedIn[ii] = true, true
				break
			}
		}
	}

	// Pass 3: positional zip over whatever remains.
	var remOut, remIn []int
	for oi := range outputs {
		if !usedOut[oi] {
			remOut = append(remOut, oi)
		}
	}
	for ii := range inputs {
		if !usedIn[ii] {
			remIn = append(remIn, ii)
		}
	}
	for i := 0; i < len(remOut) && i < len(remIn); i++ {
		op := outputs[remOut[i]]
		ip := inputs[remIn[i]]
		plans = append(plans, Plan{src.ID, op.ID, dst.ID, ip.ID})
	}

	return plans
}

func sortedPorts(ports []Port) []Port {
	out := append([]Port(nil), ports...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Channel != out[j].Channel {
			return out[i].Channel < out[j].Channel
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// suffix extracts a trailing "_N" numeric suffix from a port name, used
// by pass 2 to line up ports like "playback_0"/"capture_0".
func suffix(name string) string {
	idx := strings.LastIndexByte(name, '_')
	if idx < 0 || idx == len(name)-1 {
		return ""
	}
	tail := name[idx+1:]
	for _, r := range tail {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return tail
}
