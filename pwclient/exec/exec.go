// Package exec wraps the pw-loopback, pw-link, pw-dump, and wpctl helper
// binaries. Their configuration fragment and argument syntax is not part
// of this module's contract; this package only defines the Go-level
// interfaces pwclient drives (Registry, NodeProxy, LinkFactory) and one
// implementation backed by the real binaries via os/exec.
package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/rs/zerolog"

	"github.com/sootmix/pwmixer/graph"
)

// Registry can list the current set of PipeWire globals.
type Registry interface {
	Dump(ctx context.Context) (graph.Snapshot, error)
}

// LinkFactory creates and destroys links between ports.
type LinkFactory interface {
	Link(ctx context.Context, outPort, inPort uint32) error
	Unlink(ctx context.Context, outPort, inPort uint32) error
}

// NodeSpawner spawns helper processes that create virtual nodes
// (loopback sink + its playback-stream pair, recording sources) and
// reports the spawned process id once started. The pair's node names are
// derived from name so the caller can await both through Registry.Dump.
type NodeSpawner interface {
	SpawnLoopback(ctx context.Context, name, description string) (pid int, err error)
	KillLoopback(pid int) error
}

// NodeProxy reaches a node's per-node controls through the audio server's
// session-manager tool, used for the native-proxy/shell-fallback volume and
// mute path and for output routing.
type NodeProxy interface {
	SetVolume(ctx context.Context, nodeID uint32, linear float64) error
	SetMute(ctx context.Context, nodeID uint32, muted bool) error
	SetDefaultSink(ctx context.Context, nodeID uint32) error
	UpdateSinkDescription(ctx context.Context, nodeID uint32, description string) error
}

// PlaybackNodeSuffix names the playback-stream half of a loopback sink
// pair, appended to the sink's own name.
const PlaybackNodeSuffix = "_playback"

// PwTool is the concrete Registry/LinkFactory/NodeSpawner/NodeProxy backed
// by pw-dump, pw-link, pw-loopback, wpctl, and pw-metadata.
type PwTool struct {
	log zerolog.Logger
}

func New(log zerolog.Logger) *PwTool {
	return &PwTool{log: log.With().Str("component", "pwtool").Logger()}
}

// dumpObj is the generic envelope every pw-dump entry shares; Info is
// deferred so the parser can branch by Type before picking a concrete shape.
type dumpObj struct {
	ID   uint32          `json:"id"`
	Type string          `json:"type"`
	Info json.RawMessage `json:"info"`
}

type dumpNodeInfo struct {
	Props map[string]any `json:"props"`
}

type dumpPortInfo struct {
	Direction string         `json:"direction"`
	Props     map[string]any `json:"props"`
}

type dumpLinkInfo struct {
	OutputNodeID uint32 `json:"output-node-id"`
	OutputPortID uint32 `json:"output-port-id"`
	InputNodeID  uint32 `json:"input-node-id"`
	InputPortID  uint32 `json:"input-port-id"`
}

func (p *PwTool) Dump(ctx context.Context) (graph.Snapshot, error) {
	cmd := exec.CommandContext(ctx, "pw-dump")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return graph.Snapshot{}, fmt.Errorf("pw-dump: %w: %s", err, stderr.String())
	}

	var raw []dumpObj
	if err := json.Unmarshal(stdout.Bytes(), &raw); err != nil {
		return graph.Snapshot{}, fmt.Errorf("pw-dump: parse: %w", err)
	}

	snap := graph.Snapshot{}
	portsByNode := make(map[uint32][]graph.Port)

	for _, obj := range raw {
		switch obj.Type {
		case "PipeWire:Interface:Port":
			var info dumpPortInfo
			if err := json.Unmarshal(obj.Info, &info); err != nil {
				continue
			}
			nodeID := propUint32(info.Props, "node.id")
			dir := graph.DirectionUnknown
			switch info.Direction {
			case "in":
				dir = graph.DirectionInput
			case "out":
				dir = graph.DirectionOutput
			}
			name, _ := info.Props["port.name"].(string)
			chanName, _ := info.Props["audio.channel"].(string)
			portsByNode[nodeID] = append(portsByNode[nodeID], graph.Port{
				ID:        obj.ID,
				NodeID:    nodeID,
				Name:      name,
				Direction: dir,
				Channel:   graph.ChannelTagFromName(chanName),
			})
		case "PipeWire:Interface:Link":
			var info dumpLinkInfo
			if err := json.Unmarshal(obj.Info, &info); err != nil {
				continue
			}
			snap.Links = append(snap.Links, graph.Link{
				ID:           obj.ID,
				OutputNodeID: info.OutputNodeID,
				OutputPortID: info.OutputPortID,
				InputNodeID:  info.InputNodeID,
				InputPortID:  info.InputPortID,
			})
		}
	}

	for _, obj := range raw {
		if obj.Type != "PipeWire:Interface:Node" {
			continue
		}
		var info dumpNodeInfo
		if err := json.Unmarshal(obj.Info, &info); err != nil {
			continue
		}
		name, _ := info.Props["node.name"].(string)
		desc, _ := info.Props["node.description"].(string)
		class, _ := info.Props["media.class"].(string)
		props := make(map[string]string, len(info.Props))
		for k, v := range info.Props {
			props[k] = fmt.Sprint(v)
		}
		snap.Nodes = append(snap.Nodes, graph.Node{
			ID:          obj.ID,
			Name:        name,
			Description: desc,
			MediaClass:  graph.MediaClass(class),
			Properties:  props,
			Ports:       portsByNode[obj.ID],
		})
	}
	return snap, nil
}

func propUint32(props map[string]any, key string) uint32 {
	switch v := props[key].(type) {
	case float64:
		return uint32(v)
	case string:
		var n uint32
		fmt.Sscanf(v, "%d", &n)
		return n
	default:
		return 0
	}
}

func (p *PwTool) Link(ctx context.Context, outPort, inPort uint32) error {
	cmd := exec.CommandContext(ctx, "pw-link", fmt.Sprint(outPort), fmt.Sprint(inPort))
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("pw-link: %w: %s", err, out)
	}
	return nil
}

func (p *PwTool) Unlink(ctx context.Context, outPort, inPort uint32) error {
	cmd := exec.CommandContext(ctx, "pw-link", "-d", fmt.Sprint(outPort), fmt.Sprint(inPort))
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("pw-link -d: %w: %s", err, out)
	}
	return nil
}

// SpawnLoopback starts a pw-loopback helper that creates a sink node named
// name and a playback-stream node named name+PlaybackNodeSuffix, matching
// the audio server's documented sink+output-stream pair contract.
func (p *PwTool) SpawnLoopback(ctx context.Context, name, description string) (int, error) {
	cmd := exec.Command("pw-loopback",
		"--capture-props", fmt.Sprintf(`{node.name="%s" node.description="%s" media.class=Audio/Sink}`, name, description),
		"--playback-props", fmt.Sprintf(`{node.name="%s%s" node.description="%s (stream)"}`, name, PlaybackNodeSuffix, description),
	)
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("pw-loopback: start: %w", err)
	}
	p.log.Info().Str("name", name).Int("pid", cmd.Process.Pid).Msg("spawned loopback sink pair")
	return cmd.Process.Pid, nil
}

func (p *PwTool) KillLoopback(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

func (p *PwTool) SetVolume(ctx context.Context, nodeID uint32, linear float64) error {
	cmd := exec.CommandContext(ctx, "wpctl", "set-volume", fmt.Sprint(nodeID), fmt.Sprintf("%.4f", linear))
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("wpctl set-volume: %w: %s", err, out)
	}
	return nil
}

func (p *PwTool) SetMute(ctx context.Context, nodeID uint32, muted bool) error {
	arg := "0"
	if muted {
		arg = "1"
	}
	cmd := exec.CommandContext(ctx, "wpctl", "set-mute", fmt.Sprint(nodeID), arg)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("wpctl set-mute: %w: %s", err, out)
	}
	return nil
}

func (p *PwTool) SetDefaultSink(ctx context.Context, nodeID uint32) error {
	cmd := exec.CommandContext(ctx, "wpctl", "set-default", fmt.Sprint(nodeID))
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("wpctl set-default: %w: %s", err, out)
	}
	return nil
}

func (p *PwTool) UpdateSinkDescription(ctx context.Context, nodeID uint32, description string) error {
	cmd := exec.CommandContext(ctx, "pw-metadata", fmt.Sprint(nodeID), "node.description", description)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("pw-metadata node.description: %w: %s", err, out)
	}
	return nil
}
