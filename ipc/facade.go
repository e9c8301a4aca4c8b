// Package ipc exposes the mixer Service over an embedded NATS server:
// method calls as request/reply subjects, state changes as published
// signals. UI clients are separate processes; this package is the only
// thing they talk to.
package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/sootmix/pwmixer"
)

// Method subjects, one per IPC call the daemon serves.
const (
	MethodCreateChannel      = "pwmixer.channel.create"
	MethodCreateInputChannel = "pwmixer.channel.create_input"
	MethodDeleteChannel      = "pwmixer.channel.delete"
	MethodRenameChannel      = "pwmixer.channel.rename"
	MethodListChannels       = "pwmixer.channel.list"
	MethodAssignApp          = "pwmixer.app.assign"
	MethodUnassignApp        = "pwmixer.app.unassign"
	MethodListApps           = "pwmixer.app.list"
	MethodSetVolume          = "pwmixer.channel.set_volume"
	MethodSetMute            = "pwmixer.channel.set_mute"
	MethodSetOutput          = "pwmixer.channel.set_output"
	MethodListOutputs        = "pwmixer.output.list"
	MethodListInputs         = "pwmixer.input.list"
	MethodSetMasterOut       = "pwmixer.master.set_output"
	MethodGetMasterOut       = "pwmixer.master.get_output"
	MethodSetMasterVolume    = "pwmixer.master.set_volume"
	MethodGetMasterVolume    = "pwmixer.master.get_volume"
	MethodSetMasterMute      = "pwmixer.master.set_mute"
	MethodGetMasterMute      = "pwmixer.master.get_mute"
	MethodGetMasterConnected = "pwmixer.master.get_connected"
	MethodSetMasterRec       = "pwmixer.master.set_recording"
	MethodGetMasterRec       = "pwmixer.master.get_recording"
	MethodAddRule            = "pwmixer.rule.add"
	MethodRemoveRule         = "pwmixer.rule.remove"
	MethodToggleRule         = "pwmixer.rule.toggle"
	MethodListRules          = "pwmixer.rule.list"
)

// Signal subjects, published without a reply. Each one except
// SignalMeterUpdate maps one-to-one onto a pwmixer.Signal; the facade's
// Notify implementation is the only bridge between the Service's internal
// signal type and the wire subject names. SignalMeterUpdate is published
// directly by RunMeterLoop.
const (
	SignalChannelAdded        = "pwmixer.signal.channel_added"
	SignalChannelRemoved      = "pwmixer.signal.channel_removed"
	SignalChannelUpdated      = "pwmixer.signal.channel_updated"
	SignalVolumeChanged       = "pwmixer.signal.volume_changed"
	SignalMuteChanged         = "pwmixer.signal.mute_changed"
	SignalAppDiscovered       = "pwmixer.signal.app_discovered"
	SignalAppRemoved          = "pwmixer.signal.app_removed"
	SignalAppRouted           = "pwmixer.signal.app_routed"
	SignalAppUnrouted         = "pwmixer.signal.app_unrouted"
	SignalMasterVolumeChanged = "pwmixer.signal.master_volume_changed"
	SignalMasterMuteChanged   = "pwmixer.signal.master_mute_changed"
	SignalOutputsChanged      = "pwmixer.signal.outputs_changed"
	SignalInputsChanged       = "pwmixer.signal.inputs_changed"
	SignalConnectionChanged   = "pwmixer.signal.connection_changed"
	SignalErrorOccurred       = "pwmixer.signal.error_occurred"
	SignalMeterUpdate         = "pwmixer.signal.meter_update"
)

// signalSubject maps a pwmixer.Signal to its wire subject name.
var signalSubject = map[pwmixer.Signal]string{
	pwmixer.SignalChannelAdded:        SignalChannelAdded,
	pwmixer.SignalChannelRemoved:      SignalChannelRemoved,
	pwmixer.SignalChannelUpdated:      SignalChannelUpdated,
	pwmixer.SignalVolumeChanged:       SignalVolumeChanged,
	pwmixer.SignalMuteChanged:         SignalMuteChanged,
	pwmixer.SignalAppDiscovered:       SignalAppDiscovered,
	pwmixer.SignalAppRemoved:          SignalAppRemoved,
	pwmixer.SignalAppRouted:           SignalAppRouted,
	pwmixer.SignalAppUnrouted:         SignalAppUnrouted,
	pwmixer.SignalMasterVolumeChanged: SignalMasterVolumeChanged,
	pwmixer.SignalMasterMuteChanged:   SignalMasterMuteChanged,
	pwmixer.SignalOutputsChanged:      SignalOutputsChanged,
	pwmixer.SignalInputsChanged:       SignalInputsChanged,
	pwmixer.SignalConnectionChanged:   SignalConnectionChanged,
	pwmixer.SignalErrorOccurred:       SignalErrorOccurred,
}

// Facade binds the Service's operations to NATS subjects.
type Facade struct {
	log zerolog.Logger
	svc *pwmixer.Service
	nc  *nats.Conn
	srv *server.Server
}

// NewEmbedded starts an embedded NATS server bound to 127.0.0.1 on the
// given port (0 picks an ephemeral port), so UI clients on the same host
// can connect without this daemon ever exposing a non-loopback listener.
func NewEmbedded(log zerolog.Logger, svc *pwmixer.Service, port int) (*Facade, error) {
	opts := &server.Options{
		Host: "127.0.0.1",
		Port: port,
	}
	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("ipc: start embedded nats: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("ipc: embedded nats not ready")
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		return nil, fmt.Errorf("ipc: connect client: %w", err)
	}

	f := &Facade{log: log.With().Str("component", "ipc").Logger(), svc: svc, nc: nc, srv: ns}
	f.registerHandlers()
	return f, nil
}

func (f *Facade) Close() {
	f.nc.Drain()
	f.srv.Shutdown()
}

// Notify implements pwmixer.Notifier: it maps signal to its wire subject
// and publishes payload, best-effort. A signal the wire map doesn't know
// about is logged and dropped rather than panicking.
func (f *Facade) Notify(signal pwmixer.Signal, payload any) {
	subject, ok := signalSubject[signal]
	if !ok {
		f.log.Warn().Str("signal", string(signal)).Msg("no wire subject for signal")
		return
	}
	f.PublishSignal(subject, payload)
}

// PublishSignal publishes a signal payload to subject, best-effort.
func (f *Facade) PublishSignal(subject string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		f.log.Warn().Err(err).Str("subject", subject).Msg("marshal signal failed")
		return
	}
	if err := f.nc.Publish(subject, b); err != nil {
		f.log.Warn().Err(err).Str("subject", subject).Msg("publish signal failed")
	}
}

func (f *Facade) registerHandlers() {
	f.handle(MethodCreateChannel, f.createChannel)
	f.handle(MethodCreateInputChannel, f.createInputChannel)
	f.handle(MethodDeleteChannel, f.deleteChannel)
	f.handle(MethodRenameChannel, f.renameChannel)
	f.handle(MethodListChannels, f.listChannels)
	f.handle(MethodAssignApp, f.assignApp)
	f.handle(MethodUnassignApp, f.unassignApp)
	f.handle(MethodListApps, f.listApps)
	f.handle(MethodSetVolume, f.setVolume)
	f.handle(MethodSetMute, f.setMute)
	f.handle(MethodSetOutput, f.setOutput)
	f.handle(MethodListOutputs, f.listOutputs)
	f.handle(MethodListInputs, f.listInputs)
	f.handle(MethodSetMasterOut, f.setMasterOutput)
	f.handle(MethodGetMasterOut, f.getMasterOutput)
	f.handle(MethodSetMasterVolume, f.setMasterVolume)
	f.handle(MethodGetMasterVolume, f.getMasterVolume)
	f.handle(MethodSetMasterMute, f.setMasterMute)
	f.handle(MethodGetMasterMute, f.getMasterMute)
	f.handle(MethodGetMasterConnected, f.getMasterConnected)
	f.handle(MethodSetMasterRec, f.setMasterRecording)
	f.handle(MethodGetMasterRec, f.getMasterRecording)
	f.handle(MethodAddRule, f.addRule)
	f.handle(MethodRemoveRule, f.removeRule)
	f.handle(MethodToggleRule, f.toggleRule)
	f.handle(MethodListRules, f.listRules)
}

// handle subscribes subject to a request/reply handler that decodes the
// request JSON into req, runs fn, and replies with its result JSON (or an
// error envelope). A failing call also fires an ErrorOccurred signal, since
// a failed command is itself a state the UI should surface.
func (f *Facade) handle(subject string, fn func(ctx context.Context, req json.RawMessage) (any, error)) {
	_, err := f.nc.Subscribe(subject, func(msg *nats.Msg) {
		resp, err := fn(context.Background(), msg.Data)
		var envelope struct {
			Result any    `json:"result,omitempty"`
			Error  string `json:"error,omitempty"`
		}
		if err != nil {
			envelope.Error = err.Error()
			f.PublishSignal(SignalErrorOccurred, map[string]string{"method": subject, "error": err.Error()})
		} else {
			envelope.Result = resp
		}
		b, _ := json.Marshal(envelope)
		_ = msg.Respond(b)
	})
	if err != nil {
		f.log.Error().Err(err).Str("subject", subject).Msg("subscribe failed")
	}
}

const maxNameLen = 128

func validateName(name string) error {
	if name == "" || len(name) > maxNameLen {
		return fmt.Errorf("name must be 1..%d characters", maxNameLen)
	}
	for _, r := range name {
		if r < 0x20 {
			return fmt.Errorf("name must not contain control characters")
		}
	}
	return nil
}

type createChannelReq struct {
	Name string `json:"name"`
}

func (f *Facade) createChannel(ctx context.Context, raw json.RawMessage) (any, error) {
	var req createChannelReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}
	if err := validateName(req.Name); err != nil {
		return nil, err
	}
	return f.svc.CreateChannel(ctx, req.Name)
}

type createInputChannelReq struct {
	Name           string  `json:"name"`
	VADThresholdDB float64 `json:"vad_threshold_db"`
}

func (f *Facade) createInputChannel(ctx context.Context, raw json.RawMessage) (any, error) {
	var req createInputChannelReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}
	if err := validateName(req.Name); err != nil {
		return nil, err
	}
	return f.svc.CreateInputChannel(ctx, req.Name, req.VADThresholdDB)
}

type channelIDReq struct {
	ChannelID uuid.UUID `json:"channel_id"`
}

func (f *Facade) deleteChannel(ctx context.Context, raw json.RawMessage) (any, error) {
	var req channelIDReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}
	return nil, f.svc.DeleteChannel(ctx, req.ChannelID)
}

type renameChannelReq struct {
	ChannelID uuid.UUID `json:"channel_id"`
	NewName   string    `json:"new_name"`
}

func (f *Facade) renameChannel(ctx context.Context, raw json.RawMessage) (any, error) {
	var req renameChannelReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}
	if err := validateName(req.NewName); err != nil {
		return nil, err
	}
	return nil, f.svc.RenameChannel(ctx, req.ChannelID, req.NewName)
}

func (f *Facade) listChannels(ctx context.Context, _ json.RawMessage) (any, error) {
	return f.svc.Channels(), nil
}

type assignAppReq struct {
	ChannelID  uuid.UUID `json:"channel_id"`
	AppNodeID  uint32    `json:"app_node_id"`
	BinaryName string    `json:"binary_name"`
}

func (f *Facade) assignApp(ctx context.Context, raw json.RawMessage) (any, error) {
	var req assignAppReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}
	return nil, f.svc.AssignApp(ctx, req.ChannelID, req.AppNodeID, req.BinaryName)
}

type unassignAppReq struct {
	ChannelID  uuid.UUID `json:"channel_id"`
	BinaryName string    `json:"binary_name"`
}

func (f *Facade) unassignApp(ctx context.Context, raw json.RawMessage) (any, error) {
	var req unassignAppReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}
	return nil, f.svc.UnassignApp(ctx, req.ChannelID, req.BinaryName)
}

func (f *Facade) listApps(ctx context.Context, _ json.RawMessage) (any, error) {
	return f.svc.GetApps(), nil
}

type setVolumeReq struct {
	ChannelID uuid.UUID `json:"channel_id"`
	DB        float64   `json:"db"`
}

func (f *Facade) setVolume(ctx context.Context, raw json.RawMessage) (any, error) {
	var req setVolumeReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}
	if math.IsNaN(req.DB) || math.IsInf(req.DB, 0) {
		return nil, fmt.Errorf("db must be finite")
	}
	return nil, f.svc.SetVolume(ctx, req.ChannelID, req.DB)
}

type setMuteReq struct {
	ChannelID uuid.UUID `json:"channel_id"`
	Muted     bool      `json:"muted"`
}

func (f *Facade) setMute(ctx context.Context, raw json.RawMessage) (any, error) {
	var req setMuteReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}
	return nil, f.svc.SetMute(ctx, req.ChannelID, req.Muted)
}

type setOutputReq struct {
	ChannelID uuid.UUID `json:"channel_id"`
	Device    string    `json:"device"`
}

func (f *Facade) setOutput(ctx context.Context, raw json.RawMessage) (any, error) {
	var req setOutputReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}
	return nil, f.svc.SetOutput(ctx, req.ChannelID, req.Device)
}

func (f *Facade) listOutputs(ctx context.Context, _ json.RawMessage) (any, error) {
	return f.svc.GetOutputs(), nil
}

func (f *Facade) listInputs(ctx context.Context, _ json.RawMessage) (any, error) {
	return f.svc.GetInputs(), nil
}

type setMasterOutputReq struct {
	Device string `json:"device"`
}

func (f *Facade) setMasterOutput(ctx context.Context, raw json.RawMessage) (any, error) {
	var req setMasterOutputReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}
	return nil, f.svc.SetMasterOutput(ctx, req.Device)
}

func (f *Facade) getMasterOutput(ctx context.Context, _ json.RawMessage) (any, error) {
	return f.svc.GetMasterOutput(), nil
}

type setMasterVolumeReq struct {
	DB float64 `json:"db"`
}

func (f *Facade) setMasterVolume(ctx context.Context, raw json.RawMessage) (any, error) {
	var req setMasterVolumeReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}
	if err := f.svc.SetMasterVolume(req.DB); err != nil {
		return nil, err
	}
	f.PublishSignal(SignalMasterVolumeChanged, req.DB)
	return nil, nil
}

func (f *Facade) getMasterVolume(ctx context.Context, _ json.RawMessage) (any, error) {
	return f.svc.GetMasterVolume(), nil
}

type setMasterMuteReq struct {
	Muted bool `json:"muted"`
}

func (f *Facade) setMasterMute(ctx context.Context, raw json.RawMessage) (any, error) {
	var req setMasterMuteReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}
	if err := f.svc.SetMasterMute(req.Muted); err != nil {
		return nil, err
	}
	f.PublishSignal(SignalMasterMuteChanged, req.Muted)
	return nil, nil
}

func (f *Facade) getMasterMute(ctx context.Context, _ json.RawMessage) (any, error) {
	return f.svc.GetMasterMute(), nil
}

func (f *Facade) getMasterConnected(ctx context.Context, _ json.RawMessage) (any, error) {
	return f.svc.GetMasterConnected(), nil
}

type setMasterRecordingReq struct {
	Enabled bool `json:"enabled"`
}

func (f *Facade) setMasterRecording(ctx context.Context, raw json.RawMessage) (any, error) {
	var req setMasterRecordingReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}
	return nil, f.svc.SetMasterRecording(ctx, req.Enabled)
}

func (f *Facade) getMasterRecording(ctx context.Context, _ json.RawMessage) (any, error) {
	return f.svc.MasterRecordingEnabled(), nil
}

type addRuleReq struct {
	Name        string              `json:"name"`
	Enabled     bool                `json:"enabled"`
	ChannelName string              `json:"channel_name"`
	MatchTarget pwmixer.MatchTarget `json:"match_target"`
	Match       pwmixer.MatchType   `json:"match"`
	Pattern     string              `json:"pattern"`
	Priority    int                 `json:"priority"`
}

func (f *Facade) addRule(ctx context.Context, raw json.RawMessage) (any, error) {
	var req addRuleReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}
	rule := pwmixer.RoutingRule{
		Name:        req.Name,
		Enabled:     req.Enabled,
		ChannelName: req.ChannelName,
		MatchTarget: req.MatchTarget,
		Match:       req.Match,
		Pattern:     req.Pattern,
		Priority:    req.Priority,
	}
	return nil, f.svc.AddRule(rule)
}

type ruleIDReq struct {
	RuleID uuid.UUID `json:"rule_id"`
}

func (f *Facade) removeRule(ctx context.Context, raw json.RawMessage) (any, error) {
	var req ruleIDReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}
	return nil, f.svc.RemoveRule(req.RuleID)
}

type toggleRuleReq struct {
	RuleID  uuid.UUID `json:"rule_id"`
	Enabled bool      `json:"enabled"`
}

func (f *Facade) toggleRule(ctx context.Context, raw json.RawMessage) (any, error) {
	var req toggleRuleReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}
	return nil, f.svc.ToggleRule(req.RuleID, req.Enabled)
}

func (f *Facade) listRules(ctx context.Context, _ json.RawMessage) (any, error) {
	return f.svc.Rules(), nil
}

type meterUpdate struct {
	ChannelID uuid.UUID `json:"channel_id"`
	Peak      float32   `json:"peak"`
}

// RunMeterLoop publishes a MeterUpdate signal per channel at the given
// interval until ctx is canceled. Meant to be run in its own goroutine.
func (f *Facade) RunMeterLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, ch := range f.svc.Channels() {
				peak, err := f.svc.ChannelMeter(ch.Name)
				if err != nil {
					continue
				}
				f.PublishSignal(SignalMeterUpdate, meterUpdate{ChannelID: ch.ID, Peak: peak})
			}
		}
	}
}
