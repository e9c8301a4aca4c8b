package pwmixer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sootmix/pwmixer/graph"
	"github.com/sootmix/pwmixer/internal/persist"
	"github.com/sootmix/pwmixer/plugins"
	"github.com/sootmix/pwmixer/pwclient"
	"github.com/sootmix/pwmixer/rtchain"
	"github.com/sootmix/pwmixer/volume"
)

// Error is a typed mixer error, letting callers switch on Kind rather
// than match error strings.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

type ErrorKind string

const (
	ErrAudioServerConnect ErrorKind = "audio_server_connect"
	ErrHelperSpawn        ErrorKind = "helper_spawn"
	ErrNodeNotFound       ErrorKind = "node_not_found"
	ErrLinkCreationFailed ErrorKind = "link_creation_failed"
	ErrParamSendFailed    ErrorKind = "param_send_failed"
	ErrChannelNotFound    ErrorKind = "channel_not_found"
	ErrAppNotFound        ErrorKind = "app_not_found"
	ErrInvalidArgument    ErrorKind = "invalid_argument"
	ErrPersistenceWrite   ErrorKind = "persistence_write"
	ErrNotFound           ErrorKind = "not_found"
)

var errNoSuchRule = errors.New("no such routing rule")

// managedSinkPrefix names every virtual sink this daemon itself creates,
// so hardware-sink discovery can tell its own outputs apart from real
// devices.
const managedSinkPrefix = "pwmixer_"

// discoveryMinWait/discoveryMaxWait bound the service-level initial
// discovery window: the service never acts before discoveryMinWait, and
// never waits longer than discoveryMaxWait, for the audio server to
// settle after a (re)connect.
const (
	discoveryMinWait = 300 * time.Millisecond
	discoveryMaxWait = 1500 * time.Millisecond
)

// pendingApp tracks an application whose stream ports had not yet
// appeared when it was assigned to a channel, so the bind can be retried
// once PortAdded arrives for its node.
type pendingApp struct {
	channelID  uuid.UUID
	binaryName string
}

// Service is the channel/app state machine. One Service per running
// daemon; its exported methods are safe for concurrent use, serialized
// by an internal mutex mirroring the teacher's Engine lock idiom.
type Service struct {
	log      zerolog.Logger
	mu       sync.Mutex
	ctrl     *pwclient.Controller
	chains   *rtchain.Manager
	notifier Notifier

	channels map[uuid.UUID]*Channel
	rules    []RoutingRule

	pendingAutoRoute map[uint32]pendingApp

	configStore *persist.Store
	rulesStore  *persist.Store

	masterOutput   string
	masterVolumeDB float64
	masterMuted    bool

	recordingEnabled bool
	recordingNodeID  uint32
	recordingPID     int

	ladspaPath string
}

type ServiceConfig struct {
	Logger       zerolog.Logger
	Controller   *pwclient.Controller
	BufferFrames int
	ConfigPath   string
	RulesPath    string
	LADSPAPath   string
}

func NewService(cfg ServiceConfig) *Service {
	return &Service{
		log:              cfg.Logger.With().Str("component", "service").Logger(),
		ctrl:             cfg.Controller,
		chains:           rtchain.NewManager(cfg.BufferFrames),
		notifier:         noopNotifier{},
		channels:         make(map[uuid.UUID]*Channel),
		pendingAutoRoute: make(map[uint32]pendingApp),
		configStore:      persist.NewStore(cfg.ConfigPath),
		rulesStore:       persist.NewStore(cfg.RulesPath),
		masterVolumeDB:   volume.MaxDB,
		ladspaPath:       cfg.LADSPAPath,
	}
}

// Start loads persisted state (if any), begins reacting to controller
// events in the background, and once initial discovery settles, re-issues
// CreateVirtualSink for every managed channel missing a live sink.
func (s *Service) Start(ctx context.Context) error {
	if s.configStore.Exists() {
		var doc MixerConfigDocument
		if err := s.configStore.Load(&doc); err != nil {
			s.log.Warn().Err(err).Msg("load mixer config failed, starting empty")
		} else {
			s.applyConfigDocument(doc)
		}
	}
	if s.rulesStore.Exists() {
		var doc RoutingRulesDocument
		if err := s.rulesStore.Load(&doc); err != nil {
			s.log.Warn().Err(err).Msg("load routing rules failed, starting empty")
		} else {
			s.rules = doc.Rules
		}
	}

	if s.recordingEnabled {
		s.recordingEnabled = false
		if err := s.SetMasterRecording(ctx, true); err != nil {
			s.log.Warn().Err(err).Msg("re-create recording source on start failed")
		}
	}

	go s.handleEvents(ctx)
	go func() {
		s.awaitInitialDiscovery(ctx)
		s.recreateMissingManagedSinks(ctx)
	}()
	return nil
}

// awaitInitialDiscovery enforces the service-level discovery budget: at
// least discoveryMinWait always elapses, and the wait never exceeds
// discoveryMaxWait, before the service trusts the mirror enough to act on
// it (e.g. recreating managed sinks).
func (s *Service) awaitInitialDiscovery(ctx context.Context) {
	select {
	case <-time.After(discoveryMinWait):
	case <-ctx.Done():
		return
	}
	waitCtx, cancel := context.WithTimeout(ctx, discoveryMaxWait-discoveryMinWait)
	defer cancel()
	_ = s.ctrl.AwaitInitialDiscovery(waitCtx)
}

func (s *Service) applyConfigDocument(doc MixerConfigDocument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.masterOutput = doc.MasterOutput
	s.masterVolumeDB = doc.MasterVolumeDB
	s.masterMuted = doc.MasterMuted
	s.recordingEnabled = doc.MasterRecording
	for i := range doc.Channels {
		ch := doc.Channels[i]
		s.channels[ch.ID] = &ch
	}
}

func (s *Service) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.ctrl.Events():
			if !ok {
				return
			}
			s.onControllerEvent(ctx, ev)
		}
	}
}

// onControllerEvent reconciles channel/app state against graph changes:
// a hardware sink appearing or disappearing reroutes channels that follow
// it, a PortAdded retries any pending auto-route bind for that node, and a
// NodeRemoved for a managed channel's own sink recreates that sink pair.
func (s *Service) onControllerEvent(ctx context.Context, ev pwclient.Event) {
	switch ev.Kind {
	case pwclient.EventNodeAdded:
		s.onNodeAdded(ctx, ev.NodeID)
	case pwclient.EventPortAdded:
		s.retryPendingBind(ctx, ev.NodeID)
	case pwclient.EventNodeRemoved:
		s.onNodeRemoved(ctx, ev.NodeID)
	}
}

func (s *Service) onNodeAdded(ctx context.Context, nodeID uint32) {
	n, ok := s.ctrl.Mirror().Node(nodeID)
	if !ok || n.MediaClass != graph.MediaClassAudioSink || isManagedSinkName(n.Name) {
		return
	}
	// A new hardware sink appeared: channels that follow the master
	// output (no explicit OutputDevice) are routed to it if it matches the
	// persisted master output, or if there is no master output configured
	// at all (then each newly appearing sink takes them over).
	s.mu.Lock()
	masterOutput := s.masterOutput
	var toRoute []*Channel
	for _, ch := range s.channels {
		if ch.OutputDevice == "" && (masterOutput == "" || masterOutput == n.Name) {
			toRoute = append(toRoute, ch)
		}
	}
	s.mu.Unlock()

	for _, ch := range toRoute {
		if ch.LoopbackOutputNodeID == 0 {
			continue
		}
		if err := s.ctrl.RouteChannelToDevice(ctx, ch.LoopbackOutputNodeID, n.ID); err != nil {
			s.log.Warn().Err(err).Str("channel", ch.Name).Msg("route to new hardware sink failed")
		}
	}
}

func (s *Service) onNodeRemoved(ctx context.Context, nodeID uint32) {
	s.mu.Lock()
	var affectedChannel *Channel
	var removedApp string
	for _, ch := range s.channels {
		if ch.SinkNodeID == nodeID || ch.LoopbackOutputNodeID == nodeID {
			affectedChannel = ch
		}
		for i, app := range ch.Apps {
			if app.NodeID == nodeID {
				removedApp = app.BinaryName
				ch.Apps = append(ch.Apps[:i], ch.Apps[i+1:]...)
				break
			}
		}
	}
	delete(s.pendingAutoRoute, nodeID)
	s.mu.Unlock()

	if removedApp != "" {
		s.notify(SignalAppRemoved, removedApp)
	}
	if affectedChannel != nil && affectedChannel.IsManaged {
		// One half of a managed channel's sink pair vanished unexpectedly
		// (crash, external kill); clear the dead node ID and recreate the
		// pair right away.
		s.mu.Lock()
		if affectedChannel.SinkNodeID == nodeID {
			affectedChannel.SinkNodeID = 0
		}
		if affectedChannel.LoopbackOutputNodeID == nodeID {
			affectedChannel.LoopbackOutputNodeID = 0
		}
		s.mu.Unlock()
		if err := s.recreateManagedSink(ctx, affectedChannel); err != nil {
			s.log.Warn().Err(err).Str("channel", affectedChannel.Name).Msg("recreate managed sink failed")
		}
		return
	}

	// Otherwise this may have been a hardware sink some channel was
	// explicitly routed to; fall back those channels to another device.
	s.rerouteOrphanedChannels(ctx, nodeID)
}

func (s *Service) rerouteOrphanedChannels(ctx context.Context, removedNodeID uint32) {
	s.mu.Lock()
	var orphaned []*Channel
	for _, ch := range s.channels {
		if ch.OutputDevice != "" {
			if n, ok := s.ctrl.Mirror().NodeByName(ch.OutputDevice); !ok || n.ID == removedNodeID {
				orphaned = append(orphaned, ch)
			}
		}
	}
	s.mu.Unlock()
	if len(orphaned) == 0 {
		return
	}

	fallback, ok := s.fallbackOutputDevice()
	if !ok {
		return
	}
	for _, ch := range orphaned {
		if ch.LoopbackOutputNodeID == 0 {
			continue
		}
		if err := s.ctrl.RouteChannelToDevice(ctx, ch.LoopbackOutputNodeID, fallback); err != nil {
			s.log.Warn().Err(err).Str("channel", ch.Name).Msg("reroute orphaned channel failed")
			continue
		}
		s.mu.Lock()
		ch.OutputDevice = ""
		s.mu.Unlock()
	}
}

func (s *Service) retryPendingBind(ctx context.Context, nodeID uint32) {
	s.mu.Lock()
	pending, ok := s.pendingAutoRoute[nodeID]
	s.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	ch, ok := s.channels[pending.channelID]
	sinkNodeID := uint32(0)
	if ok {
		sinkNodeID = ch.SinkNodeID
	}
	s.mu.Unlock()
	if !ok {
		s.mu.Lock()
		delete(s.pendingAutoRoute, nodeID)
		s.mu.Unlock()
		return
	}
	if err := s.ctrl.BindNode(ctx, nodeID, sinkNodeID); err != nil {
		s.log.Warn().Err(err).Str("binary", pending.binaryName).Msg("retry pending bind failed")
		return
	}
	s.mu.Lock()
	delete(s.pendingAutoRoute, nodeID)
	s.mu.Unlock()
	s.notify(SignalAppRouted, pending.binaryName)
}

// fallbackOutputDevice returns the first hardware sink that isn't one of
// this daemon's own managed virtual sinks, for RouteChannelToDevice calls
// that have no explicit target.
func (s *Service) fallbackOutputDevice() (uint32, bool) {
	snap := s.ctrl.Mirror().Snapshot()
	outs := snap.OutputDevices(s.managedSinkNames()...)
	if len(outs) == 0 {
		return 0, false
	}
	return outs[0].ID, true
}

func (s *Service) managedSinkNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.channels))
	for _, ch := range s.channels {
		if ch.IsManaged {
			names = append(names, managedSinkPrefix+ch.Name)
		}
	}
	return names
}

func (s *Service) persistConfig() error {
	s.mu.Lock()
	doc := MixerConfigDocument{
		Version:         persist.CurrentVersion,
		MasterOutput:    s.masterOutput,
		MasterVolumeDB:  s.masterVolumeDB,
		MasterMuted:     s.masterMuted,
		MasterRecording: s.recordingEnabled,
	}
	for _, ch := range s.channels {
		doc.Channels = append(doc.Channels, *ch)
	}
	s.mu.Unlock()
	if err := s.configStore.Save(doc); err != nil {
		return &Error{Kind: ErrPersistenceWrite, Op: "persistConfig", Err: err}
	}
	return nil
}

func (s *Service) persistRules() error {
	s.mu.Lock()
	doc := RoutingRulesDocument{Version: persist.CurrentVersion, Rules: s.rules}
	s.mu.Unlock()
	if err := s.rulesStore.Save(doc); err != nil {
		return &Error{Kind: ErrPersistenceWrite, Op: "persistRules", Err: err}
	}
	return nil
}

// CreateChannel creates a new logical playback channel and its virtual
// sink pair (the sink apps link into, and its loopback-output node, which
// is what volume/mute/routing commands target).
func (s *Service) CreateChannel(ctx context.Context, name string) (*Channel, error) {
	if name == "" {
		return nil, &Error{Kind: ErrInvalidArgument, Op: "CreateChannel", Err: fmt.Errorf("name required")}
	}

	sinkName := managedSinkPrefix + name
	sinkNodeID, outNodeID, pid, err := s.ctrl.CreateVirtualSink(ctx, sinkName, name)
	if err != nil {
		return nil, &Error{Kind: ErrHelperSpawn, Op: "CreateChannel", Err: err}
	}
	if _, err := s.chains.CreateChain(name); err != nil {
		return nil, &Error{Kind: ErrInvalidArgument, Op: "CreateChannel", Err: err}
	}

	ch := &Channel{
		ID:                   uuid.New(),
		Name:                 name,
		Kind:                 ChannelKindOutput,
		IsManaged:            true,
		SinkNodeID:           sinkNodeID,
		LoopbackOutputNodeID: outNodeID,
		SinkPID:              pid,
		VolumeDB:             volume.MaxDB,
		CreatedAt:            time.Now(),
	}

	s.mu.Lock()
	s.channels[ch.ID] = ch
	s.mu.Unlock()

	if err := s.persistConfig(); err != nil {
		s.log.Warn().Err(err).Msg("persist after CreateChannel failed")
	}
	s.notify(SignalChannelAdded, ch.ID)
	return ch, nil
}

// CreateInputChannel creates a microphone/recording-style channel with a
// noise-suppression chain gated by vadThresholdDB, used for mic inputs
// rather than application playback.
func (s *Service) CreateInputChannel(ctx context.Context, name string, vadThresholdDB float64) (*Channel, error) {
	if name == "" {
		return nil, &Error{Kind: ErrInvalidArgument, Op: "CreateInputChannel", Err: fmt.Errorf("name required")}
	}

	sourceName := managedSinkPrefix + name
	nodeID, pid, err := s.ctrl.CreateRecordingSource(ctx, sourceName, name)
	if err != nil {
		return nil, &Error{Kind: ErrHelperSpawn, Op: "CreateInputChannel", Err: err}
	}
	chain, err := s.chains.CreateChain(name)
	if err != nil {
		return nil, &Error{Kind: ErrInvalidArgument, Op: "CreateInputChannel", Err: err}
	}
	if inst, ok := plugins.NewNoiseSuppressionChain(s.ladspaPath, vadThresholdDB); ok {
		if err := chain.AddPlugin("noise-suppression", inst); err != nil {
			s.log.Warn().Err(err).Msg("add noise suppression plugin failed")
		}
	}

	ch := &Channel{
		ID:           uuid.New(),
		Name:         name,
		Kind:         ChannelKindInput,
		IsManaged:    true,
		SinkNodeID:   nodeID,
		VolumeDB:     volume.MaxDB,
		VADThreshold: vadThresholdDB,
		CreatedAt:    time.Now(),
	}

	s.mu.Lock()
	s.channels[ch.ID] = ch
	s.mu.Unlock()

	if err := s.persistConfig(); err != nil {
		s.log.Warn().Err(err).Msg("persist after CreateInputChannel failed")
	}
	s.notify(SignalChannelAdded, ch.ID)
	return ch, nil
}

// recreateManagedSink re-issues CreateVirtualSink/CreateRecordingSource for
// a managed channel that lost its live sink id (startup recovery, or an
// unexpected node removal mid-run).
func (s *Service) recreateManagedSink(ctx context.Context, ch *Channel) error {
	switch ch.Kind {
	case ChannelKindInput:
		nodeID, pid, err := s.ctrl.CreateRecordingSource(ctx, managedSinkPrefix+ch.Name, ch.Name)
		if err != nil {
			return err
		}
		s.mu.Lock()
		ch.SinkNodeID, ch.SinkPID = nodeID, pid
		s.mu.Unlock()
	default:
		sinkNodeID, outNodeID, pid, err := s.ctrl.CreateVirtualSink(ctx, managedSinkPrefix+ch.Name, ch.Name)
		if err != nil {
			return err
		}
		s.mu.Lock()
		ch.SinkNodeID, ch.LoopbackOutputNodeID, ch.SinkPID = sinkNodeID, outNodeID, pid
		s.mu.Unlock()
	}
	return s.persistConfig()
}

// recreateMissingManagedSinks re-issues CreateVirtualSink for every
// managed channel loaded from persistence that lacks a live sink node,
// after a (re)connect's initial discovery window has settled.
func (s *Service) recreateMissingManagedSinks(ctx context.Context) {
	s.mu.Lock()
	var stale []*Channel
	for _, ch := range s.channels {
		if !ch.IsManaged {
			continue
		}
		if _, ok := s.ctrl.Mirror().Node(ch.SinkNodeID); ch.SinkNodeID == 0 || !ok {
			stale = append(stale, ch)
		}
	}
	s.mu.Unlock()

	for _, ch := range stale {
		if err := s.recreateManagedSink(ctx, ch); err != nil {
			s.log.Warn().Err(err).Str("channel", ch.Name).Msg("recreate missing managed sink failed")
		}
	}
}

// DeleteChannel tears down a channel's virtual sink pair and plugin chain.
func (s *Service) DeleteChannel(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	ch, ok := s.channels[id]
	if !ok {
		s.mu.Unlock()
		return &Error{Kind: ErrChannelNotFound, Op: "DeleteChannel"}
	}
	delete(s.channels, id)
	s.mu.Unlock()

	if err := s.ctrl.DestroyVirtualSink(ctx, ch.SinkPID, ch.SinkNodeID, ch.LoopbackOutputNodeID); err != nil {
		s.log.Warn().Err(err).Msg("destroy virtual sink failed")
	}
	_ = s.chains.DeleteChain(ch.Name)

	if err := s.persistConfig(); err != nil {
		return err
	}
	s.notify(SignalChannelRemoved, id)
	return nil
}

// RenameChannel changes a channel's display name, its plugin chain key,
// and re-publishes the sink's node.description through the session
// manager so external volume UIs reflect the new name too.
func (s *Service) RenameChannel(ctx context.Context, id uuid.UUID, newName string) error {
	if newName == "" {
		return &Error{Kind: ErrInvalidArgument, Op: "RenameChannel"}
	}
	s.mu.Lock()
	ch, ok := s.channels[id]
	if !ok {
		s.mu.Unlock()
		return &Error{Kind: ErrChannelNotFound, Op: "RenameChannel"}
	}
	if err := s.chains.RenameChain(ch.Name, newName); err != nil {
		s.mu.Unlock()
		return &Error{Kind: ErrInvalidArgument, Op: "RenameChannel", Err: err}
	}
	ch.Name = newName
	sinkNodeID := ch.SinkNodeID
	s.mu.Unlock()

	if sinkNodeID != 0 {
		if err := s.ctrl.UpdateSinkDescription(ctx, sinkNodeID, newName); err != nil {
			s.log.Warn().Err(err).Msg("update sink description failed")
		}
	}

	if err := s.persistConfig(); err != nil {
		return err
	}
	s.notify(SignalChannelUpdated, id)
	return nil
}

// SetVolume sets a channel's volume in decibels, clamped to the valid
// range, enqueues the equivalent native-proxy write against the channel's
// loopback output node, and persists the config. The RT chain's
// parameters are not touched.
func (s *Service) SetVolume(ctx context.Context, id uuid.UUID, db float64) error {
	s.mu.Lock()
	ch, ok := s.channels[id]
	if !ok {
		s.mu.Unlock()
		return &Error{Kind: ErrChannelNotFound, Op: "SetVolume"}
	}
	if db < volume.MinDB {
		db = volume.MinDB
	}
	if db > volume.MaxDB {
		db = volume.MaxDB
	}
	ch.VolumeDB = db
	nodeID := ch.LoopbackOutputNodeID
	if nodeID == 0 {
		nodeID = ch.SinkNodeID
	}
	s.mu.Unlock()

	if nodeID != 0 {
		s.ctrl.SetVolume(nodeID, volume.DBToLinear(db))
	}

	if err := s.persistConfig(); err != nil {
		return err
	}
	s.notify(SignalVolumeChanged, id)
	return nil
}

// SetMute toggles a channel's mute state and enqueues the equivalent
// native-proxy write against its loopback output node.
func (s *Service) SetMute(ctx context.Context, id uuid.UUID, muted bool) error {
	s.mu.Lock()
	ch, ok := s.channels[id]
	if !ok {
		s.mu.Unlock()
		return &Error{Kind: ErrChannelNotFound, Op: "SetMute"}
	}
	ch.Muted = muted
	nodeID := ch.LoopbackOutputNodeID
	if nodeID == 0 {
		nodeID = ch.SinkNodeID
	}
	s.mu.Unlock()

	if nodeID != 0 {
		s.ctrl.SetMute(nodeID, muted)
	}

	if err := s.persistConfig(); err != nil {
		return err
	}
	s.notify(SignalMuteChanged, id)
	return nil
}

// SetOutput changes which physical device a channel routes to, resolving
// device by name against the graph mirror and falling back to the first
// non-mixer hardware sink if device is empty.
func (s *Service) SetOutput(ctx context.Context, id uuid.UUID, device string) error {
	s.mu.Lock()
	ch, ok := s.channels[id]
	if !ok {
		s.mu.Unlock()
		return &Error{Kind: ErrChannelNotFound, Op: "SetOutput"}
	}
	loopbackID := ch.LoopbackOutputNodeID
	s.mu.Unlock()

	deviceNodeID, err := s.resolveOutputDevice(device)
	if err != nil {
		return &Error{Kind: ErrNodeNotFound, Op: "SetOutput", Err: err}
	}
	if loopbackID != 0 {
		if err := s.ctrl.RouteChannelToDevice(ctx, loopbackID, deviceNodeID); err != nil {
			return &Error{Kind: ErrLinkCreationFailed, Op: "SetOutput", Err: err}
		}
	}

	s.mu.Lock()
	ch.OutputDevice = device
	s.mu.Unlock()

	if err := s.persistConfig(); err != nil {
		return err
	}
	s.notify(SignalChannelUpdated, id)
	return nil
}

// SetMasterOutput changes the default audio-server sink and re-routes
// every channel that has no explicit output device of its own.
func (s *Service) SetMasterOutput(ctx context.Context, device string) error {
	deviceNodeID, err := s.resolveOutputDevice(device)
	if err != nil {
		return &Error{Kind: ErrNodeNotFound, Op: "SetMasterOutput", Err: err}
	}
	if err := s.ctrl.SetDefaultSink(ctx, deviceNodeID); err != nil {
		return &Error{Kind: ErrParamSendFailed, Op: "SetMasterOutput", Err: err}
	}

	s.mu.Lock()
	s.masterOutput = device
	var following []*Channel
	for _, ch := range s.channels {
		if ch.OutputDevice == "" && ch.LoopbackOutputNodeID != 0 {
			following = append(following, ch)
		}
	}
	s.mu.Unlock()

	for _, ch := range following {
		if err := s.ctrl.RouteChannelToDevice(ctx, ch.LoopbackOutputNodeID, deviceNodeID); err != nil {
			s.log.Warn().Err(err).Str("channel", ch.Name).Msg("follow master output failed")
		}
	}

	if err := s.persistConfig(); err != nil {
		return err
	}
	s.notify(SignalOutputsChanged, device)
	return nil
}

// resolveOutputDevice resolves a device name to a node id, falling back
// to the first non-mixer hardware sink when name is empty or unresolvable.
func (s *Service) resolveOutputDevice(name string) (uint32, error) {
	if name != "" {
		if n, ok := s.ctrl.Mirror().NodeByName(name); ok {
			return n.ID, nil
		}
	}
	if id, ok := s.fallbackOutputDevice(); ok {
		return id, nil
	}
	return 0, fmt.Errorf("no output device available for %q", name)
}

// SetMasterVolume sets the master bus volume in decibels.
func (s *Service) SetMasterVolume(db float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if db < volume.MinDB {
		db = volume.MinDB
	}
	if db > volume.MaxDB {
		db = volume.MaxDB
	}
	s.masterVolumeDB = db
	return s.persistConfigLocked()
}

// SetMasterMute toggles the master bus mute state.
func (s *Service) SetMasterMute(muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.masterMuted = muted
	return s.persistConfigLocked()
}

// persistConfigLocked is persistConfig for callers already holding s.mu.
func (s *Service) persistConfigLocked() error {
	doc := MixerConfigDocument{
		Version:         persist.CurrentVersion,
		MasterOutput:    s.masterOutput,
		MasterVolumeDB:  s.masterVolumeDB,
		MasterMuted:     s.masterMuted,
		MasterRecording: s.recordingEnabled,
	}
	for _, ch := range s.channels {
		doc.Channels = append(doc.Channels, *ch)
	}
	if err := s.configStore.Save(doc); err != nil {
		return &Error{Kind: ErrPersistenceWrite, Op: "persistConfig", Err: err}
	}
	return nil
}

func (s *Service) GetMasterVolume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.masterVolumeDB
}

func (s *Service) GetMasterMute() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.masterMuted
}

func (s *Service) GetMasterOutput() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.masterOutput
}

// GetMasterConnected reports whether the controller currently has a live
// connection to the audio server.
func (s *Service) GetMasterConnected() bool {
	return s.ctrl.Connected()
}

// SetMasterRecording toggles the master recording tap: a loopback helper
// named pwmixer_recording, spawned through CreateRecordingSource. It is
// the same sink+stream pair a channel gets; it is not an input-class
// source and is not linked to the default sink's monitor. Enabling when already enabled, or disabling when already disabled, is
// a no-op.
func (s *Service) SetMasterRecording(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	already := s.recordingEnabled
	nodeID, pid := s.recordingNodeID, s.recordingPID
	s.mu.Unlock()

	if enabled == already {
		return nil
	}

	if enabled {
		newNodeID, newPID, err := s.ctrl.CreateRecordingSource(ctx, "pwmixer_recording", "Mixer Recording Tap")
		if err != nil {
			return &Error{Kind: ErrHelperSpawn, Op: "SetMasterRecording", Err: err}
		}
		s.mu.Lock()
		s.recordingEnabled = true
		s.recordingNodeID = newNodeID
		s.recordingPID = newPID
		s.mu.Unlock()
		return s.persistConfig()
	}

	if err := s.ctrl.DestroyRecordingSource(ctx, pid, nodeID); err != nil {
		s.log.Warn().Err(err).Msg("destroy recording source failed")
	}
	s.mu.Lock()
	s.recordingEnabled = false
	s.recordingNodeID = 0
	s.recordingPID = 0
	s.mu.Unlock()
	return s.persistConfig()
}

// MasterRecordingEnabled reports whether the master recording tap is
// currently active.
func (s *Service) MasterRecordingEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordingEnabled
}

// AssignApp binds an application's stream to a channel. If the app is
// already assigned elsewhere, the old binding is left in place until the
// new link is confirmed (create-before-destroy), per the reassignment
// ordering decision. If the app's stream ports haven't appeared in the
// graph mirror yet, the assignment is recorded optimistically and retried
// once a PortAdded event arrives for its node.
func (s *Service) AssignApp(ctx context.Context, channelID uuid.UUID, appNodeID uint32, binaryName string) error {
	s.mu.Lock()
	ch, ok := s.channels[channelID]
	if !ok {
		s.mu.Unlock()
		return &Error{Kind: ErrChannelNotFound, Op: "AssignApp"}
	}
	sinkNodeID := ch.SinkNodeID
	s.mu.Unlock()

	// Find any channel the app is currently linked to, so we can destroy
	// that link only after the new one succeeds.
	var prevChannel *Channel
	s.mu.Lock()
	for _, other := range s.channels {
		if other.ID == channelID {
			continue
		}
		if other.HasApp(binaryName) {
			prevChannel = other
			break
		}
	}
	s.mu.Unlock()

	bindErr := s.ctrl.BindNode(ctx, appNodeID, sinkNodeID)
	if bindErr != nil {
		s.log.Warn().Err(bindErr).Str("binary", binaryName).Msg("bind app node failed, deferring to PortAdded retry")
		s.mu.Lock()
		s.pendingAutoRoute[appNodeID] = pendingApp{channelID: channelID, binaryName: binaryName}
		s.mu.Unlock()
	}

	s.mu.Lock()
	ch.Apps = append(ch.Apps, App{NodeID: appNodeID, BinaryName: binaryName})
	if prevChannel != nil {
		prevChannel.RemoveApp(binaryName)
	}
	s.mu.Unlock()

	if prevChannel != nil && bindErr == nil {
		if err := s.ctrl.UnbindNode(ctx, appNodeID, prevChannel.SinkNodeID); err != nil {
			s.log.Warn().Err(err).Msg("unbind stale link after reassignment failed")
		}
	}

	if err := s.persistConfig(); err != nil {
		return err
	}
	s.notify(SignalAppRouted, binaryName)
	return nil
}

// UnassignApp removes an app's binding from a channel. The app's stream is
// linked to the fallback hardware sink before its link to the channel's
// sink is destroyed (create-before-destroy), so its audio does not drop.
func (s *Service) UnassignApp(ctx context.Context, channelID uuid.UUID, binaryName string) error {
	s.mu.Lock()
	ch, ok := s.channels[channelID]
	if !ok {
		s.mu.Unlock()
		return &Error{Kind: ErrChannelNotFound, Op: "UnassignApp"}
	}
	var appNodeID uint32
	found := false
	for _, a := range ch.Apps {
		if a.BinaryName == binaryName {
			appNodeID = a.NodeID
			found = true
			break
		}
	}
	sinkNodeID := ch.SinkNodeID
	s.mu.Unlock()

	if !found {
		return &Error{Kind: ErrAppNotFound, Op: "UnassignApp"}
	}

	if fallback, ok := s.fallbackOutputDevice(); ok {
		if err := s.ctrl.BindNode(ctx, appNodeID, fallback); err != nil {
			s.log.Warn().Err(err).Msg("link to fallback output on unassign failed")
		}
	}
	if err := s.ctrl.UnbindNode(ctx, appNodeID, sinkNodeID); err != nil {
		s.log.Warn().Err(err).Msg("unbind on unassign failed")
	}

	s.mu.Lock()
	ch.RemoveApp(binaryName)
	s.mu.Unlock()

	if err := s.persistConfig(); err != nil {
		return err
	}
	s.notify(SignalAppUnrouted, binaryName)
	return nil
}

// Chain returns a channel's plugin chain processor, for wiring into the
// RT callback.
func (s *Service) Chain(channelName string) (*rtchain.Processor, error) {
	return s.chains.GetChain(channelName)
}

// AddPlugin adds a plugin instance to a channel's chain.
func (s *Service) AddPlugin(channelName, pluginName string, inst plugins.Instance) error {
	chain, err := s.chains.GetChain(channelName)
	if err != nil {
		return &Error{Kind: ErrInvalidArgument, Op: "AddPlugin", Err: err}
	}
	return chain.AddPlugin(pluginName, inst)
}

// ChannelMeter returns a channel's plugin chain's most recent peak level,
// for the IPC facade's periodic MeterUpdate signal.
func (s *Service) ChannelMeter(channelName string) (float32, error) {
	chain, err := s.chains.GetChain(channelName)
	if err != nil {
		return 0, &Error{Kind: ErrInvalidArgument, Op: "ChannelMeter", Err: err}
	}
	return chain.PeakLevel(), nil
}

// Channels returns a snapshot of all channels, sorted by creation order.
func (s *Service) Channels() []Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, *ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// GetApps returns every app currently bound to any channel.
func (s *Service) GetApps() []App {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []App
	for _, ch := range s.channels {
		out = append(out, ch.Apps...)
	}
	return out
}

// GetOutputs returns every hardware sink the graph mirror currently knows
// about, excluding this daemon's own managed virtual sinks.
func (s *Service) GetOutputs() []string {
	snap := s.ctrl.Mirror().Snapshot()
	var names []string
	for _, n := range snap.OutputDevices(s.managedSinkNames()...) {
		names = append(names, n.Name)
	}
	return names
}

// GetInputs returns every hardware source the graph mirror currently
// knows about.
func (s *Service) GetInputs() []string {
	snap := s.ctrl.Mirror().Snapshot()
	var names []string
	for _, n := range snap.ByMediaClass(graph.MediaClassAudioSource) {
		names = append(names, n.Name)
	}
	return names
}

func isManagedSinkName(name string) bool {
	return len(name) >= len(managedSinkPrefix) && name[:len(managedSinkPrefix)] == managedSinkPrefix
}
