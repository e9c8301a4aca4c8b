package pwmixer

// Signal names a state change the service emits after releasing its lock,
// decoupling Service from whatever transport (the IPC facade, or a test
// double) ends up publishing it.
type Signal string

const (
	SignalChannelAdded        Signal = "ChannelAdded"
	SignalChannelRemoved      Signal = "ChannelRemoved"
	SignalChannelUpdated      Signal = "ChannelUpdated"
	SignalVolumeChanged       Signal = "VolumeChanged"
	SignalMuteChanged         Signal = "MuteChanged"
	SignalAppDiscovered       Signal = "AppDiscovered"
	SignalAppRemoved          Signal = "AppRemoved"
	SignalAppRouted           Signal = "AppRouted"
	SignalAppUnrouted         Signal = "AppUnrouted"
	SignalMasterVolumeChanged Signal = "MasterVolumeChanged"
	SignalMasterMuteChanged   Signal = "MasterMuteChanged"
	SignalOutputsChanged      Signal = "OutputsChanged"
	SignalInputsChanged       Signal = "InputsChanged"
	SignalConnectionChanged   Signal = "ConnectionChanged"
	SignalErrorOccurred       Signal = "ErrorOccurred"
)

// Notifier publishes a signal and its payload to external subscribers.
// ipc.Facade implements this; Service holds one and calls it outside its
// own lock, per the facade's "capture state, release lock, then emit"
// rule.
type Notifier interface {
	Notify(signal Signal, payload any)
}

type noopNotifier struct{}

func (noopNotifier) Notify(Signal, any) {}

// SetNotifier installs the signal sink. Safe to call before or after
// Start; defaults to a no-op so Service is usable headless (e.g. in
// tests) without an IPC facade.
func (s *Service) SetNotifier(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n == nil {
		n = noopNotifier{}
	}
	s.notifier = n
}

func (s *Service) notify(signal Signal, payload any) {
	s.mu.Lock()
	n := s.notifier
	s.mu.Unlock()
	if n != nil {
		n.Notify(signal, payload)
	}
}
