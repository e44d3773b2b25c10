// Package connectivity tracks the client's view of backend reachability.
// An external network-status source drives transitions by calling Set; the
// monitor itself never probes the network.
package connectivity

import (
	"sync"
	"time"

	"chatsync/pkg/logger"
)

// State is the current connectivity of this execution context.
type State string

const (
	Online  State = "online"
	Offline State = "offline"
)

// Monitor holds the current state, the timestamp of the last transition,
// and two kinds of outputs: ConnectivityChanged notifications for UI
// consumers and a Reconnected signal emitted exactly once per
// offline-to-online transition.
type Monitor struct {
	mu           sync.RWMutex
	state        State
	lastChangeAt time.Time

	changed     map[chan State]struct{}
	reconnected map[chan struct{}]struct{}
}

// New returns a monitor starting in the given state.
func New(initial State) *Monitor {
	if initial != Online {
		initial = Offline
	}
	return &Monitor{
		state:        initial,
		lastChangeAt: time.Now().UTC(),
		changed:      make(map[chan State]struct{}),
		reconnected:  make(map[chan struct{}]struct{}),
	}
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Online reports whether the monitor currently believes the backend is
// reachable.
func (m *Monitor) Online() bool { return m.State() == Online }

// LastChangeAt returns when the state last flipped.
func (m *Monitor) LastChangeAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastChangeAt
}

// Set applies a signal from the external network-status source. Repeated
// signals for the current state are no-ops; in particular a second "online"
// while already online does not re-emit Reconnected.
func (m *Monitor) Set(s State) {
	if s != Online {
		s = Offline
	}
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	wasOffline := m.state == Offline
	m.state = s
	m.lastChangeAt = time.Now().UTC()
	changed := make([]chan State, 0, len(m.changed))
	for ch := range m.changed {
		changed = append(changed, ch)
	}
	var recon []chan struct{}
	if wasOffline && s == Online {
		recon = make([]chan struct{}, 0, len(m.reconnected))
		for ch := range m.reconnected {
			recon = append(recon, ch)
		}
	}
	m.mu.Unlock()

	logger.Info("connectivity_changed", "state", string(s))
	for _, ch := range changed {
		select {
		case ch <- s:
		default:
		}
	}
	for _, ch := range recon {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// SubscribeChanged registers for ConnectivityChanged notifications. The
// returned channel is buffered; consumers that fall behind miss
// intermediate states but always converge via State().
func (m *Monitor) SubscribeChanged() chan State {
	ch := make(chan State, 4)
	m.mu.Lock()
	m.changed[ch] = struct{}{}
	m.mu.Unlock()
	return ch
}

// UnsubscribeChanged removes a ConnectivityChanged subscription.
func (m *Monitor) UnsubscribeChanged(ch chan State) {
	m.mu.Lock()
	if _, ok := m.changed[ch]; ok {
		delete(m.changed, ch)
		close(ch)
	}
	m.mu.Unlock()
}

// SubscribeReconnected registers for the Reconnected event. The channel has
// capacity 1 so a pending reconcile signal is never lost, and duplicate
// signals collapse.
func (m *Monitor) SubscribeReconnected() chan struct{} {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	m.reconnected[ch] = struct{}{}
	m.mu.Unlock()
	return ch
}

// UnsubscribeReconnected removes a Reconnected subscription.
func (m *Monitor) UnsubscribeReconnected(ch chan struct{}) {
	m.mu.Lock()
	if _, ok := m.reconnected[ch]; ok {
		delete(m.reconnected, ch)
		close(ch)
	}
	m.mu.Unlock()
}
