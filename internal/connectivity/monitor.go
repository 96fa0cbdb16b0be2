// Package connectivity tracks the process-wide connection state the UI uses
// to gate mutations: whether the backend is reachable and the last
// classified subscription error. The state is never persisted.
package connectivity

import "sync"

// State is the current connectivity snapshot.
type State struct {
	NetworkReachable bool   `json:"networkReachable"`
	BackendError     string `json:"backendError,omitempty"`
}

// Blocked reports whether the UI should show a blocking connection-lost
// state and refuse mutations.
func (s State) Blocked() bool {
	return !s.NetworkReachable || s.BackendError != ""
}

// Monitor merges the network probe signal with the record subscription's
// error channel and fans state transitions out to listeners.
type Monitor struct {
	mu      sync.Mutex
	state   State
	subs    map[int]func(State)
	nextSub int
}

// NewMonitor starts optimistic: reachable, no error. The first probe or
// subscription error corrects it.
func NewMonitor() *Monitor {
	return &Monitor{
		state: State{NetworkReachable: true},
		subs:  make(map[int]func(State)),
	}
}

// SetNetworkReachable records a network transition event.
func (m *Monitor) SetNetworkReachable(ok bool) {
	m.update(func(s *State) { s.NetworkReachable = ok })
}

// SetBackendError records the latest subscription error message; empty
// means service restored.
func (m *Monitor) SetBackendError(msg string) {
	m.update(func(s *State) { s.BackendError = msg })
}

// State returns the current snapshot.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers a listener fired immediately and on every transition.
// The returned function is idempotent.
func (m *Monitor) Subscribe(fn func(State)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	current := m.state
	m.mu.Unlock()

	if fn != nil {
		fn(current)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

func (m *Monitor) update(mutate func(*State)) {
	m.mu.Lock()
	before := m.state
	mutate(&m.state)
	after := m.state
	subs := make([]func(State), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	if before == after {
		return
	}
	for _, fn := range subs {
		if fn != nil {
			fn(after)
		}
	}
}
