package connection

import "sync"

// State is the connection status of a session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDisconnecting
	StateFailed
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnecting:
		return "disconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Action names a state transition.
type Action string

const (
	ActionConnect      Action = "connect"
	ActionConnected    Action = "connected"
	ActionDisconnect   Action = "disconnect"
	ActionDisconnected Action = "disconnected"
	ActionReconnect    Action = "reconnect"
	ActionFailed       Action = "failed"
)

type transition struct {
	from []State
	to   State
}

// transitions is the complete edge table. Anything not listed is rejected.
var transitions = map[Action]transition{
	ActionConnect: {
		from: []State{StateDisconnected, StateFailed},
		to:   StateConnecting,
	},
	ActionConnected: {
		from: []State{StateConnecting, StateReconnecting},
		to:   StateConnected,
	},
	ActionDisconnect: {
		from: []State{StateConnecting, StateConnected, StateReconnecting},
		to:   StateDisconnecting,
	},
	ActionDisconnected: {
		from: []State{StateConnecting, StateConnected, StateReconnecting, StateDisconnecting},
		to:   StateDisconnected,
	},
	ActionReconnect: {
		from: []State{StateDisconnected},
		to:   StateReconnecting,
	},
	ActionFailed: {
		from: []State{StateDisconnected, StateConnecting, StateReconnecting},
		to:   StateFailed,
	},
}

// Next returns the state reached by applying action to current.
func Next(current State, action Action) (State, error) {
	t, ok := transitions[action]
	if !ok {
		return current, &InvalidTransitionError{Action: action, From: current}
	}
	for _, s := range t.from {
		if s == current {
			return t.to, nil
		}
	}
	return current, &InvalidTransitionError{Action: action, From: current}
}

// StateObserver receives every accepted transition.
type StateObserver func(next, prev State)

// StateMachine holds the connection state and applies the transition table.
type StateMachine struct {
	mu       sync.RWMutex
	state    State
	observer StateObserver
}

// NewStateMachine creates a machine in StateDisconnected.
func NewStateMachine(observer StateObserver) *StateMachine {
	return &StateMachine{
		state:    StateDisconnected,
		observer: observer,
	}
}

// State returns the current state.
func (m *StateMachine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Can reports whether action is allowed from the current state.
func (m *StateMachine) Can(action Action) bool {
	_, err := Next(m.State(), action)
	return err == nil
}

// TransitionTo applies action. A rejected action leaves the state unchanged
// and does not notify the observer. The observer runs before TransitionTo
// returns.
func (m *StateMachine) TransitionTo(action Action) error {
	m.mu.Lock()
	prev := m.state
	next, err := Next(prev, action)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.state = next
	m.mu.Unlock()

	if m.observer != nil {
		m.observer(next, prev)
	}
	return nil
}
