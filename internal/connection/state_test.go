package connection

import (
	"errors"
	"testing"
)

func TestNext_Table(t *testing.T) {
	all := []State{
		StateDisconnected, StateConnecting, StateConnected,
		StateReconnecting, StateDisconnecting, StateFailed,
	}
	allowed := map[Action]map[State]State{
		ActionConnect: {
			StateDisconnected: StateConnecting,
			StateFailed:       StateConnecting,
		},
		ActionConnected: {
			StateConnecting:   StateConnected,
			StateReconnecting: StateConnected,
		},
		ActionDisconnect: {
			StateConnecting:   StateDisconnecting,
			StateConnected:    StateDisconnecting,
			StateReconnecting: StateDisconnecting,
		},
		ActionDisconnected: {
			StateConnecting:    StateDisconnected,
			StateConnected:     StateDisconnected,
			StateReconnecting:  StateDisconnected,
			StateDisconnecting: StateDisconnected,
		},
		ActionReconnect: {
			StateDisconnected: StateReconnecting,
		},
		ActionFailed: {
			StateDisconnected: StateFailed,
			StateConnecting:   StateFailed,
			StateReconnecting: StateFailed,
		},
	}

	for action, edges := range allowed {
		for _, from := range all {
			got, err := Next(from, action)
			want, ok := edges[from]
			if ok {
				if err != nil {
					t.Errorf("Next(%s, %s) error = %v, want nil", from, action, err)
				}
				if got != want {
					t.Errorf("Next(%s, %s) = %s, want %s", from, action, got, want)
				}
				continue
			}
			var ite *InvalidTransitionError
			if !errors.As(err, &ite) {
				t.Errorf("Next(%s, %s) error = %v, want InvalidTransitionError", from, action, err)
				continue
			}
			if got != from {
				t.Errorf("Next(%s, %s) = %s, want unchanged %s", from, action, got, from)
			}
		}
	}
}

func TestNext_UnknownAction(t *testing.T) {
	if _, err := Next(StateDisconnected, Action("teleport")); err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestStateMachine_NotifiesObserver(t *testing.T) {
	type change struct{ next, prev State }
	var changes []change

	m := NewStateMachine(func(next, prev State) {
		changes = append(changes, change{next, prev})
	})

	if m.State() != StateDisconnected {
		t.Fatalf("initial state = %s, want disconnected", m.State())
	}
	if err := m.TransitionTo(ActionConnect); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := m.TransitionTo(ActionConnected); err != nil {
		t.Fatalf("connected: %v", err)
	}

	want := []change{
		{StateConnecting, StateDisconnected},
		{StateConnected, StateConnecting},
	}
	if len(changes) != len(want) {
		t.Fatalf("got %d changes, want %d", len(changes), len(want))
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("change %d = %+v, want %+v", i, changes[i], want[i])
		}
	}
}

func TestStateMachine_RejectedTransition(t *testing.T) {
	calls := 0
	m := NewStateMachine(func(next, prev State) { calls++ })

	err := m.TransitionTo(ActionConnected)
	if err == nil {
		t.Fatal("expected connected from disconnected to be rejected")
	}
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("error = %T, want *InvalidTransitionError", err)
	}
	if ite.Action != ActionConnected || ite.From != StateDisconnected {
		t.Errorf("error = %+v", ite)
	}
	if m.State() != StateDisconnected {
		t.Errorf("state = %s, want disconnected", m.State())
	}
	if calls != 0 {
		t.Errorf("observer called %d times, want 0", calls)
	}
}

func TestStateMachine_Can(t *testing.T) {
	m := NewStateMachine(nil)
	if !m.Can(ActionConnect) {
		t.Error("expected connect to be allowed from disconnected")
	}
	if m.Can(ActionDisconnect) {
		t.Error("expected disconnect to be rejected from disconnected")
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateReconnecting, "reconnecting"},
		{StateDisconnecting, "disconnecting"},
		{StateFailed, "failed"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
