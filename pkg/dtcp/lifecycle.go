package dtcp

import "fmt"

// State is the lifecycle state of a connection's control engine.
type State int

const (
	// StateCreated: policies bound, no state vector yet, traffic refused.
	StateCreated State = iota

	// StateActive: a state vector exists and traffic is processed.
	StateActive

	// StateDetached: the state vector was discarded after an idle period.
	// The next traffic recreates it with the reset flag set.
	StateDetached

	// StateDestroyed is final.
	StateDestroyed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateActive:
		return "ACTIVE"
	case StateDetached:
		return "DETACHED"
	case StateDestroyed:
		return "DESTROYED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// HasStateVector reports whether a connection in state s owns a vector.
func (s State) HasStateVector() bool {
	return s == StateActive
}

// CanSwapPolicies reports whether the policy table may be replaced.
func (s State) CanSwapPolicies() bool {
	return s == StateCreated || s == StateDetached
}

// Event triggers a lifecycle transition.
type Event int

const (
	EventActivate Event = iota
	EventDetach
	EventReattach
	EventDestroy
)

// String returns the string representation of the event.
func (e Event) String() string {
	switch e {
	case EventActivate:
		return "ACTIVATE"
	case EventDetach:
		return "DETACH"
	case EventReattach:
		return "REATTACH"
	case EventDestroy:
		return "DESTROY"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(e))
	}
}

// StateMachine tracks a connection's lifecycle state. It is guarded by the
// connection lock.
type StateMachine struct {
	state State
}

// NewStateMachine returns a machine in StateCreated.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateCreated}
}

// GetState returns the current state.
func (sm *StateMachine) GetState() State {
	return sm.state
}

// Transition applies event, or returns an error leaving the state as is.
func (sm *StateMachine) Transition(event Event) error {
	next, err := sm.nextState(event)
	if err != nil {
		return err
	}
	sm.state = next
	return nil
}

// Can reports whether event is valid in the current state.
func (sm *StateMachine) Can(event Event) bool {
	_, err := sm.nextState(event)
	return err == nil
}

func (sm *StateMachine) nextState(event Event) (State, error) {
	switch sm.state {
	case StateCreated:
		switch event {
		case EventActivate:
			return StateActive, nil
		case EventDestroy:
			return StateDestroyed, nil
		}

	case StateActive:
		switch event {
		case EventDetach:
			return StateDetached, nil
		case EventDestroy:
			return StateDestroyed, nil
		}

	case StateDetached:
		switch event {
		case EventReattach:
			return StateActive, nil
		case EventDestroy:
			return StateDestroyed, nil
		}

	case StateDestroyed:
		return sm.state, fmt.Errorf("%w: event %s", ErrDestroyed, event)

	default:
		return sm.state, fmt.Errorf("unknown state %s", sm.state)
	}

	return sm.state, fmt.Errorf("invalid event %s for state %s", event, sm.state)
}
