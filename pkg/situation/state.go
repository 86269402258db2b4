package situation

// State is the lifecycle state of a situation instance
type State string

const (
	StateDormant      State = "dormant"
	StateDiscoverable State = "discoverable"
	StateActive       State = "active"
	StateResolvable   State = "resolvable"
	StateResolved     State = "resolved"
	StateExpired      State = "expired"
	StateAbandoned    State = "abandoned"
)

// Event drives a state transition
type Event string

const (
	EventActivate      Event = "activate"
	EventDiscover      Event = "discover"
	EventCluesComplete Event = "clues_complete"
	EventResolve       Event = "resolve"
	EventExpire        Event = "expire"
	EventAbandon       Event = "abandon"
)

var transitions = map[State]map[Event]State{
	StateDormant: {
		EventActivate: StateDiscoverable,
		EventAbandon:  StateAbandoned,
	},
	StateDiscoverable: {
		EventDiscover: StateActive,
		EventExpire:   StateExpired,
		EventAbandon:  StateAbandoned,
	},
	StateActive: {
		EventCluesComplete: StateResolvable,
		EventExpire:        StateExpired,
		EventAbandon:       StateAbandoned,
	},
	StateResolvable: {
		EventResolve: StateResolved,
		EventExpire:  StateExpired,
		EventAbandon: StateAbandoned,
	},
	// a closed situation can still be voided while its consequences are pending
	StateResolved: {
		EventAbandon: StateAbandoned,
	},
	StateExpired: {
		EventAbandon: StateAbandoned,
	},
	StateAbandoned: {},
}

// Transition returns the state reached from s on ev. Undefined pairs fail
// with ErrInvalidTransition. Terminal states accept only abandon, and
// abandoned accepts nothing.
func Transition(s State, ev Event) (State, error) {
	next, ok := transitions[s][ev]
	if !ok {
		return s, Errorf(CodeInvalidTransition, "cannot %s a %s situation", ev, s)
	}
	return next, nil
}

// Terminal states are out of play: no discovery, investigation, resolution
// or expiry applies to them
func (s State) Terminal() bool {
	return s == StateResolved || s == StateExpired || s == StateAbandoned
}

// Live reports whether a spawned instance is still in play
func (s State) Live() bool {
	return s == StateDiscoverable || s == StateActive || s == StateResolvable
}

// Known reports whether the player is aware of the situation
func (s State) Known() bool {
	return s == StateActive || s == StateResolvable
}

// States lists every state in lifecycle order
func States() []State {
	return []State{StateDormant, StateDiscoverable, StateActive, StateResolvable, StateResolved, StateExpired, StateAbandoned}
}

// Events lists every event
func Events() []Event {
	return []Event{EventActivate, EventDiscover, EventCluesComplete, EventResolve, EventExpire, EventAbandon}
}
