package tunnel

// State is the connection state reported to the application.
type State int

const (
	// StateConnecting is the initial state, until the first instruction.
	StateConnecting State = iota
	// StateOpen means instructions are flowing.
	StateOpen
	// StateUnstable means nothing has been received for longer than the
	// unstable threshold. The tunnel is still usable.
	StateUnstable
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateUnstable:
		return "UNSTABLE"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// event is an input to the state machine.
type event int

const (
	eventInstruction    event = iota // any instruction decoded, internal or not
	eventUnstableExpiry              // unstable-threshold timer fired
	eventClose                       // disconnect, transport close/error, timeout, framing error
)

// transitions lists every state change. Pairs not listed leave the state
// unchanged. CLOSED has no outgoing entries.
var transitions = map[State]map[event]State{
	StateConnecting: {
		eventInstruction:    StateOpen,
		eventUnstableExpiry: StateUnstable,
		eventClose:          StateClosed,
	},
	StateOpen: {
		eventUnstableExpiry: StateUnstable,
		eventClose:          StateClosed,
	},
	StateUnstable: {
		eventInstruction: StateOpen,
		eventClose:       StateClosed,
	},
}

// next returns the state that follows current on ev.
func next(current State, ev event) State {
	if to, ok := transitions[current][ev]; ok {
		return to
	}
	return current
}
