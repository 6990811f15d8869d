package session

// This file implements the session lifecycle state machine as a pure
// function over a transition table: no side effects, no Conn dependency.
// The loop executes the returned actions.
//
// State diagram:
//
//	Unconfigured --connect--> LoginSent --connect request--> ConnectReceived
//	     ConnectReceived --activation delay--> Authenticated
//	     Authenticated --local disconnect--> Disconnecting --flush--> Dead
//	     any --peer disconnect / timeout / fatal--> Dead

// State is the session lifecycle state.
type State uint8

const (
	// StateUnconfigured is a session that has not sent anything yet.
	StateUnconfigured State = iota

	// StateLoginSent means the login request is on the wire.
	StateLoginSent

	// StateConnectReceived means the handshake material arrived and the
	// connect response is scheduled for the activation endpoint.
	StateConnectReceived

	// StateAuthenticated is the steady state: masked checksums are
	// mandatory and game traffic flows.
	StateAuthenticated

	// StateDisconnecting is a local teardown flushing its final packet.
	StateDisconnecting

	// StateDead is terminal; every buffer is released.
	StateDead
)

// String returns the human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "Unconfigured"
	case StateLoginSent:
		return "LoginSent"
	case StateConnectReceived:
		return "ConnectReceived"
	case StateAuthenticated:
		return "Authenticated"
	case StateDisconnecting:
		return "Disconnecting"
	case StateDead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// Event is a session lifecycle event.
type Event uint8

const (
	// EventConnect is the user-triggered connect.
	EventConnect Event = iota

	// EventConnectRequest is receipt of the peer's handshake material.
	EventConnectRequest

	// EventActivationDue fires when the handshake activation delay
	// elapses.
	EventActivationDue

	// EventPeerDisconnect is a Disconnect flag from the peer.
	EventPeerDisconnect

	// EventLocalDisconnect is a user-triggered teardown.
	EventLocalDisconnect

	// EventFatal is a timeout, desync, or memory-cap violation.
	EventFatal
)

// String returns the human-readable name for the event.
func (e Event) String() string {
	switch e {
	case EventConnect:
		return "Connect"
	case EventConnectRequest:
		return "ConnectRequest"
	case EventActivationDue:
		return "ActivationDue"
	case EventPeerDisconnect:
		return "PeerDisconnect"
	case EventLocalDisconnect:
		return "LocalDisconnect"
	case EventFatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// Action is a side effect the loop must perform after a transition.
type Action uint8

const (
	// ActionSendLogin emits the login request, sequence 0, unmasked.
	ActionSendLogin Action = iota + 1

	// ActionArmCrypto initializes both keystreams from the handshake
	// seeds and schedules the activation timer.
	ActionArmCrypto

	// ActionSendConnectResponse emits the cookie echo, sequence 1,
	// unmasked, to the activation endpoint.
	ActionSendConnectResponse

	// ActionNotifyConnected emits the Connected session event.
	ActionNotifyConnected

	// ActionSendDisconnect emits a Disconnect-flagged packet.
	ActionSendDisconnect

	// ActionTeardown cancels timers and drains every table.
	ActionTeardown
)

// stateEvent is the transition table key.
type stateEvent struct {
	state State
	event Event
}

// transition describes the target state and side effects.
type transition struct {
	newState State
	actions  []Action
}

// Result holds the outcome of applying an event.
type Result struct {
	OldState State
	NewState State
	Actions  []Action
	Changed  bool
}

// fsmTable is the complete lifecycle transition table. Unlisted pairs
// are ignored: a duplicate connect request in ConnectReceived, a stray
// activation timer after teardown, and so on.
var fsmTable = map[stateEvent]transition{
	{StateUnconfigured, EventConnect}: {
		newState: StateLoginSent,
		actions:  []Action{ActionSendLogin},
	},

	{StateLoginSent, EventConnectRequest}: {
		newState: StateConnectReceived,
		actions:  []Action{ActionArmCrypto},
	},
	{StateLoginSent, EventPeerDisconnect}: {
		newState: StateDead,
		actions:  []Action{ActionTeardown},
	},
	{StateLoginSent, EventFatal}: {
		newState: StateDead,
		actions:  []Action{ActionTeardown},
	},
	{StateLoginSent, EventLocalDisconnect}: {
		newState: StateDead,
		actions:  []Action{ActionSendDisconnect, ActionTeardown},
	},

	{StateConnectReceived, EventActivationDue}: {
		newState: StateAuthenticated,
		actions:  []Action{ActionSendConnectResponse, ActionNotifyConnected},
	},
	{StateConnectReceived, EventPeerDisconnect}: {
		newState: StateDead,
		actions:  []Action{ActionTeardown},
	},
	{StateConnectReceived, EventFatal}: {
		newState: StateDead,
		actions:  []Action{ActionTeardown},
	},
	{StateConnectReceived, EventLocalDisconnect}: {
		newState: StateDead,
		actions:  []Action{ActionSendDisconnect, ActionTeardown},
	},

	{StateAuthenticated, EventPeerDisconnect}: {
		newState: StateDead,
		actions:  []Action{ActionTeardown},
	},
	{StateAuthenticated, EventFatal}: {
		newState: StateDead,
		actions:  []Action{ActionTeardown},
	},
	{StateAuthenticated, EventLocalDisconnect}: {
		newState: StateDisconnecting,
		actions:  []Action{ActionSendDisconnect},
	},

	{StateDisconnecting, EventFatal}: {
		newState: StateDead,
		actions:  []Action{ActionTeardown},
	},
	{StateDisconnecting, EventPeerDisconnect}: {
		newState: StateDead,
		actions:  []Action{ActionTeardown},
	},
	{StateDisconnecting, EventLocalDisconnect}: {
		newState: StateDead,
		actions:  []Action{ActionTeardown},
	},
}

// Apply applies an event to a state and returns the result. Pure
// function; the caller executes the actions. Unlisted pairs return the
// state unchanged with no actions.
func Apply(current State, event Event) Result {
	tr, ok := fsmTable[stateEvent{state: current, event: event}]
	if !ok {
		return Result{OldState: current, NewState: current}
	}
	return Result{
		OldState: current,
		NewState: tr.newState,
		Actions:  tr.actions,
		Changed:  current != tr.newState,
	}
}
