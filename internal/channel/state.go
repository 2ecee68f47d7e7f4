package channel

import "time"

// State is the transport state of a Session.
type State int32

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateReconnecting
)

var allStates = []State{StateClosed, StateConnecting, StateOpen, StateReconnecting}

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "closed"
	}
}

// StateChange is the status event published on every transition.
type StateChange struct {
	Namespace string
	From      State
	To        State
	// Attempt is the reconnect attempt number (1-based) while reconnecting or
	// right after a successful reconnect; 0 otherwise.
	Attempt int
	Err     error
	At      time.Time
}
