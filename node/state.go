package node

import (
	"errors"
	"fmt"
)

// State is a node's connection state.
type State int

const (
	StateInit State = iota
	StateIdle
	StateConnecting
	StateConnected
	StateDisconnecting
	StateLost
	StateUnreachable
	StateDead
)

var stateNames = [...]string{
	StateInit:          "Init",
	StateIdle:          "Idle",
	StateConnecting:    "Connecting",
	StateConnected:     "Connected",
	StateDisconnecting: "Disconnecting",
	StateLost:          "Lost",
	StateUnreachable:   "Unreachable",
	StateDead:          "Dead",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText renders the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Event drives state transitions.
type Event int

const (
	EventAdvertisement Event = iota
	EventConnect
	EventDiscoveryDone
	EventLinkFailure
	EventDisconnect
	EventTransportClosed
	EventAdvertisementTimeout
	EventForget
)

var eventNames = [...]string{
	EventAdvertisement:        "advertisement seen",
	EventConnect:              "connect requested",
	EventDiscoveryDone:        "discovery done",
	EventLinkFailure:          "link failure",
	EventDisconnect:           "disconnect requested",
	EventTransportClosed:      "transport closed",
	EventAdvertisementTimeout: "advertisement timeout",
	EventForget:               "forget requested",
}

func (e Event) String() string {
	if e >= 0 && int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

// ErrIllegalTransition is matched by every TransitionError.
var ErrIllegalTransition = errors.New("illegal state transition")

// TransitionError reports an event the current state does not accept.
type TransitionError struct {
	From  State
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: %s in state %s", ErrIllegalTransition, e.Event, e.From)
}

// Is makes errors.Is(err, ErrIllegalTransition) work for TransitionError.
func (e *TransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

var transitions = map[State]map[Event]State{
	StateInit: {
		EventAdvertisement: StateIdle,
	},
	StateIdle: {
		EventConnect:              StateConnecting,
		EventAdvertisementTimeout: StateLost,
	},
	StateConnecting: {
		EventDiscoveryDone: StateConnected,
		EventLinkFailure:   StateIdle,
	},
	StateConnected: {
		EventDisconnect:  StateDisconnecting,
		EventLinkFailure: StateUnreachable,
	},
	StateDisconnecting: {
		EventTransportClosed: StateIdle,
	},
	StateLost: {
		EventAdvertisement: StateIdle,
		EventForget:        StateDead,
	},
	StateUnreachable: {
		EventAdvertisement: StateIdle,
		EventForget:        StateDead,
	},
}

// Next returns the state reached from s on e.
func Next(s State, e Event) (State, error) {
	if to, ok := transitions[s][e]; ok {
		return to, nil
	}
	return s, &TransitionError{From: s, Event: e}
}
