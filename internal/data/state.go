package data

import "fmt"

// State is the lifecycle position of a download task.
//
//	NotStarted -> Running -> {OK, Failed, Cancelled}
//	NotStarted -> Failed   (sink could not start)
type State int32

const (
	StateNotStarted State = iota
	StateRunning
	StateOK
	StateFailed
	StateCancelled
)

var stateNames = map[State]string{
	StateNotStarted: "NotStarted",
	StateRunning:    "Running",
	StateOK:         "OK",
	StateFailed:     "Failed",
	StateCancelled:  "Cancelled",
}

// transitions lists the legal edges out of each state.
var transitions = map[State]map[State]bool{
	StateNotStarted: {StateRunning: true, StateFailed: true},
	StateRunning:    {StateOK: true, StateFailed: true, StateCancelled: true},
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateOK || s == StateFailed || s == StateCancelled
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	return transitions[from][to]
}

// ParseState converts a state name back to a State.
func ParseState(s string) (State, error) {
	for st, n := range stateNames {
		if n == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrBadState, s)
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	st, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}
