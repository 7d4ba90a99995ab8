package proposals

import "fmt"

// State is where a change set is in its life cycle.
type State string

const (
	StateProposed  State = "proposed"
	StateValidated State = "validated"
	StateCommitted State = "committed"
	StateRejected  State = "rejected"
)

var transitions = map[State][]State{
	StateProposed:  {StateValidated, StateRejected},
	StateValidated: {StateCommitted, StateRejected},
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateCommitted || s == StateRejected
}

// Transition returns next if moving from s to next is allowed.
func (s State) Transition(next State) (State, error) {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return next, nil
		}
	}
	return s, fmt.Errorf("cannot move change set from %s to %s", s, next)
}
