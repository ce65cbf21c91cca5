// Package resolve turns toponym mentions into coordinates. Each mention
// moves through a small state machine: gazetteers are queried in one or more
// rounds, candidates are merged and deduplicated, scored, and the best one is
// accepted if it clears the acceptance threshold.
package resolve

// State is a step of the per-mention state machine.
type State int

const (
	StatePending State = iota
	StateQuerying
	StateCandidatesCollected
	StateDisambiguating
	StateResolved
	StateUnresolved
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateQuerying:
		return "QUERYING"
	case StateCandidatesCollected:
		return "CANDIDATES_COLLECTED"
	case StateDisambiguating:
		return "DISAMBIGUATING"
	case StateResolved:
		return "RESOLVED"
	case StateUnresolved:
		return "UNRESOLVED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateResolved || s == StateUnresolved
}

// next lists the legal transitions.
var next = map[State][]State{
	StatePending:             {StateQuerying},
	StateQuerying:            {StateCandidatesCollected, StateUnresolved},
	StateCandidatesCollected: {StateDisambiguating, StateUnresolved},
	StateDisambiguating:      {StateResolved, StateUnresolved},
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to State) bool {
	for _, s := range next[from] {
		if s == to {
			return true
		}
	}
	return false
}
