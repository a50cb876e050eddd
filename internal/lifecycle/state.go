package lifecycle

// State is a step of a run.
type State int

const (
	StateCreated State = iota
	StateMaterialized
	StateAgentRan
	StateExported
	StateReconciled
	StateTornDown
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateMaterialized:
		return "materialized"
	case StateAgentRan:
		return "agent-ran"
	case StateExported:
		return "exported"
	case StateReconciled:
		return "reconciled"
	case StateTornDown:
		return "torn-down"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateTornDown || s == StateFailed
}
