package auction

// Status represents a lifecycle state of a single auction instance.
type Status string

const (
	// StatusPending indicates that the engine exists but no auction has started.
	StatusPending Status = "pending"
	// StatusActive indicates that the lot is escrowed and the price is decaying.
	StatusActive Status = "active"
	// StatusSettled indicates that a purchase completed; this state is terminal.
	StatusSettled Status = "settled"
)

// validTransitions contains the permitted lifecycle transitions. Settled is a
// one-way latch with no outgoing edges.
var validTransitions = map[Status][]Status{
	StatusPending: {
		StatusActive,
	},
	StatusActive: {
		StatusSettled,
	},
}

// IsTransitionAllowed reports whether moving from one status to another is valid.
func IsTransitionAllowed(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}

	for _, status := range allowed {
		if status == to {
			return true
		}
	}

	return false
}

var transitionRecorder = func(from, to string) {}

// RegisterTransitionRecorder allows external packages to observe lifecycle transitions.
func RegisterTransitionRecorder(recorder func(from, to string)) {
	if recorder == nil {
		transitionRecorder = func(string, string) {}
		return
	}

	transitionRecorder = recorder
}
