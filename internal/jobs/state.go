package jobs

import "fmt"

// State is the position of one job in the ingestion pipeline.
type State string

const (
	StateReceived    State = "received"
	StateValidating  State = "validating"
	StateTranscoding State = "transcoding"
	StatePublishing  State = "publishing"
	StateReconciling State = "reconciling"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// Terminal reports whether s is done or failed.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// CanTransition enforces the pipeline graph. Every non-terminal state may fail.
func CanTransition(from, to State) bool {
	if to == StateFailed {
		return !from.Terminal()
	}
	switch from {
	case StateReceived:
		return to == StateValidating
	case StateValidating:
		return to == StateTranscoding
	case StateTranscoding:
		return to == StatePublishing
	case StatePublishing:
		return to == StateReconciling
	case StateReconciling:
		return to == StateDone
	default:
		return false
	}
}

// machine tracks one job's state. The steps are fixed in code, so an illegal
// transition is a programming error and panics; Process recovers it into a failure.
type machine struct {
	state State
}

func (m *machine) to(next State) {
	if !CanTransition(m.state, next) {
		panic(fmt.Sprintf("illegal job transition %s -> %s", m.state, next))
	}
	m.state = next
}
