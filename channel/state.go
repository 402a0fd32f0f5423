package channel

import "fmt"

// State of a channel lifecycle.
//
// A channel starts STOPPED and only accepts messages while WAITING. The
// ERROR state marks a channel a fault took out of service; it stays there
// until explicitly restarted.
type State int32

const (
	Stopped State = iota
	Starting
	Waiting
	Stopping
	Error
)

var stateNames = [...]string{"STOPPED", "STARTING", "WAITING", "STOPPING", "ERROR"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int32(s))
	}
	return stateNames[s]
}

// ParseState converts a state name back to its State value.
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if n == name {
			return State(i), nil
		}
	}
	return Stopped, fmt.Errorf("unknown channel state %q", name)
}

// StateError reports an operation attempted in an incompatible lifecycle
// state, e.g. submitting a message to a stopped channel.
type StateError struct {
	Channel string
	State   State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("channel %s is %s", e.Channel, e.State)
}
