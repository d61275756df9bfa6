package session

import "fmt"

type State int

const (
	Empty State = iota
	Ready
	Running
	Done
	Error
)

var stateNames = [...]string{
	Empty:   "empty",
	Ready:   "ready",
	Running: "running",
	Done:    "done",
	Error:   "error",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
