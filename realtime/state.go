package realtime

import "fmt"

// State is the lifecycle state of a channel connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is a point-in-time snapshot of a Client.
type Status struct {
	Channel       string `json:"channel"`
	State         State  `json:"-"`
	StateName     string `json:"state"`
	Attempt       int    `json:"attempt"`
	MaxAttempts   int    `json:"max_attempts"`
	Exhausted     bool   `json:"exhausted"`
	LastCloseCode int    `json:"last_close_code,omitempty"`
	ParseErrors   uint64 `json:"parse_errors"`
	Listeners     int    `json:"listeners"`
}
