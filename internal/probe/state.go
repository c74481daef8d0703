package probe

// State of the receive loop
type State int

const (
	StateWaiting   State = iota // waiting for the next frame
	StateReceived               // a frame arrived and is being inspected
	StateTimedOut               // terminal: no frame within the read timeout
	StateCompleted              // terminal: the completion marker arrived
	StateExhausted              // terminal: the frame limit was reached
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateReceived:
		return "received"
	case StateTimedOut:
		return "timed_out"
	case StateCompleted:
		return "completed"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Terminal reports whether the loop stops in s
func (s State) Terminal() bool {
	return s == StateTimedOut || s == StateCompleted || s == StateExhausted
}
