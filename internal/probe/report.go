package probe

import (
	"time"

	"sandprobe/internal/metrics"
	"sandprobe/internal/protocol"
)

// Report is the outcome of one probe run
type Report struct {
	RunID     string
	URL       string
	State     State             // last state reached; terminal unless the run failed
	Trace     []State           // every state entered, in order
	Sent      []byte            // payload written, nil if the send never happened
	Received  int               // frames received
	Latencies []time.Duration   // per frame, time since the command was sent
	Result    *protocol.Inbound // the completion frame, if one arrived
	Duration  time.Duration
	Err       error
}

func (r *Report) transition(s State) {
	r.State = s
	r.Trace = append(r.Trace, s)
}

// Outcome is a single label for the run: the error kind for failed runs,
// otherwise the terminal state
func (r *Report) Outcome() string {
	if r.Err != nil {
		if kind, ok := KindOf(r.Err); ok {
			return kind.String()
		}
		return "error"
	}
	return r.State.String()
}

// Completed reports whether a result frame ended the run
func (r *Report) Completed() bool {
	return r.Err == nil && r.State == StateCompleted
}

// Succeeded reports whether the run completed with a successful result
func (r *Report) Succeeded() bool {
	return r.Completed() && r.Result != nil && r.Result.Succeeded()
}

func (r *Report) LatencySummary() metrics.LatencySummary {
	return metrics.Summarize(r.Latencies)
}
