package generation

import (
	"time"
)

// State is one step of a generation job's lifecycle. Succeeded, Failed and
// TimedOut are terminal; no transition leaves them.
type State string

const (
	StateCreated   State = "CREATED"
	StateSubmitted State = "SUBMITTED"
	StatePolling   State = "POLLING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
	StateTimedOut  State = "TIMED_OUT"
)

// Terminal reports whether no further transition can occur.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateTimedOut:
		return true
	default:
		return false
	}
}

// Job tracks one asynchronous generation request from submission to a
// terminal state. It lives only for the duration of a single
// request/response cycle; nothing retains it once the workflow returns.
type Job struct {
	ID             string
	ProviderTaskID string
	State          State
	SubmittedAt    time.Time
	Deadline       time.Time
	Attempts       int
	Result         *Result
	Err            error
}

// Result is present only on a Succeeded job.
type Result struct {
	URL    string
	Data   []byte
	Width  int
	Height int
}
