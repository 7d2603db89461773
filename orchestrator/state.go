package orchestrator

import (
	"fmt"
	"time"
)

// State is a step of the ingestion state machine.
type State string

const (
	StateFetching          State = "FETCHING"
	StateHashing           State = "HASHING"
	StateDedupChecking     State = "DEDUP_CHECKING"
	StateNormalizing       State = "NORMALIZING"
	StateStoringRaw        State = "STORING_RAW"
	StateStoringNormalized State = "STORING_NORMALIZED"
	StateMarkingSeen       State = "MARKING_SEEN"
	StateDone              State = "DONE"
	StateFailed            State = "FAILED"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// Transition is one recorded state change of a job.
type Transition struct {
	State State
	At    time.Time
}

// JobError wraps the failure that moved a job to FAILED with the state it was in.
type JobError struct {
	State State
	Err   error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("ingestion failed in %s: %v", e.State, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

// tracker holds the state of one job. It is owned by a single goroutine.
type tracker struct {
	current State
	now     func() time.Time
	notify  func(Transition)
}

func newTracker(now func() time.Time, notify func(Transition)) *tracker {
	return &tracker{now: now, notify: notify}
}

func (t *tracker) enter(s State) {
	tr := Transition{State: s, At: t.now()}
	t.current = s
	if t.notify != nil {
		t.notify(tr)
	}
}

// fail moves the job to FAILED and returns the error tagged with the failing state.
func (t *tracker) fail(err error) *JobError {
	failed := t.current
	t.enter(StateFailed)
	return &JobError{State: failed, Err: err}
}
