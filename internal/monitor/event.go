package monitor

import "time"

// EventKind classifies an engine event.
type EventKind string

const (
	EventStageStart EventKind = "stage_start"
	EventStageEnd   EventKind = "stage_end"
	EventJobResult  EventKind = "job_result"
	EventStuckJob   EventKind = "stuck_job"
)

// Event is what the merge engine reports for every stage transition and job
// outcome. ErrorCode is empty on success.
type Event struct {
	Kind           EventKind
	MergeSessionID string
	JobID          string
	Stage          string
	Attempt        int
	Duration       time.Duration
	ErrorCode      string
	Retryable      bool
	At             time.Time
}

// Failed reports whether the event carries an error.
func (e Event) Failed() bool {
	return e.ErrorCode != ""
}
