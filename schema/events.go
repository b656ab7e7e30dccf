package schema

import "time"

// TaskEventType describes task lifecycle events.
type TaskEventType string

const (
	// TaskEventCompleted is emitted once when a task finishes.
	TaskEventCompleted TaskEventType = "completed"
	// TaskEventJobStarted is emitted when an export job is registered.
	TaskEventJobStarted TaskEventType = "job_started"
	// TaskEventJobFinished is emitted when an export job reaches a terminal result.
	TaskEventJobFinished TaskEventType = "job_finished"
)

// TaskEvent describes a task lifecycle change.
type TaskEvent struct {
	Type      TaskEventType
	TaskID    TaskID
	Kind      TaskKind
	SessionID SessionID
	JobID     JobID
	Err       error
	At        time.Time
}

// MatchEvent carries a search match.
type MatchEvent struct {
	TaskID TaskID
	Match  MatchResult
	At     time.Time
}

// SessionStateEvent carries an activity monitor state change.
type SessionStateEvent struct {
	SessionID SessionID
	State     SessionState
	At        time.Time
}

// ErrorEvent carries a human readable error for a session.
type ErrorEvent struct {
	SessionID SessionID
	Message   string
	At        time.Time
}
