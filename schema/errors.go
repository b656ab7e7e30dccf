package schema

import "errors"

var (
	// ErrSessionNotFound indicates a session id does not resolve to a live session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrDanglingSession indicates a session went away while a job referenced it.
	ErrDanglingSession = errors.New("session no longer exists")
	// ErrInvalidDestination indicates an unusable export destination.
	ErrInvalidDestination = errors.New("invalid destination")
	// ErrTransferFailure wraps sink failures for a single export job.
	ErrTransferFailure = errors.New("transfer failed")
	// ErrHistoryShrunk indicates the history was cleared during an export.
	ErrHistoryShrunk = errors.New("history shrank during export")
	// ErrJobCanceled indicates an export job was canceled by the caller.
	ErrJobCanceled = errors.New("export job canceled")
	// ErrJobNotFound indicates a sink addressed an unknown job.
	ErrJobNotFound = errors.New("export job not found")
	// ErrPullInFlight indicates overlapping data requests for one job.
	ErrPullInFlight = errors.New("data request already in flight")
	// ErrTaskDisposed indicates use of a task after auto-deletion.
	ErrTaskDisposed = errors.New("task disposed")
	// ErrTaskExecuted indicates a one-shot task was executed twice.
	ErrTaskExecuted = errors.New("task already executed")
	// ErrSearchSessions indicates a search task without exactly one session.
	ErrSearchSessions = errors.New("search requires exactly one session")
	// ErrEmptyPattern marks a search with nothing to look for. It is a no-op, not a failure.
	ErrEmptyPattern = errors.New("empty pattern")
	// ErrInvalidPattern indicates a regular expression that does not compile.
	ErrInvalidPattern = errors.New("invalid pattern")
	// ErrLineOutOfRange indicates a history read outside the buffer.
	ErrLineOutOfRange = errors.New("line out of range")
	// ErrLineTrimmed indicates a history read of a line dropped by a fixed-size history.
	ErrLineTrimmed = errors.New("line no longer retained")
)
