package schema

import (
	"fmt"
	"strings"
)

// SessionID identifies a terminal session.
type SessionID string

// TaskID identifies a session task.
type TaskID string

// JobID identifies one export job inside an export task. Sinks address their
// callbacks with it.
type JobID string

// TaskKind enumerates the supported task kinds.
type TaskKind string

const (
	// TaskExport streams session history to sinks.
	TaskExport TaskKind = "export"
	// TaskSearch searches session history for a pattern.
	TaskSearch TaskKind = "search"
)

// Direction is the search direction.
type Direction int

const (
	// Forwards searches towards the end of the history.
	Forwards Direction = iota
	// Backwards searches towards the start of the history.
	Backwards
)

func (d Direction) String() string {
	switch d {
	case Forwards:
		return "forwards"
	case Backwards:
		return "backwards"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Format selects how exported history is decoded.
type Format string

const (
	// FormatPlain exports plain text with escape sequences removed.
	FormatPlain Format = "plain"
	// FormatHTML exports formatted text as an HTML document.
	FormatHTML Format = "html"
)

// ParseFormat normalizes a user supplied format name.
func ParseFormat(value string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "plain", "text", "txt", "text/plain":
		return FormatPlain, nil
	case "html", "htm", "text/html":
		return FormatHTML, nil
	default:
		return "", fmt.Errorf("unsupported format %q", value)
	}
}

// Extension returns the conventional file extension for the format.
func (f Format) Extension() string {
	if f == FormatHTML {
		return ".html"
	}
	return ".txt"
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	if f == FormatHTML {
		return "text/html; charset=utf-8"
	}
	return "text/plain; charset=utf-8"
}

// HistoryMode controls how much history a buffer retains.
type HistoryMode string

const (
	// HistoryUnlimited keeps every line.
	HistoryUnlimited HistoryMode = "unlimited"
	// HistoryFixed keeps the newest MaxLines lines.
	HistoryFixed HistoryMode = "fixed"
	// HistoryNone counts lines but keeps none of them.
	HistoryNone HistoryMode = "none"
)

// SessionState mirrors the activity monitor state of a session.
type SessionState string

const (
	// SessionNormal is the idle state.
	SessionNormal SessionState = "normal"
	// SessionActivity indicates output arrived while activity monitoring was on.
	SessionActivity SessionState = "activity"
	// SessionSilence indicates no output for the silence timeout.
	SessionSilence SessionState = "silence"
)

// Position addresses a cell in the history. Line is 0-based, Column counts
// terminal cells.
type Position struct {
	Line   int
	Column int
}

// MatchResult reports one search match. EndColumn is exclusive.
type MatchResult struct {
	SessionID   SessionID
	StartLine   int
	StartColumn int
	EndLine     int
	EndColumn   int
}

// Start returns the start position of the match.
func (m MatchResult) Start() Position {
	return Position{Line: m.StartLine, Column: m.StartColumn}
}

// End returns the (exclusive) end position of the match.
func (m MatchResult) End() Position {
	return Position{Line: m.EndLine, Column: m.EndColumn}
}

// Destination describes where an export job writes.
type Destination struct {
	URL    string
	Format Format
}

// SessionInfo is the read-only view of a session handed to collaborators.
type SessionInfo struct {
	ID    SessionID
	Title string
}

// JobStatus is a snapshot of one running export job.
type JobStatus struct {
	ID          JobID
	SessionID   SessionID
	Destination Destination
	// LastLine is the index of the last line handed to the sink, -1 before the first chunk.
	LastLine int
}
