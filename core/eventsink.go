package core

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/scrollback/schema"
)

// EventSink receives task, match and session state events from the core.
type EventSink interface {
	OnTaskEvent(event schema.TaskEvent)
	OnMatch(event schema.MatchEvent)
	OnSessionState(event schema.SessionStateEvent)
}

// ErrorReporter surfaces human readable failures for a session. Implementations
// must not block.
type ErrorReporter interface {
	ReportError(ctx context.Context, sessionID schema.SessionID, err error)
}

type nopEventSink struct{}

func (nopEventSink) OnTaskEvent(schema.TaskEvent)            {}
func (nopEventSink) OnMatch(schema.MatchEvent)               {}
func (nopEventSink) OnSessionState(schema.SessionStateEvent) {}

type logReporter struct{}

func (logReporter) ReportError(ctx context.Context, sessionID schema.SessionID, err error) {
	pslog.Ctx(ctx).Warn("session task error", "session", sessionID, "err", err)
}

func sinkOrNop(sink EventSink) EventSink {
	if sink == nil {
		return nopEventSink{}
	}
	return sink
}

func reporterOrLog(reporter ErrorReporter) ErrorReporter {
	if reporter == nil {
		return logReporter{}
	}
	return reporter
}
