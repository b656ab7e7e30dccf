package scrollback

import (
	"pkt.systems/scrollback/core"
	"pkt.systems/scrollback/schema"
)

type eventFanout struct {
	sinks []core.EventSink
}

func (f eventFanout) OnTaskEvent(event schema.TaskEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnTaskEvent(event)
	}
}

func (f eventFanout) OnMatch(event schema.MatchEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnMatch(event)
	}
}

func (f eventFanout) OnSessionState(event schema.SessionStateEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnSessionState(event)
	}
}
