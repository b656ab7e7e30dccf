package eventbus

import (
	"context"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/scrollback/core"
	"pkt.systems/scrollback/schema"
)

// EventType identifies the event payload.
type EventType string

const (
	// EventTask carries task lifecycle updates.
	EventTask EventType = "task"
	// EventMatch carries search matches.
	EventMatch EventType = "match"
	// EventState carries activity monitor state changes.
	EventState EventType = "state"
	// EventError carries user-facing failures.
	EventError EventType = "error"
)

// Event represents a UI-facing event emitted by the task framework.
type Event struct {
	Type  EventType
	Task  schema.TaskEvent
	Match schema.MatchEvent
	State schema.SessionStateEvent
	Error schema.ErrorEvent
}

// SessionID returns the session the event belongs to.
func (e Event) SessionID() schema.SessionID {
	switch e.Type {
	case EventTask:
		return e.Task.SessionID
	case EventMatch:
		return e.Match.Match.SessionID
	case EventState:
		return e.State.SessionID
	case EventError:
		return e.Error.SessionID
	}
	return ""
}

// Bus fans events out to per-session subscribers.
type Bus struct {
	mu    sync.Mutex
	subs  map[schema.SessionID]map[chan Event]struct{}
	all   map[chan Event]struct{}
	log   pslog.Logger
	depth int
}

var (
	_ core.EventSink     = (*Bus)(nil)
	_ core.ErrorReporter = (*Bus)(nil)
)

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[schema.SessionID]map[chan Event]struct{}),
		all:   make(map[chan Event]struct{}),
		log:   logger,
		depth: 256,
	}
}

// Subscribe registers a subscriber for the session and returns a channel + cancel.
// An empty session ID subscribes to every session.
func (b *Bus) Subscribe(sessionID schema.SessionID) (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	count := 0
	if sessionID == "" {
		b.all[ch] = struct{}{}
		count = len(b.all)
	} else {
		sessionSubs := b.subs[sessionID]
		if sessionSubs == nil {
			sessionSubs = make(map[chan Event]struct{})
			b.subs[sessionID] = sessionSubs
		}
		sessionSubs[ch] = struct{}{}
		count = len(sessionSubs)
	}
	b.mu.Unlock()
	b.log.With("session", sessionID).Debug("eventbus subscribe", "subs", count)
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if sessionID == "" {
				delete(b.all, ch)
			} else if subs := b.subs[sessionID]; subs != nil {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(b.subs, sessionID)
				}
			}
			b.mu.Unlock()
			close(ch)
			b.log.With("session", sessionID).Debug("eventbus unsubscribe")
		})
	}
}

// OnTaskEvent publishes a task lifecycle event.
func (b *Bus) OnTaskEvent(event schema.TaskEvent) {
	b.publish(Event{Type: EventTask, Task: event})
}

// OnMatch publishes a search match.
func (b *Bus) OnMatch(event schema.MatchEvent) {
	b.publish(Event{Type: EventMatch, Match: event})
}

// OnSessionState publishes an activity monitor state change.
func (b *Bus) OnSessionState(event schema.SessionStateEvent) {
	b.publish(Event{Type: EventState, State: event})
}

// ReportError publishes a user-facing error. It never blocks.
func (b *Bus) ReportError(ctx context.Context, sessionID schema.SessionID, err error) {
	if b == nil || err == nil {
		return
	}
	pslog.Ctx(ctx).Warn("session error reported", "session", sessionID, "err", err)
	b.publish(Event{Type: EventError, Error: schema.ErrorEvent{
		SessionID: sessionID,
		Message:   err.Error(),
		At:        time.Now(),
	}})
}

func (b *Bus) publish(event Event) {
	if b == nil {
		return
	}
	sessionID := event.SessionID()
	b.mu.Lock()
	sessionSubs := b.subs[sessionID]
	subs := make([]chan Event, 0, len(sessionSubs)+len(b.all))
	for sub := range sessionSubs {
		subs = append(subs, sub)
	}
	for sub := range b.all {
		subs = append(subs, sub)
	}
	// Sends happen under the lock so a concurrent cancel cannot close a
	// channel mid-send; every send is non-blocking.
	dropped := 0
	for _, sub := range subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	b.mu.Unlock()
	if dropped > 0 {
		b.log.With("session", sessionID).Trace("eventbus dropped", "count", dropped)
	}
}
