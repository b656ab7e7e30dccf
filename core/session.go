package core

import (
	"sync"
	"time"

	"pkt.systems/scrollback/schema"
)

// Session is the core's view of a terminal session: an id, a title, a history
// buffer and the activity/silence monitor flags. Process and display handling
// live elsewhere.
type Session struct {
	id      schema.SessionID
	history *Buffer
	sink    EventSink
	silence time.Duration

	mu              sync.Mutex
	title           string
	monitorActivity bool
	monitorSilence  bool
	state           schema.SessionState
	silenceTimer    *time.Timer
	closed          bool
}

func newSession(id schema.SessionID, title string, cfg schema.ServiceConfig, sink EventSink) *Session {
	return &Session{
		id:      id,
		title:   title,
		history: NewBufferWithMode(cfg.HistoryMode, cfg.HistoryMax),
		sink:    sinkOrNop(sink),
		silence: cfg.SilenceTimeout,
		state:   schema.SessionNormal,
	}
}

// ID returns the session id.
func (s *Session) ID() schema.SessionID {
	return s.id
}

// Title returns the session title.
func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

// SetTitle updates the session title.
func (s *Session) SetTitle(title string) {
	s.mu.Lock()
	s.title = title
	s.mu.Unlock()
}

// Info returns the read-only description handed to collaborators.
func (s *Session) Info() schema.SessionInfo {
	return schema.SessionInfo{ID: s.id, Title: s.Title()}
}

// History returns the session's history buffer.
func (s *Session) History() *Buffer {
	return s.history
}

// Write feeds terminal output into the history and the activity monitor.
func (s *Session) Write(p []byte) (int, error) {
	n, err := s.history.Write(p)
	if n > 0 {
		s.noteOutput()
	}
	return n, err
}

// State returns the current monitor state.
func (s *Session) State() schema.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// MonitorActivity reports whether activity monitoring is on.
func (s *Session) MonitorActivity() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.monitorActivity
}

// MonitorSilence reports whether silence monitoring is on.
func (s *Session) MonitorSilence() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.monitorSilence
}

// SetMonitorActivity toggles activity monitoring.
func (s *Session) SetMonitorActivity(enable bool) {
	s.mu.Lock()
	s.monitorActivity = enable
	var changed bool
	if !enable && s.state == schema.SessionActivity {
		changed = s.setStateLocked(schema.SessionNormal)
	}
	s.mu.Unlock()
	if changed {
		s.emitState(schema.SessionNormal)
	}
}

// SetMonitorSilence toggles silence monitoring. Enabling arms the silence timer.
func (s *Session) SetMonitorSilence(enable bool) {
	s.mu.Lock()
	s.monitorSilence = enable
	var changed bool
	if enable {
		s.armSilenceLocked()
	} else {
		s.stopSilenceLocked()
		if s.state == schema.SessionSilence {
			changed = s.setStateLocked(schema.SessionNormal)
		}
	}
	s.mu.Unlock()
	if changed {
		s.emitState(schema.SessionNormal)
	}
}

// ResetState returns the session to the normal state, e.g. after the user looked at it.
func (s *Session) ResetState() {
	s.mu.Lock()
	changed := s.setStateLocked(schema.SessionNormal)
	s.mu.Unlock()
	if changed {
		s.emitState(schema.SessionNormal)
	}
}

func (s *Session) close() {
	s.mu.Lock()
	s.closed = true
	s.stopSilenceLocked()
	s.mu.Unlock()
}

func (s *Session) noteOutput() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	var changed bool
	if s.monitorActivity {
		changed = s.setStateLocked(schema.SessionActivity)
	} else if s.state == schema.SessionSilence {
		changed = s.setStateLocked(schema.SessionNormal)
	}
	state := s.state
	if s.monitorSilence {
		s.armSilenceLocked()
	}
	s.mu.Unlock()
	if changed {
		s.emitState(state)
	}
}

func (s *Session) armSilenceLocked() {
	s.stopSilenceLocked()
	if s.closed || s.silence <= 0 {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(s.silence, func() { s.onSilence(timer) })
	s.silenceTimer = timer
}

func (s *Session) stopSilenceLocked() {
	if s.silenceTimer != nil {
		s.silenceTimer.Stop()
		s.silenceTimer = nil
	}
}

func (s *Session) onSilence(timer *time.Timer) {
	s.mu.Lock()
	if s.closed || !s.monitorSilence || s.silenceTimer != timer {
		s.mu.Unlock()
		return
	}
	s.silenceTimer = nil
	changed := s.setStateLocked(schema.SessionSilence)
	s.mu.Unlock()
	if changed {
		s.emitState(schema.SessionSilence)
	}
}

func (s *Session) setStateLocked(state schema.SessionState) bool {
	if s.state == state {
		return false
	}
	s.state = state
	return true
}

func (s *Session) emitState(state schema.SessionState) {
	s.sink.OnSessionState(schema.SessionStateEvent{SessionID: s.id, State: state, At: time.Now()})
}
