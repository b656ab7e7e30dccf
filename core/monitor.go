package core

import (
	"context"
	"errors"

	"pkt.systems/scrollback/internal/logx"
	"pkt.systems/scrollback/schema"
)

// PatternMonitor watches a session for new output matching a pattern. It
// drives a forward SearchTask on every history append and reports each match
// exactly once.
type PatternMonitor struct {
	task     *SearchTask
	registry *Registry
	session  schema.SessionID
}

// NewPatternMonitor builds a monitor for one session. Options other than
// Direction are taken from opts.
func NewPatternMonitor(sessionID schema.SessionID, opts SearchOptions) (*PatternMonitor, error) {
	opts.Direction = schema.Forwards
	task := NewSearchTask(opts)
	if _, err := task.Compile(); err != nil {
		return nil, err
	}
	if err := task.AddSession(sessionID); err != nil {
		return nil, err
	}
	return &PatternMonitor{task: task, registry: opts.Registry, session: sessionID}, nil
}

// Task returns the underlying search task.
func (m *PatternMonitor) Task() *SearchTask {
	return m.task
}

// OnMatch registers an observer for matches.
func (m *PatternMonitor) OnMatch(fn func(schema.MatchResult)) {
	m.task.OnMatch(fn)
}

// Run reports matches already in the history and then follows new output
// until ctx is canceled or the session goes away.
func (m *PatternMonitor) Run(ctx context.Context) error {
	sess, ok := m.registry.Lookup(m.session)
	if !ok {
		return schema.ErrSessionNotFound
	}
	log := logx.WithSession(ctx, m.session)
	updates, unsubscribe := sess.History().Subscribe()
	defer unsubscribe()
	log.Info("pattern monitor start", "pattern", m.task.Pattern())
	defer log.Info("pattern monitor stop")

	for {
		if err := m.drain(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-updates:
		}
	}
}

func (m *PatternMonitor) drain(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		_, found, err := m.task.Next(ctx)
		if err != nil {
			if errors.Is(err, schema.ErrDanglingSession) {
				return nil
			}
			return err
		}
		if !found {
			return nil
		}
	}
}
