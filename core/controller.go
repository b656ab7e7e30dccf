package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"pkt.systems/scrollback/internal/logx"
	"pkt.systems/scrollback/schema"
)

// SearchQuery describes one interactive search.
type SearchQuery struct {
	Pattern   string
	Direction schema.Direction
	MatchCase bool
	RegExp    bool
}

// Controller wires user commands for one session to tasks: saving history,
// searching it, clearing it and toggling the activity monitors.
type Controller struct {
	registry  *Registry
	sessionID schema.SessionID
	cfg       schema.ServiceConfig
	deps      ControllerDeps

	mu       sync.Mutex
	search   *SearchTask
	patterns *patternHistory
}

// NewController binds a controller to a live session.
func NewController(registry *Registry, sessionID schema.SessionID, deps ControllerDeps) (*Controller, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	if _, ok := registry.Lookup(sessionID); !ok {
		return nil, fmt.Errorf("%w: %s", schema.ErrSessionNotFound, sessionID)
	}
	if deps.Tasks == nil {
		deps.Tasks = NewTaskSet()
	}
	cfg := registry.Config()
	return &Controller{
		registry:  registry,
		sessionID: sessionID,
		cfg:       cfg,
		deps:      deps,
		patterns:  newPatternHistory(cfg.PatternHistory),
	}, nil
}

// SessionID returns the controlled session id.
func (c *Controller) SessionID() schema.SessionID {
	return c.sessionID
}

// Tasks returns the set tracking this controller's live tasks.
func (c *Controller) Tasks() *TaskSet {
	return c.deps.Tasks
}

// SaveHistory exports the session history to the destination picked by
// chooser. The task deletes itself once every job finished.
func (c *Controller) SaveHistory(ctx context.Context, chooser DestinationChooser) (*ExportTask, error) {
	task := NewExportTask(ExportOptions{
		Registry:      c.registry,
		Chooser:       chooser,
		Opener:        c.deps.Opener,
		Decoders:      c.deps.Decoders,
		Events:        c.deps.EventSink,
		Reporter:      c.deps.Reporter,
		ChunkLines:    c.cfg.ChunkLines,
		DefaultFormat: c.cfg.DefaultFormat,
	})
	if err := task.AddSession(c.sessionID); err != nil {
		return nil, err
	}
	task.SetAutoDelete(true)
	c.deps.Tasks.Add(task)
	if err := task.Execute(ctx); err != nil {
		return nil, err
	}
	return task, nil
}

// SearchHistory starts a new search and returns its first match.
func (c *Controller) SearchHistory(ctx context.Context, query SearchQuery) (schema.MatchResult, bool, error) {
	task := NewSearchTask(SearchOptions{
		Registry:  c.registry,
		Events:    c.deps.EventSink,
		Pattern:   query.Pattern,
		Direction: query.Direction,
		MatchCase: query.MatchCase,
		RegExp:    query.RegExp,
	})
	if err := task.AddSession(c.sessionID); err != nil {
		return schema.MatchResult{}, false, err
	}
	if _, err := task.Compile(); err != nil {
		logx.WithSession(ctx, c.sessionID).Info("search pattern rejected", "pattern", query.Pattern, "err", err)
		return schema.MatchResult{}, false, err
	}

	var (
		result schema.MatchResult
		found  bool
	)
	task.OnMatch(func(match schema.MatchResult) {
		result = match
		found = true
	})
	c.mu.Lock()
	c.search = task
	c.patterns.Append(query.Pattern)
	c.mu.Unlock()
	if err := task.Execute(ctx); err != nil {
		return schema.MatchResult{}, false, err
	}
	return result, found, nil
}

// FindNextInHistory continues the current search towards the end.
func (c *Controller) FindNextInHistory(ctx context.Context) (schema.MatchResult, bool, error) {
	return c.findInHistory(ctx, schema.Forwards)
}

// FindPreviousInHistory continues the current search towards the start.
func (c *Controller) FindPreviousInHistory(ctx context.Context) (schema.MatchResult, bool, error) {
	return c.findInHistory(ctx, schema.Backwards)
}

func (c *Controller) findInHistory(ctx context.Context, direction schema.Direction) (schema.MatchResult, bool, error) {
	c.mu.Lock()
	task := c.search
	c.mu.Unlock()
	if task == nil {
		return schema.MatchResult{}, false, schema.ErrEmptyPattern
	}
	task.SetDirection(direction)
	return task.Next(ctx)
}

// RecentPatterns returns remembered search patterns, newest last.
func (c *Controller) RecentPatterns() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.patterns.Entries()
}

// RestorePatterns seeds the remembered patterns, oldest first, typically from
// a previous run.
func (c *Controller) RestorePatterns(patterns []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, pattern := range patterns {
		c.patterns.Append(pattern)
	}
}

// ClearHistory drops the session history. Running exports of this session
// fail and the current search starts over.
func (c *Controller) ClearHistory(ctx context.Context) error {
	sess, ok := c.registry.Lookup(c.sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", schema.ErrSessionNotFound, c.sessionID)
	}
	sess.History().Clear()
	c.mu.Lock()
	if c.search != nil {
		c.search.ResetCursor()
	}
	c.mu.Unlock()
	logx.WithSession(ctx, c.sessionID).Info("session history cleared")
	return nil
}

// MonitorActivity toggles activity monitoring for the session.
func (c *Controller) MonitorActivity(enable bool) error {
	sess, ok := c.registry.Lookup(c.sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", schema.ErrSessionNotFound, c.sessionID)
	}
	sess.SetMonitorActivity(enable)
	return nil
}

// MonitorSilence toggles silence monitoring for the session.
func (c *Controller) MonitorSilence(enable bool) error {
	sess, ok := c.registry.Lookup(c.sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", schema.ErrSessionNotFound, c.sessionID)
	}
	sess.SetMonitorSilence(enable)
	return nil
}
