package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-runewidth"

	"pkt.systems/scrollback/internal/logx"
	"pkt.systems/scrollback/schema"
)

// SearchOptions configures a SearchTask.
type SearchOptions struct {
	Registry  *Registry
	Events    EventSink
	Pattern   string
	Direction schema.Direction
	MatchCase bool
	RegExp    bool
}

// SearchTask finds pattern matches in the history of exactly one session,
// resuming from a remembered cursor on every Execute.
//
// Matches are single-line and located in the escape-stripped text. The
// cursor remembers the span of the last match. Forwards returns the first
// match starting at or after the span end; Backwards returns the last match
// starting before the span start, so switching direction never repeats the
// current match. There is no wraparound: a miss leaves the cursor where it was.
type SearchTask struct {
	taskBase

	searchMu  sync.Mutex
	pattern   string
	direction schema.Direction
	matchCase bool
	regExp    bool
	re        *regexp.Regexp
	cursor    searchCursor
	gen       uint64
	matchFns  []func(schema.MatchResult)
}

type searchCursor struct {
	set  bool
	line int
	// start and end are byte offsets of the last match in the
	// escape-stripped line. end is past an empty match.
	start int
	end   int
}

var _ Task = (*SearchTask)(nil)

// NewSearchTask constructs a search task.
func NewSearchTask(opts SearchOptions) *SearchTask {
	return &SearchTask{
		taskBase:  newTaskBase(schema.TaskSearch, opts.Registry, opts.Events),
		pattern:   opts.Pattern,
		direction: opts.Direction,
		matchCase: opts.MatchCase,
		regExp:    opts.RegExp,
	}
}

// SetPattern replaces the pattern. The cursor is kept.
func (t *SearchTask) SetPattern(pattern string) {
	t.searchMu.Lock()
	if pattern != t.pattern {
		t.pattern = pattern
		t.re = nil
	}
	t.searchMu.Unlock()
}

// Pattern returns the configured pattern.
func (t *SearchTask) Pattern() string {
	t.searchMu.Lock()
	defer t.searchMu.Unlock()
	return t.pattern
}

// SetDirection changes the search direction. The cursor is kept.
func (t *SearchTask) SetDirection(direction schema.Direction) {
	t.searchMu.Lock()
	t.direction = direction
	t.searchMu.Unlock()
}

// Direction returns the search direction.
func (t *SearchTask) Direction() schema.Direction {
	t.searchMu.Lock()
	defer t.searchMu.Unlock()
	return t.direction
}

// SetMatchCase toggles case sensitive matching.
func (t *SearchTask) SetMatchCase(enable bool) {
	t.searchMu.Lock()
	if enable != t.matchCase {
		t.matchCase = enable
		t.re = nil
	}
	t.searchMu.Unlock()
}

// SetRegExp toggles regular expression matching. When off the pattern is
// matched literally.
func (t *SearchTask) SetRegExp(enable bool) {
	t.searchMu.Lock()
	if enable != t.regExp {
		t.regExp = enable
		t.re = nil
	}
	t.searchMu.Unlock()
}

// Compile validates the current pattern settings.
func (t *SearchTask) Compile() (*regexp.Regexp, error) {
	t.searchMu.Lock()
	defer t.searchMu.Unlock()
	return t.compileLocked()
}

func (t *SearchTask) compileLocked() (*regexp.Regexp, error) {
	if t.re != nil {
		return t.re, nil
	}
	re, err := CompilePattern(t.pattern, t.matchCase, t.regExp)
	if err != nil {
		return nil, err
	}
	t.re = re
	return re, nil
}

// CompilePattern builds the matcher for a pattern: literal or regular
// expression, case sensitive or not.
func CompilePattern(pattern string, matchCase, regExp bool) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, schema.ErrEmptyPattern
	}
	expr := pattern
	if !regExp {
		expr = regexp.QuoteMeta(pattern)
	}
	if !matchCase {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", schema.ErrInvalidPattern, err)
	}
	return re, nil
}

// OnMatch registers an observer for match results.
func (t *SearchTask) OnMatch(fn func(schema.MatchResult)) {
	if fn == nil {
		return
	}
	t.searchMu.Lock()
	t.matchFns = append(t.matchFns, fn)
	t.searchMu.Unlock()
}

// Cursor returns the start of the last match in terminal cells. ok is false
// before the first search.
func (t *SearchTask) Cursor() (pos schema.Position, ok bool) {
	t.searchMu.Lock()
	cursor := t.cursor
	t.searchMu.Unlock()
	if !cursor.set {
		return schema.Position{}, false
	}
	pos = schema.Position{Line: cursor.line}
	sess, err := t.searchSession()
	if err != nil {
		return pos, true
	}
	if raw, err := sess.History().Line(cursor.line); err == nil {
		text := ansi.Strip(raw)
		pos.Column = runewidth.StringWidth(text[:min(cursor.start, len(text))])
	}
	return pos, true
}

// ResetCursor forgets the remembered position; the next search starts at the
// beginning (Forwards) or the end (Backwards) of the history.
func (t *SearchTask) ResetCursor() {
	t.searchMu.Lock()
	t.cursor = searchCursor{}
	t.searchMu.Unlock()
}

// Execute runs one search step and signals completion after the first run.
// An empty or invalid pattern and a vanished session are no-ops.
func (t *SearchTask) Execute(ctx context.Context) error {
	if t.Disposed() {
		return schema.ErrTaskDisposed
	}
	sessions := t.Sessions()
	if len(sessions) != 1 {
		return fmt.Errorf("%w: have %d", schema.ErrSearchSessions, len(sessions))
	}
	if _, _, err := t.Next(ctx); err != nil && !isSearchNoop(err) {
		return err
	}
	t.complete(sessions[0])
	return nil
}

// Next runs one search step and returns the match, if any. No-op conditions
// (empty or invalid pattern, vanished session) are returned as errors for
// callers that care; Execute swallows them.
func (t *SearchTask) Next(ctx context.Context) (schema.MatchResult, bool, error) {
	sessions := t.Sessions()
	if len(sessions) != 1 {
		return schema.MatchResult{}, false, fmt.Errorf("%w: have %d", schema.ErrSearchSessions, len(sessions))
	}
	sessionID := sessions[0]
	log := logx.WithSession(ctx, sessionID)
	sess, err := t.lookup(sessionID)
	if err != nil {
		log.Debug("search session missing", "err", err)
		return schema.MatchResult{}, false, err
	}

	t.searchMu.Lock()
	re, err := t.compileLocked()
	if err != nil {
		t.searchMu.Unlock()
		if errors.Is(err, schema.ErrInvalidPattern) {
			log.Warn("search pattern invalid", "pattern", t.Pattern(), "err", err)
		}
		return schema.MatchResult{}, false, err
	}
	hist := sess.History()
	if gen := hist.Generation(); gen != t.gen {
		t.gen = gen
		t.cursor = searchCursor{}
	}
	match, next, found := searchHistory(hist, re, t.direction, t.cursor)
	if found {
		t.cursor = next
	}
	direction := t.direction
	observers := append([]func(schema.MatchResult){}, t.matchFns...)
	t.searchMu.Unlock()

	if !found {
		log.Debug("search no match", "direction", direction)
		return schema.MatchResult{}, false, nil
	}
	match.SessionID = sessionID
	for _, fn := range observers {
		fn(match)
	}
	t.sink.OnMatch(schema.MatchEvent{TaskID: t.id, Match: match, At: time.Now()})
	return match, true, nil
}

func (t *SearchTask) searchSession() (*Session, error) {
	sessions := t.Sessions()
	if len(sessions) != 1 {
		return nil, schema.ErrSearchSessions
	}
	return t.lookup(sessions[0])
}

func isSearchNoop(err error) bool {
	return errors.Is(err, schema.ErrEmptyPattern) ||
		errors.Is(err, schema.ErrInvalidPattern) ||
		errors.Is(err, schema.ErrDanglingSession)
}

// searchHistory scans retained lines from cursor in direction. An unset
// cursor starts at the first line (Forwards) or past the last (Backwards).
func searchHistory(hist *Buffer, re *regexp.Regexp, direction schema.Direction, cursor searchCursor) (schema.MatchResult, searchCursor, bool) {
	n := hist.LineCount()
	first := hist.FirstLine()
	if !cursor.set {
		if direction == schema.Backwards {
			cursor = searchCursor{line: n}
		} else {
			cursor = searchCursor{line: first}
		}
	}

	if direction == schema.Backwards {
		for i := min(cursor.line, n-1); i >= first; i-- {
			raw, err := hist.Line(i)
			if err != nil {
				break
			}
			text := ansi.Strip(raw)
			limit := math.MaxInt
			if i == cursor.line {
				limit = cursor.start
			}
			var loc []int
			for _, candidate := range re.FindAllStringIndex(text, -1) {
				if candidate[0] >= limit {
					break
				}
				loc = candidate
			}
			if loc != nil {
				return matchAt(text, i, loc), cursorAt(text, i, loc), true
			}
		}
		return schema.MatchResult{}, cursor, false
	}

	for i := max(cursor.line, first); i < n; i++ {
		raw, err := hist.Line(i)
		if err != nil {
			continue
		}
		text := ansi.Strip(raw)
		start := 0
		if i == cursor.line {
			start = cursor.end
		}
		if start > len(text) {
			continue
		}
		if loc := findFrom(re, text, start); loc != nil {
			return matchAt(text, i, loc), cursorAt(text, i, loc), true
		}
	}
	return schema.MatchResult{}, cursor, false
}

// findFrom returns the first match starting at or after start. Matches are
// taken from the whole line so anchors keep their meaning; only when an
// earlier match straddles start is the rest of the line searched on its own.
func findFrom(re *regexp.Regexp, text string, start int) []int {
	straddled := false
	for _, loc := range re.FindAllStringIndex(text, -1) {
		if loc[0] >= start {
			return loc
		}
		if loc[1] > start {
			straddled = true
			break
		}
	}
	if !straddled {
		return nil
	}
	loc := re.FindStringIndex(text[start:])
	if loc == nil {
		return nil
	}
	return []int{loc[0] + start, loc[1] + start}
}

func cursorAt(text string, line int, loc []int) searchCursor {
	end := loc[1]
	if loc[0] == loc[1] {
		_, size := utf8.DecodeRuneInString(text[end:])
		end += max(size, 1)
	}
	return searchCursor{set: true, line: line, start: loc[0], end: end}
}

func matchAt(text string, line int, loc []int) schema.MatchResult {
	return schema.MatchResult{
		StartLine:   line,
		StartColumn: runewidth.StringWidth(text[:loc[0]]),
		EndLine:     line,
		EndColumn:   runewidth.StringWidth(text[:loc[1]]),
	}
}
