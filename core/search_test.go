package core

import (
	"context"
	"errors"
	"testing"

	"pkt.systems/scrollback/schema"
)

func newSearchFixture(t *testing.T, lines ...string) (*Registry, *Session) {
	t.Helper()
	reg := NewRegistry(schema.ServiceConfig{}, nil)
	sess := reg.Create("search")
	sess.History().Append(lines...)
	return reg, sess
}

func TestSearchTaskCaseInsensitiveLiteral(t *testing.T) {
	reg, sess := newSearchFixture(t, "ok", "Error: x", "done")
	task := NewSearchTask(SearchOptions{Registry: reg, Pattern: "error"})
	mustAdd(t, task, sess.ID())
	var matches []schema.MatchResult
	task.OnMatch(func(m schema.MatchResult) { matches = append(matches, m) })

	if err := task.Execute(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected one match, got %d", len(matches))
	}
	want := schema.MatchResult{SessionID: sess.ID(), StartLine: 1, StartColumn: 0, EndLine: 1, EndColumn: 5}
	if matches[0] != want {
		t.Fatalf("expected %+v, got %+v", want, matches[0])
	}
	cursor, _ := task.Cursor()

	if err := task.Execute(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected no further match, got %d", len(matches))
	}
	after, _ := task.Cursor()
	if after != cursor {
		t.Fatalf("expected cursor unchanged, got %+v want %+v", after, cursor)
	}
}

func TestSearchTaskMatchCase(t *testing.T) {
	reg, sess := newSearchFixture(t, "Error", "error")
	task := NewSearchTask(SearchOptions{Registry: reg, Pattern: "error", MatchCase: true})
	mustAdd(t, task, sess.ID())
	match, found, err := task.Next(context.Background())
	if err != nil || !found {
		t.Fatalf("expected match, got %v (%v)", found, err)
	}
	if match.StartLine != 1 {
		t.Fatalf("expected case sensitive match on line 1, got %+v", match)
	}
}

func TestSearchTaskForwardsWalksMatches(t *testing.T) {
	reg, sess := newSearchFixture(t, "a1 a2", "none", "a3")
	task := NewSearchTask(SearchOptions{Registry: reg, Pattern: `a\d`, RegExp: true})
	mustAdd(t, task, sess.ID())
	var got []schema.Position
	for {
		match, found, err := task.Next(context.Background())
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !found {
			break
		}
		got = append(got, match.Start())
	}
	want := []schema.Position{{Line: 0, Column: 0}, {Line: 0, Column: 3}, {Line: 2, Column: 0}}
	if len(got) != len(want) {
		t.Fatalf("expected %d matches, got %+v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("match %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestSearchTaskBackwardsStartsAtEnd(t *testing.T) {
	reg, sess := newSearchFixture(t, "x", "x x", "y")
	task := NewSearchTask(SearchOptions{Registry: reg, Pattern: "x", Direction: schema.Backwards})
	mustAdd(t, task, sess.ID())
	var got []schema.Position
	for {
		match, found, err := task.Next(context.Background())
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !found {
			break
		}
		got = append(got, match.Start())
	}
	want := []schema.Position{{Line: 1, Column: 2}, {Line: 1, Column: 0}, {Line: 0, Column: 0}}
	if len(got) != len(want) {
		t.Fatalf("expected %d matches, got %+v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("match %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestSearchTaskDirectionChangeKeepsPosition(t *testing.T) {
	reg, sess := newSearchFixture(t, "hit", "hit", "hit")
	task := NewSearchTask(SearchOptions{Registry: reg, Pattern: "hit"})
	mustAdd(t, task, sess.ID())
	for i := 0; i < 2; i++ {
		if _, found, _ := task.Next(context.Background()); !found {
			t.Fatalf("expected forward match %d", i)
		}
	}
	task.SetDirection(schema.Backwards)
	match, found, _ := task.Next(context.Background())
	if !found || match.StartLine != 0 {
		t.Fatalf("expected previous match on line 0, got %+v (%v)", match, found)
	}
	task.SetDirection(schema.Forwards)
	match, found, _ = task.Next(context.Background())
	if !found || match.StartLine != 1 {
		t.Fatalf("expected next match on line 1, got %+v (%v)", match, found)
	}
}

func TestSearchTaskFindPreviousMovesWithinLine(t *testing.T) {
	reg, sess := newSearchFixture(t, "foo one foo two")
	task := NewSearchTask(SearchOptions{Registry: reg, Pattern: "foo"})
	mustAdd(t, task, sess.ID())
	var cols []int
	for _, direction := range []schema.Direction{schema.Forwards, schema.Forwards, schema.Backwards, schema.Forwards} {
		task.SetDirection(direction)
		match, found, err := task.Next(context.Background())
		if err != nil || !found {
			t.Fatalf("expected match, got %v %v", found, err)
		}
		cols = append(cols, match.StartColumn)
	}
	want := []int{0, 8, 0, 8}
	for i := range want {
		if cols[i] != want[i] {
			t.Fatalf("expected columns %v, got %v", want, cols)
		}
	}
}

func TestSearchTaskPatternChangeFindsMatchAtCursor(t *testing.T) {
	reg, sess := newSearchFixture(t, "xabcab")
	task := NewSearchTask(SearchOptions{Registry: reg, Pattern: "x", RegExp: true})
	mustAdd(t, task, sess.ID())
	if _, found, _ := task.Next(context.Background()); !found {
		t.Fatalf("expected first match")
	}
	task.SetPattern("xab|ab")
	match, found, err := task.Next(context.Background())
	if err != nil || !found {
		t.Fatalf("expected match after pattern change, got %v %v", found, err)
	}
	if match.StartColumn != 1 || match.EndColumn != 3 {
		t.Fatalf("expected match at 1-3, got %+v", match)
	}
}

func TestSearchTaskAnchorsKeepLineMeaning(t *testing.T) {
	reg, sess := newSearchFixture(t, "ab ab")
	task := NewSearchTask(SearchOptions{Registry: reg, Pattern: "^ab", RegExp: true})
	mustAdd(t, task, sess.ID())
	if _, found, _ := task.Next(context.Background()); !found {
		t.Fatalf("expected anchored match")
	}
	if match, found, _ := task.Next(context.Background()); found {
		t.Fatalf("anchored pattern matched mid-line: %+v", match)
	}
}

func TestSearchTaskStripsEscapesAndCountsCells(t *testing.T) {
	reg, sess := newSearchFixture(t, "\x1b[31m日本\x1b[0m error")
	task := NewSearchTask(SearchOptions{Registry: reg, Pattern: "error"})
	mustAdd(t, task, sess.ID())
	match, found, err := task.Next(context.Background())
	if err != nil || !found {
		t.Fatalf("expected match, got %v (%v)", found, err)
	}
	if match.StartColumn != 5 || match.EndColumn != 10 {
		t.Fatalf("expected cell columns 5..10, got %d..%d", match.StartColumn, match.EndColumn)
	}
}

func TestSearchTaskEmptyPatternIsNoop(t *testing.T) {
	reg, sess := newSearchFixture(t, "anything")
	task := NewSearchTask(SearchOptions{Registry: reg})
	mustAdd(t, task, sess.ID())
	matched := false
	task.OnMatch(func(schema.MatchResult) { matched = true })
	if err := task.Execute(context.Background()); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	if matched {
		t.Fatalf("did not expect a match")
	}
	select {
	case <-task.Done():
	default:
		t.Fatalf("expected completion")
	}
}

func TestSearchTaskInvalidPattern(t *testing.T) {
	reg, sess := newSearchFixture(t, "anything")
	task := NewSearchTask(SearchOptions{Registry: reg, Pattern: "(", RegExp: true})
	mustAdd(t, task, sess.ID())
	if _, err := task.Compile(); !errors.Is(err, schema.ErrInvalidPattern) {
		t.Fatalf("expected invalid pattern, got %v", err)
	}
	if err := task.Execute(context.Background()); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

func TestSearchTaskRequiresOneSession(t *testing.T) {
	reg, sess := newSearchFixture(t, "x")
	task := NewSearchTask(SearchOptions{Registry: reg, Pattern: "x"})
	if err := task.Execute(context.Background()); !errors.Is(err, schema.ErrSearchSessions) {
		t.Fatalf("expected session count error, got %v", err)
	}
	mustAdd(t, task, sess.ID(), sess.ID())
	if err := task.Execute(context.Background()); !errors.Is(err, schema.ErrSearchSessions) {
		t.Fatalf("expected session count error, got %v", err)
	}
}

func TestSearchTaskDanglingSessionIsNoMatch(t *testing.T) {
	reg, sess := newSearchFixture(t, "x")
	task := NewSearchTask(SearchOptions{Registry: reg, Pattern: "x"})
	mustAdd(t, task, sess.ID())
	reg.Remove(sess.ID())
	if err := task.Execute(context.Background()); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	if _, found, err := task.Next(context.Background()); found || !errors.Is(err, schema.ErrDanglingSession) {
		t.Fatalf("expected dangling session, got %v (%v)", found, err)
	}
}

func TestSearchTaskEmptyMatchAdvances(t *testing.T) {
	reg, sess := newSearchFixture(t, "ab")
	task := NewSearchTask(SearchOptions{Registry: reg, Pattern: "x*", RegExp: true})
	mustAdd(t, task, sess.ID())
	var cols []int
	for i := 0; i < 5; i++ {
		match, found, _ := task.Next(context.Background())
		if !found {
			break
		}
		cols = append(cols, match.StartColumn)
	}
	if len(cols) != 3 || cols[0] != 0 || cols[1] != 1 || cols[2] != 2 {
		t.Fatalf("expected empty matches at 0,1,2, got %v", cols)
	}
}

func TestSearchTaskResetsAfterClear(t *testing.T) {
	reg, sess := newSearchFixture(t, "hit")
	task := NewSearchTask(SearchOptions{Registry: reg, Pattern: "hit"})
	mustAdd(t, task, sess.ID())
	if _, found, _ := task.Next(context.Background()); !found {
		t.Fatalf("expected first match")
	}
	sess.History().Clear()
	sess.History().Append("hit")
	match, found, _ := task.Next(context.Background())
	if !found || match.StartLine != 0 {
		t.Fatalf("expected match after clear, got %+v (%v)", match, found)
	}
}
