package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"pkt.systems/scrollback/schema"
)

func newControllerFixture(t *testing.T, lines ...string) (*Controller, *Session, *manualOpener) {
	t.Helper()
	reg := NewRegistry(schema.ServiceConfig{PatternHistory: 3}, nil)
	sess := reg.Create("shell")
	sess.History().Append(lines...)
	opener := &manualOpener{}
	ctrl, err := NewController(reg, sess.ID(), ControllerDeps{
		Opener:   opener,
		Decoders: DecoderFactoryFunc(func(schema.Format) (Decoder, error) { return &testDecoder{}, nil }),
		Reporter: &captureReporter{},
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	return ctrl, sess, opener
}

func TestControllerSaveHistoryAutoDeletes(t *testing.T) {
	ctrl, _, opener := newControllerFixture(t, "one", "two")
	task, err := ctrl.SaveHistory(context.Background(), StaticDestination(schema.Destination{URL: "/tmp/out.txt"}))
	if err != nil {
		t.Fatalf("save history: %v", err)
	}
	if ctrl.Tasks().Len() != 1 {
		t.Fatalf("expected running task tracked")
	}
	sink := opener.all()[0]
	if out := sink.drain(t); out != "one\ntwo" {
		t.Fatalf("unexpected export %q", out)
	}
	sink.cb.Result(sink.jobID, nil)
	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatalf("expected completion")
	}
	if ctrl.Tasks().Len() != 0 {
		t.Fatalf("expected finished task removed")
	}
}

func TestControllerFindNextAndPrevious(t *testing.T) {
	ctrl, _, _ := newControllerFixture(t, "foo", "bar foo", "foo")
	match, found, err := ctrl.SearchHistory(context.Background(), SearchQuery{Pattern: "foo"})
	if err != nil || !found || match.StartLine != 0 {
		t.Fatalf("expected first match on line 0, got %+v %v %v", match, found, err)
	}
	match, found, _ = ctrl.FindNextInHistory(context.Background())
	if !found || match.StartLine != 1 || match.StartColumn != 4 {
		t.Fatalf("expected next match at 1:4, got %+v", match)
	}
	match, found, _ = ctrl.FindPreviousInHistory(context.Background())
	if !found || match.StartLine != 0 {
		t.Fatalf("expected previous match on line 0, got %+v", match)
	}
}

func TestControllerFindWithoutSearch(t *testing.T) {
	ctrl, _, _ := newControllerFixture(t, "foo")
	if _, _, err := ctrl.FindNextInHistory(context.Background()); !errors.Is(err, schema.ErrEmptyPattern) {
		t.Fatalf("expected empty pattern error, got %v", err)
	}
}

func TestControllerRecentPatternsBounded(t *testing.T) {
	ctrl, _, _ := newControllerFixture(t, "x")
	for _, pattern := range []string{"a", "b", "a", "c", "d"} {
		_, _, _ = ctrl.SearchHistory(context.Background(), SearchQuery{Pattern: pattern})
	}
	got := ctrl.RecentPatterns()
	want := []string{"a", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestControllerClearHistoryFailsRunningExport(t *testing.T) {
	ctrl, sess, opener := newControllerFixture(t, "one", "two")
	if _, err := ctrl.SaveHistory(context.Background(), StaticDestination(schema.Destination{URL: "/tmp/x"})); err != nil {
		t.Fatalf("save history: %v", err)
	}
	sink := opener.all()[0]
	if _, err := sink.cb.DataRequested(sink.ctx, sink.jobID); err != nil {
		t.Fatalf("first pull: %v", err)
	}
	if err := ctrl.ClearHistory(context.Background()); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if sess.History().LineCount() != 0 {
		t.Fatalf("expected history cleared")
	}
	if _, err := sink.cb.DataRequested(sink.ctx, sink.jobID); !errors.Is(err, schema.ErrHistoryShrunk) {
		t.Fatalf("expected shrink failure, got %v", err)
	}
}

func TestControllerMonitorToggles(t *testing.T) {
	ctrl, sess, _ := newControllerFixture(t)
	if err := ctrl.MonitorActivity(true); err != nil {
		t.Fatalf("monitor activity: %v", err)
	}
	if !sess.MonitorActivity() {
		t.Fatalf("expected activity monitoring on")
	}
	if err := ctrl.MonitorSilence(true); err != nil {
		t.Fatalf("monitor silence: %v", err)
	}
	if !sess.MonitorSilence() {
		t.Fatalf("expected silence monitoring on")
	}
	_ = ctrl.MonitorSilence(false)
}

func TestControllerRestorePatternsKeepsBound(t *testing.T) {
	ctrl, _, _ := newControllerFixture(t, "x")
	ctrl.RestorePatterns([]string{"a", "b", "c", "d"})
	if _, _, err := ctrl.SearchHistory(context.Background(), SearchQuery{Pattern: "b"}); err != nil {
		t.Fatalf("search: %v", err)
	}
	got := ctrl.RecentPatterns()
	if len(got) != 3 || got[0] != "c" || got[1] != "d" || got[2] != "b" {
		t.Fatalf("unexpected patterns %v", got)
	}
}
