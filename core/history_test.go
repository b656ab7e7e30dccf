package core

import "testing"

func TestPatternHistorySkipsBlankAndRepeats(t *testing.T) {
	h := newPatternHistory(2)
	if h.Append("  ") {
		t.Fatalf("expected blank entry ignored")
	}
	h.Append("one")
	if h.Append("one") {
		t.Fatalf("expected consecutive duplicate ignored")
	}
	h.Append("two")
	h.Append("three")
	got := h.Entries()
	if len(got) != 2 || got[0] != "two" || got[1] != "three" {
		t.Fatalf("unexpected entries %v", got)
	}
}
