package report

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"pkt.systems/scrollback/core"
	"pkt.systems/scrollback/schema"
)

func TestParseStyle(t *testing.T) {
	if style, err := ParseStyle("", StylePlain); err != nil || style != StylePlain {
		t.Fatalf("expected fallback, got %q %v", style, err)
	}
	if style, err := ParseStyle("JSON", StyleTable); err != nil || style != StyleJSONL {
		t.Fatalf("expected jsonl, got %q %v", style, err)
	}
	if _, err := ParseStyle("xml", StyleTable); err == nil {
		t.Fatalf("expected unsupported style error")
	}
}

func TestNewMatchRowStripsEscapes(t *testing.T) {
	buf := core.NewBuffer()
	buf.Append("plain", "\x1b[31mError\x1b[0m: x")
	row := NewMatchRow(buf, schema.MatchResult{SessionID: "s1", StartLine: 1, StartColumn: 0, EndColumn: 5})
	if row.Text != "Error: x" {
		t.Fatalf("unexpected text %q", row.Text)
	}
	missing := NewMatchRow(buf, schema.MatchResult{StartLine: 9})
	if missing.Text != "" {
		t.Fatalf("expected empty text for missing line, got %q", missing.Text)
	}
}

func TestWriteMatchesPlain(t *testing.T) {
	var out bytes.Buffer
	rows := []MatchRow{{Line: 2, StartColumn: 0, EndColumn: 5, Text: "Error: x"}}
	if err := WriteMatches(&out, rows, StylePlain); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := out.String(); got != "3:1-5\tError: x\n" {
		t.Fatalf("unexpected plain output %q", got)
	}
}

func TestWriteMatchesJSONL(t *testing.T) {
	var out bytes.Buffer
	rows := []MatchRow{{SessionID: "s1", Line: 1, EndColumn: 2, Text: "a"}, {SessionID: "s1", Line: 4, Text: "b"}}
	if err := WriteMatches(&out, rows, StyleJSONL); err != nil {
		t.Fatalf("write: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 json lines, got %d", len(lines))
	}
	var decoded MatchRow
	if err := json.Unmarshal([]byte(lines[1]), &decoded); err != nil || decoded.Line != 4 || decoded.Text != "b" {
		t.Fatalf("unexpected decoded row %+v %v", decoded, err)
	}
}

func TestWriteSessionsTable(t *testing.T) {
	reg := core.NewRegistry(schema.ServiceConfig{}, nil)
	sess := reg.Create("build log")
	sess.History().Append("one", "two")

	var out bytes.Buffer
	if err := WriteSessions(&out, SessionRows(reg), StyleTable); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "build log") || !strings.Contains(got, string(sess.ID())) {
		t.Fatalf("table missing session: %s", got)
	}

	out.Reset()
	if err := WriteSessions(&out, nil, StyleTable); err != nil {
		t.Fatalf("write empty: %v", err)
	}
	if !strings.Contains(out.String(), "(no sessions)") {
		t.Fatalf("expected empty placeholder, got %s", out.String())
	}
}

func TestCollectMatchesWalksBothDirections(t *testing.T) {
	reg := core.NewRegistry(schema.ServiceConfig{}, nil)
	sess := reg.Create("app")
	sess.History().Append("Error: a", "ok", "Error: b", "Error: c")
	controller, err := core.NewController(reg, sess.ID(), core.ControllerDeps{})
	if err != nil {
		t.Fatalf("controller: %v", err)
	}

	rows, err := CollectMatches(context.Background(), controller, sess.History(), core.SearchQuery{Pattern: "error"}, 0)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(rows) != 3 || rows[0].Line != 0 || rows[2].Line != 3 {
		t.Fatalf("unexpected forward rows %+v", rows)
	}

	rows, err = CollectMatches(context.Background(), controller, sess.History(), core.SearchQuery{Pattern: "error", Direction: schema.Backwards}, 2)
	if err != nil {
		t.Fatalf("collect backwards: %v", err)
	}
	if len(rows) != 2 || rows[0].Line != 3 || rows[1].Line != 2 {
		t.Fatalf("unexpected backward rows %+v", rows)
	}
}
