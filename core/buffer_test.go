package core

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"pkt.systems/scrollback/schema"
)

func TestBufferWriteHoldsPendingLine(t *testing.T) {
	b := NewBuffer()
	_, _ = b.Write([]byte("one\r\ntwo\nthr"))
	if got := b.LineCount(); got != 2 {
		t.Fatalf("expected 2 lines, got %d", got)
	}
	_, _ = b.Write([]byte("ee\n"))
	line, err := b.Line(2)
	if err != nil {
		t.Fatalf("line: %v", err)
	}
	if line != "three" {
		t.Fatalf("expected joined pending line, got %q", line)
	}
	first, _ := b.Line(0)
	if first != "one" {
		t.Fatalf("expected carriage return dropped, got %q", first)
	}
	_, _ = b.Write([]byte("tail"))
	b.Flush()
	if got := b.LineCount(); got != 4 {
		t.Fatalf("expected flush to commit tail, got %d lines", got)
	}
}

func TestBufferFixedModeKeepsIndices(t *testing.T) {
	b := NewBufferWithMode(schema.HistoryFixed, 3)
	b.Append("one", "two", "three", "four", "five")
	if got := b.LineCount(); got != 5 {
		t.Fatalf("expected absolute count 5, got %d", got)
	}
	if _, err := b.Line(1); !errors.Is(err, schema.ErrLineTrimmed) {
		t.Fatalf("expected trimmed error, got %v", err)
	}
	line, err := b.Line(4)
	if err != nil || line != "five" {
		t.Fatalf("expected five, got %q (%v)", line, err)
	}
	if b.FirstLine() != 2 {
		t.Fatalf("expected first retained line 2, got %d", b.FirstLine())
	}
}

func TestBufferNoneModeCountsOnly(t *testing.T) {
	b := NewBufferWithMode(schema.HistoryNone, 0)
	b.Append("one", "two")
	if got := b.LineCount(); got != 2 {
		t.Fatalf("expected count 2, got %d", got)
	}
	if _, err := b.Line(0); !errors.Is(err, schema.ErrLineTrimmed) {
		t.Fatalf("expected trimmed error, got %v", err)
	}
}

func TestBufferClearBumpsGeneration(t *testing.T) {
	b := NewBuffer()
	b.Append("one")
	gen := b.Generation()
	b.Clear()
	if b.LineCount() != 0 {
		t.Fatalf("expected empty buffer after clear")
	}
	if b.Generation() == gen {
		t.Fatalf("expected generation change")
	}
}

func TestBufferDecodeSeparatesLines(t *testing.T) {
	b := NewBuffer()
	b.Append("a", "b", "c")
	var out bytes.Buffer
	if err := b.Decode(&out, 0, 2, &testDecoder{}); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.String() != "a\nb\nc" {
		t.Fatalf("unexpected decode output %q", out.String())
	}
	if err := b.Decode(&out, 2, 3, &testDecoder{}); !errors.Is(err, schema.ErrLineOutOfRange) {
		t.Fatalf("expected out of range, got %v", err)
	}
}

func TestBufferSubscribeSignalsAppend(t *testing.T) {
	b := NewBuffer()
	updates, cancel := b.Subscribe()
	defer cancel()
	b.Append("one")
	select {
	case <-updates:
	default:
		t.Fatalf("expected update signal")
	}
	cancel()
	b.Append("two")
	select {
	case <-updates:
		t.Fatalf("did not expect signal after unsubscribe")
	default:
	}
}

func fillBuffer(b *Buffer, n int) {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i)
	}
	b.Append(lines...)
}
