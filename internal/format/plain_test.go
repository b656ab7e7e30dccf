package format

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"pkt.systems/scrollback/core"
	"pkt.systems/scrollback/schema"
)

func TestPlainDecoderStripsEscapesAndTrailingBlanks(t *testing.T) {
	var out bytes.Buffer
	dec := NewPlainDecoder()
	if err := dec.DecodeLine(&out, "\x1b[1;31mfail\x1b[0m   "); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.String() != "fail" {
		t.Fatalf("unexpected plain output %q", out.String())
	}
}

func TestPlainDecoderThroughBuffer(t *testing.T) {
	b := core.NewBuffer()
	b.Append("\x1b]0;title\x07one", "two  ")
	var out bytes.Buffer
	if err := b.Decode(&out, 0, 1, NewPlainDecoder()); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.String() != "one\ntwo" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestHTMLDecoderSpansAndEscaping(t *testing.T) {
	var out bytes.Buffer
	dec := NewHTMLDecoder()
	if err := dec.DecodeLine(&out, "a<b \x1b[1;31mred\x1b[0m & done"); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := `a&lt;b <span style="color:#b21818;font-weight:bold">red</span> &amp; done`
	if out.String() != want {
		t.Fatalf("expected %q, got %q", want, out.String())
	}
}

func TestHTMLDecoderCarriesStyleAcrossLines(t *testing.T) {
	var out bytes.Buffer
	dec := NewHTMLDecoder()
	_ = dec.DecodeLine(&out, "\x1b[38;5;196mhot")
	out.WriteString("|")
	_ = dec.DecodeLine(&out, "still")
	got := out.String()
	if strings.Count(got, "<span") != 2 || strings.Count(got, "</span>") != 2 {
		t.Fatalf("expected a span per line, got %q", got)
	}
	if !strings.Contains(got, "color:#ff0000") {
		t.Fatalf("expected 256-color red, got %q", got)
	}
	_ = dec.Close()
	out.Reset()
	_ = dec.DecodeLine(&out, "plain")
	if out.String() != "plain" {
		t.Fatalf("expected reset after close, got %q", out.String())
	}
}

func TestHTMLDecoderTrueColorAndReverse(t *testing.T) {
	var out bytes.Buffer
	dec := NewHTMLDecoder()
	_ = dec.DecodeLine(&out, "\x1b[48;2;1;2;3;7mx")
	if !strings.Contains(out.String(), "color:#010203") || !strings.Contains(out.String(), "background-color:#000000") {
		t.Fatalf("unexpected reverse rendition %q", out.String())
	}
}

func TestHTMLDecoderColonColorsAndSubParameters(t *testing.T) {
	var out bytes.Buffer
	dec := NewHTMLDecoder()
	_ = dec.DecodeLine(&out, "\x1b[38:2::1:2:3;4:3mx")
	want := `<span style="color:#010203;text-decoration:underline">x</span>`
	if out.String() != want {
		t.Fatalf("unexpected colon rendition %q want %q", out.String(), want)
	}
}

func TestHTMLDecoderDropsNonSGRSequences(t *testing.T) {
	var out bytes.Buffer
	dec := NewHTMLDecoder()
	_ = dec.DecodeLine(&out, "\x1b]0;title\x07a\x1b[?7mb\x1b[2Kc\x1b(Bd")
	if out.String() != "abcd" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestHTMLDocumentFraming(t *testing.T) {
	var out bytes.Buffer
	dec := NewHTMLDecoder()
	dec.Title = "a&b"
	_ = dec.Begin(&out)
	_ = dec.End(&out)
	got := out.String()
	if !strings.HasPrefix(got, "<!DOCTYPE html>") || !strings.Contains(got, "<title>a&amp;b</title>") {
		t.Fatalf("unexpected prologue %q", got)
	}
	if !strings.HasSuffix(got, "</html>\n") {
		t.Fatalf("unexpected epilogue %q", got)
	}
}

func TestNewDecoderRejectsUnknownFormat(t *testing.T) {
	if _, err := NewDecoder("pdf"); !errors.Is(err, schema.ErrInvalidDestination) {
		t.Fatalf("expected invalid destination, got %v", err)
	}
	dec, err := Factory.NewDecoder(schema.FormatHTML)
	if err != nil || dec.Format() != schema.FormatHTML {
		t.Fatalf("expected html decoder, got %v (%v)", dec, err)
	}
}
