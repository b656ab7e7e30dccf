package format

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/x/ansi"

	"pkt.systems/scrollback/core"
	"pkt.systems/scrollback/schema"
)

// PlainDecoder renders history lines as plain text: escape sequences are
// removed and trailing blanks trimmed.
type PlainDecoder struct {
	// KeepTrailingSpace disables trimming of trailing blanks.
	KeepTrailingSpace bool
}

var _ core.Decoder = (*PlainDecoder)(nil)

// NewPlainDecoder returns a default plain-text decoder.
func NewPlainDecoder() *PlainDecoder {
	return &PlainDecoder{}
}

// Format implements core.Decoder.
func (p *PlainDecoder) Format() schema.Format {
	return schema.FormatPlain
}

// Begin implements core.Decoder.
func (p *PlainDecoder) Begin(io.Writer) error {
	return nil
}

// DecodeLine implements core.Decoder.
func (p *PlainDecoder) DecodeLine(w io.Writer, line string) error {
	text := ansi.Strip(line)
	if !p.KeepTrailingSpace {
		text = strings.TrimRight(text, " \t")
	}
	_, err := io.WriteString(w, text)
	return err
}

// Separator implements core.Decoder.
func (p *PlainDecoder) Separator() string {
	return "\n"
}

// End implements core.Decoder.
func (p *PlainDecoder) End(io.Writer) error {
	return nil
}

// NewDecoder returns a fresh decoder for format.
func NewDecoder(format schema.Format) (core.Decoder, error) {
	switch format {
	case schema.FormatPlain, "":
		return NewPlainDecoder(), nil
	case schema.FormatHTML:
		return NewHTMLDecoder(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", schema.ErrInvalidDestination, format)
	}
}

// Factory creates decoders per export job.
var Factory core.DecoderFactory = core.DecoderFactoryFunc(NewDecoder)
