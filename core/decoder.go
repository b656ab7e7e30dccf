package core

import (
	"io"

	"pkt.systems/scrollback/schema"
)

// Decoder renders raw history lines for one output format.
type Decoder interface {
	Format() schema.Format
	// Begin writes whatever precedes the first line (document prologue).
	Begin(w io.Writer) error
	// DecodeLine renders one raw line without a trailing separator.
	DecodeLine(w io.Writer, line string) error
	// Separator is written between consecutive lines.
	Separator() string
	// End writes whatever follows the last line (document epilogue).
	End(w io.Writer) error
}

// DecoderFactory creates a fresh decoder per export job.
type DecoderFactory interface {
	NewDecoder(format schema.Format) (Decoder, error)
}

// DecoderFactoryFunc adapts a function to DecoderFactory.
type DecoderFactoryFunc func(format schema.Format) (Decoder, error)

// NewDecoder implements DecoderFactory.
func (f DecoderFactoryFunc) NewDecoder(format schema.Format) (Decoder, error) {
	return f(format)
}

func releaseDecoder(dec Decoder) {
	if closer, ok := dec.(io.Closer); ok {
		_ = closer.Close()
	}
}
