package sink

import (
	"context"
	"io"
	"sync"

	"pkt.systems/scrollback/core"
	"pkt.systems/scrollback/schema"
)

// WriterOpener streams exports to a shared writer such as stdout or an SSH
// channel. Jobs sharing the writer are serialized so their output does not
// interleave.
type WriterOpener struct {
	mu sync.Mutex
	w  io.Writer
}

var _ core.SinkOpener = (*WriterOpener)(nil)

// NewWriterOpener wraps w.
func NewWriterOpener(w io.Writer) *WriterOpener {
	return &WriterOpener{w: w}
}

// Open implements core.SinkOpener.
func (o *WriterOpener) Open(context.Context, schema.Destination) (core.Sink, error) {
	return newPumpSink("writer", transferFunc(func(_ context.Context, src *Reader) error {
		o.mu.Lock()
		defer o.mu.Unlock()
		_, err := io.Copy(o.w, src)
		return err
	})), nil
}
