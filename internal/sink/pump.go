package sink

import (
	"context"
	"io"

	"pkt.systems/pslog"
	"pkt.systems/scrollback/core"
	"pkt.systems/scrollback/schema"
)

// Reader adapts the pull protocol of one export job to an io.Reader. Each
// Read that finds its buffer empty requests the next chunk; an empty chunk
// ends the stream with io.EOF.
type Reader struct {
	ctx   context.Context
	jobID schema.JobID
	cb    core.SinkCallbacks
	buf   []byte
	eof   bool
	total int64
}

// NewReader returns a reader pulling chunks for jobID.
func NewReader(ctx context.Context, jobID schema.JobID, cb core.SinkCallbacks) *Reader {
	return &Reader{ctx: ctx, jobID: jobID, cb: cb}
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.eof {
			return 0, io.EOF
		}
		if err := r.ctx.Err(); err != nil {
			return 0, err
		}
		chunk, err := r.cb.DataRequested(r.ctx, r.jobID)
		if err != nil {
			return 0, err
		}
		if len(chunk) == 0 {
			r.eof = true
			continue
		}
		r.buf = chunk
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	r.total += int64(n)
	return n, nil
}

// Total returns the number of bytes handed out so far.
func (r *Reader) Total() int64 {
	return r.total
}

// transfer is the per-destination half of a sink: it consumes the pulled
// stream and either commits or discards what it wrote.
type transfer interface {
	Run(ctx context.Context, src *Reader) error
}

// transferFunc adapts a function to transfer.
type transferFunc func(ctx context.Context, src *Reader) error

func (f transferFunc) Run(ctx context.Context, src *Reader) error {
	return f(ctx, src)
}

// pumpSink runs a transfer on its own goroutine and reports the outcome once.
type pumpSink struct {
	name string
	xfer transfer
}

func newPumpSink(name string, xfer transfer) *pumpSink {
	return &pumpSink{name: name, xfer: xfer}
}

// Start implements core.Sink.
func (s *pumpSink) Start(ctx context.Context, jobID schema.JobID, cb core.SinkCallbacks) {
	go func() {
		log := pslog.Ctx(ctx).With("sink", s.name)
		src := NewReader(ctx, jobID, cb)
		err := s.xfer.Run(ctx, src)
		if err != nil {
			log.Debug("sink transfer failed", "bytes", src.Total(), "err", err)
		} else {
			log.Debug("sink transfer done", "bytes", src.Total())
		}
		cb.Result(jobID, err)
	}()
}

// NewFuncSink returns a sink that hands the pulled stream to fn on its own
// goroutine and reports fn's result.
func NewFuncSink(name string, fn func(ctx context.Context, src *Reader) error) core.Sink {
	return newPumpSink(name, transferFunc(fn))
}
