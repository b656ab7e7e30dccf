package core

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"pkt.systems/scrollback/schema"
)

// HistoryBuffer is the line-addressed, append-only history a task reads.
// Line indices are absolute and never renumbered; LineCount only decreases
// when the history is cleared, which also bumps Generation. Lines below
// FirstLine are no longer retained.
type HistoryBuffer interface {
	LineCount() int
	FirstLine() int
	Generation() uint64
	Line(index int) (string, error)
	Decode(w io.Writer, start, end int, dec Decoder) error
}

// Buffer stores terminal output lines. Lines may carry SGR escape sequences;
// decoders decide how to render them.
type Buffer struct {
	mu       sync.RWMutex
	lines    []string
	first    int
	count    int
	pending  []byte
	mode     schema.HistoryMode
	maxLines int
	gen      uint64
	subs     map[chan struct{}]struct{}
}

var _ HistoryBuffer = (*Buffer)(nil)

// NewBuffer returns an unlimited history buffer.
func NewBuffer() *Buffer {
	return &Buffer{mode: schema.HistoryUnlimited, subs: make(map[chan struct{}]struct{})}
}

// NewBufferWithMode returns a buffer using the given retention mode.
func NewBufferWithMode(mode schema.HistoryMode, maxLines int) *Buffer {
	b := NewBuffer()
	b.SetMode(mode, maxLines)
	return b
}

// SetMode changes the retention mode. Shrinking a fixed history drops the
// oldest retained lines; their indices stay reserved.
func (b *Buffer) SetMode(mode schema.HistoryMode, maxLines int) {
	b.mu.Lock()
	switch mode {
	case schema.HistoryFixed:
		if maxLines <= 0 {
			maxLines = 1000
		}
		b.mode = mode
		b.maxLines = maxLines
	case schema.HistoryNone:
		b.mode = mode
		b.maxLines = 0
	default:
		b.mode = schema.HistoryUnlimited
		b.maxLines = 0
	}
	b.trimLocked()
	b.mu.Unlock()
}

// Mode returns the retention mode and the fixed line limit.
func (b *Buffer) Mode() (schema.HistoryMode, int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.mode, b.maxLines
}

// Append adds complete lines to the history.
func (b *Buffer) Append(lines ...string) {
	if len(lines) == 0 {
		return
	}
	b.mu.Lock()
	for _, line := range lines {
		b.appendLocked(strings.TrimSuffix(line, "\r"))
	}
	b.mu.Unlock()
	b.notify()
}

// Write appends raw output. Only newline-terminated lines become visible;
// an unterminated tail waits for more output or Flush.
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	added := false
	b.mu.Lock()
	data := p
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			b.pending = append(b.pending, data...)
			break
		}
		line := append(b.pending, data[:idx]...)
		b.pending = nil
		b.appendLocked(strings.TrimSuffix(string(line), "\r"))
		added = true
		data = data[idx+1:]
	}
	b.mu.Unlock()
	if added {
		b.notify()
	}
	return len(p), nil
}

// Flush commits a pending unterminated line.
func (b *Buffer) Flush() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	line := strings.TrimSuffix(string(b.pending), "\r")
	b.pending = nil
	b.appendLocked(line)
	b.mu.Unlock()
	b.notify()
}

// Clear drops every line and starts a new generation.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.lines = nil
	b.first = 0
	b.count = 0
	b.pending = nil
	b.gen++
	b.mu.Unlock()
	b.notify()
}

// LineCount returns the number of complete lines ever appended since the last Clear.
func (b *Buffer) LineCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Generation changes every time the history is cleared.
func (b *Buffer) Generation() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.gen
}

// FirstLine returns the index of the oldest retained line. It equals
// LineCount when nothing is retained.
func (b *Buffer) FirstLine() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.first
}

// Line returns the raw content of one line.
func (b *Buffer) Line(index int) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if index < 0 || index >= b.count {
		return "", fmt.Errorf("%w: %d of %d", schema.ErrLineOutOfRange, index, b.count)
	}
	if index < b.first {
		return "", fmt.Errorf("%w: %d", schema.ErrLineTrimmed, index)
	}
	return b.lines[index-b.first], nil
}

// Decode renders lines [start, end] through dec, separated by dec.Separator().
// No separator follows the last line.
func (b *Buffer) Decode(w io.Writer, start, end int, dec Decoder) error {
	if dec == nil {
		return errors.New("decoder is required")
	}
	lines, err := b.slice(start, end)
	if err != nil {
		return err
	}
	sep := dec.Separator()
	for i, line := range lines {
		if i > 0 && sep != "" {
			if _, err := io.WriteString(w, sep); err != nil {
				return err
			}
		}
		if err := dec.DecodeLine(w, line); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe returns a channel signalled after lines are appended or the
// history is cleared. Signals coalesce.
func (b *Buffer) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
		})
	}
}

func (b *Buffer) slice(start, end int) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if start < 0 || end < start || end >= b.count {
		return nil, fmt.Errorf("%w: [%d,%d] of %d", schema.ErrLineOutOfRange, start, end, b.count)
	}
	if start < b.first {
		return nil, fmt.Errorf("%w: %d", schema.ErrLineTrimmed, start)
	}
	out := make([]string, end-start+1)
	copy(out, b.lines[start-b.first:end-b.first+1])
	return out, nil
}

func (b *Buffer) appendLocked(line string) {
	b.count++
	if b.mode == schema.HistoryNone {
		b.first = b.count
		return
	}
	b.lines = append(b.lines, line)
	b.trimLocked()
}

func (b *Buffer) trimLocked() {
	switch b.mode {
	case schema.HistoryNone:
		b.lines = nil
		b.first = b.count
	case schema.HistoryFixed:
		if len(b.lines) > b.maxLines {
			trim := len(b.lines) - b.maxLines
			b.lines = b.lines[trim:]
			b.first += trim
		}
	}
}

func (b *Buffer) notify() {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
