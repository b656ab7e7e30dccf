package sink

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"pkt.systems/scrollback/core"
	"pkt.systems/scrollback/schema"
)

// Mux routes destinations to openers by URL scheme. Destinations without a
// scheme (or with file://) go to the file opener; "-" goes to the stdout
// opener.
type Mux struct {
	mu      sync.RWMutex
	files   core.SinkOpener
	stdout  core.SinkOpener
	schemes map[string]core.SinkOpener
}

var _ core.SinkOpener = (*Mux)(nil)

// NewMux constructs a mux. Either opener may be nil to disable it.
func NewMux(files, stdout core.SinkOpener) *Mux {
	return &Mux{files: files, stdout: stdout, schemes: make(map[string]core.SinkOpener)}
}

// Handle registers an opener for a URL scheme such as "gs" or "grpc".
func (m *Mux) Handle(scheme string, opener core.SinkOpener) {
	m.mu.Lock()
	m.schemes[strings.ToLower(scheme)] = opener
	m.mu.Unlock()
}

// Open implements core.SinkOpener.
func (m *Mux) Open(ctx context.Context, dest schema.Destination) (core.Sink, error) {
	raw := strings.TrimSpace(dest.URL)
	if raw == "-" {
		if m.stdout == nil {
			return nil, fmt.Errorf("%w: stdout not available", schema.ErrInvalidDestination)
		}
		return m.stdout.Open(ctx, dest)
	}
	scheme := Scheme(raw)
	if scheme == "" || scheme == "file" {
		if m.files == nil {
			return nil, fmt.Errorf("%w: file export disabled", schema.ErrInvalidDestination)
		}
		return m.files.Open(ctx, dest)
	}
	m.mu.RLock()
	opener := m.schemes[scheme]
	m.mu.RUnlock()
	if opener == nil {
		return nil, fmt.Errorf("%w: unsupported scheme %q", schema.ErrInvalidDestination, scheme)
	}
	return opener.Open(ctx, dest)
}

// Scheme returns the lower-cased URL scheme of raw, or "" for plain paths.
func Scheme(raw string) string {
	idx := strings.Index(raw, "://")
	if idx <= 0 {
		return ""
	}
	scheme := strings.ToLower(raw[:idx])
	for _, r := range scheme {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.') {
			return ""
		}
	}
	return scheme
}
