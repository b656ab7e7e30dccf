package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"

	"pkt.systems/pslog"
	"pkt.systems/scrollback/core"
	"pkt.systems/scrollback/internal/appconfig"
	"pkt.systems/scrollback/internal/remotesink"
	"pkt.systems/scrollback/internal/sink"
	"pkt.systems/scrollback/schema"
)

// newSinkMux wires every destination scheme the config enables. The
// returned close func releases the cloud storage client.
func newSinkMux(ctx context.Context, cfg appconfig.Config, stdout io.Writer) (*sink.Mux, func(), error) {
	mux := sink.NewMux(
		sink.NewFileOpener(sink.FileOptions{
			Dir:       cfg.Export.OutputDir,
			Compress:  cfg.Export.Compress,
			Overwrite: cfg.Export.Overwrite,
		}),
		sink.NewWriterOpener(stdout),
	)
	httpOpener := sink.NewHTTPOpener(&http.Client{Timeout: 10 * time.Minute})
	mux.Handle("http", httpOpener)
	mux.Handle("https", httpOpener)
	mux.Handle("grpc", remotesink.NewOpener())

	closeFn := func() {}
	if cfg.GCS.Enabled {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create gcs client: %w", err)
		}
		mux.Handle("gs", sink.NewGCSOpener(client))
		closeFn = func() {
			if err := client.Close(); err != nil {
				pslog.Ctx(ctx).Warn("gcs client close failed", "err", err)
			}
		}
	}
	return mux, closeFn, nil
}

// loadSession reads a captured terminal log (optionally .zst) into a new
// session. "-" reads stdin.
func loadSession(registry *core.Registry, path string, stdin io.Reader) (*core.Session, error) {
	var (
		data  []byte
		err   error
		title = path
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
		title = "stdin"
	} else {
		data, err = sink.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	sess := registry.Create(title)
	if _, err := sess.Write(data); err != nil {
		return nil, err
	}
	sess.History().Flush()
	return sess, nil
}

// failureCounter records export failures reported by tasks.
type failureCounter struct {
	ch chan error
}

func newFailureCounter(n int) *failureCounter {
	return &failureCounter{ch: make(chan error, n)}
}

func (f *failureCounter) ReportError(ctx context.Context, sessionID schema.SessionID, err error) {
	pslog.Ctx(ctx).Error("export failed", "session", sessionID, "err", err)
	select {
	case f.ch <- err:
	default:
	}
}

func (f *failureCounter) count() int {
	return len(f.ch)
}
