package remotesink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/scrollback/core"
	"pkt.systems/scrollback/internal/format"
	"pkt.systems/scrollback/internal/sink"
	"pkt.systems/scrollback/schema"
)

func startTestServer(t *testing.T, cfg Config) (string, func()) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := NewServer(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ctx, listener)
	}()
	return listener.Addr().String(), func() {
		cancel()
		<-errCh
	}
}

func exportTo(t *testing.T, url string, lines int) []error {
	t.Helper()
	reg := core.NewRegistry(schema.ServiceConfig{}, nil)
	sess := reg.Create("remote")
	for i := 0; i < lines; i++ {
		sess.History().Append(fmt.Sprintf("remote line %d", i))
	}
	mux := sink.NewMux(nil, nil)
	mux.Handle("grpc", NewOpener())
	reporter := &reportCapture{}
	task := core.NewExportTask(core.ExportOptions{
		Registry:   reg,
		Chooser:    core.StaticDestination(schema.Destination{URL: url}),
		Opener:     mux,
		Decoders:   format.Factory,
		Reporter:   reporter,
		ChunkLines: 64,
	})
	if err := task.AddSession(sess.ID()); err != nil {
		t.Fatalf("add session: %v", err)
	}
	if err := task.Execute(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	select {
	case <-task.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out waiting for upload")
	}
	return reporter.all()
}

func TestCollectorStoresUpload(t *testing.T) {
	dir := t.TempDir()
	addr, cleanup := startTestServer(t, Config{OutputDir: dir})
	defer cleanup()

	if errs := exportTo(t, "grpc://"+addr+"/hosts/web1.txt", 5000); len(errs) != 0 {
		t.Fatalf("unexpected failures: %v", errs)
	}
	data, err := os.ReadFile(filepath.Join(dir, "hosts", "web1.txt"))
	if err != nil {
		t.Fatalf("read upload: %v", err)
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) != 5000 || lines[4999] != "remote line 4999" {
		t.Fatalf("unexpected upload with %d lines", len(lines))
	}
}

func TestCollectorRejectsEscapingName(t *testing.T) {
	dir := t.TempDir()
	addr, cleanup := startTestServer(t, Config{OutputDir: dir})
	defer cleanup()

	errs := exportTo(t, "grpc://"+addr+"/../escape.txt", 3)
	if len(errs) != 1 || !errors.Is(errs[0], schema.ErrTransferFailure) {
		t.Fatalf("expected transfer failure, got %v", errs)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dir), "escape.txt")); err == nil {
		t.Fatalf("upload escaped the output dir")
	}
}

func TestParseURL(t *testing.T) {
	target, name, err := ParseURL("grpc://collector:7443/a/b.txt")
	if err != nil || target != "collector:7443" || name != "a/b.txt" {
		t.Fatalf("unexpected parse %q %q %v", target, name, err)
	}
	for _, bad := range []string{"grpc://collector:7443", "http://x/y", "grpc:///name"} {
		if _, _, err := ParseURL(bad); !errors.Is(err, schema.ErrInvalidDestination) {
			t.Fatalf("expected %q rejected, got %v", bad, err)
		}
	}
}

type reportCapture struct {
	mu   sync.Mutex
	errs []error
}

func (r *reportCapture) ReportError(_ context.Context, _ schema.SessionID, err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *reportCapture) all() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}
