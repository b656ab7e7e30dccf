package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/scrollback/core"
	"pkt.systems/scrollback/internal/format"
	"pkt.systems/scrollback/schema"
)

func runExport(t *testing.T, opener core.SinkOpener, dest schema.Destination, lines int) (*core.ExportTask, *reportCapture) {
	t.Helper()
	reg := core.NewRegistry(schema.ServiceConfig{ChunkLines: 100}, nil)
	sess := reg.Create("shell")
	for i := 0; i < lines; i++ {
		sess.History().Append(fmt.Sprintf("line %d", i))
	}
	reporter := &reportCapture{}
	task := core.NewExportTask(core.ExportOptions{
		Registry:   reg,
		Chooser:    core.StaticDestination(dest),
		Opener:     opener,
		Decoders:   format.Factory,
		Reporter:   reporter,
		ChunkLines: 100,
	})
	if err := task.AddSession(sess.ID()); err != nil {
		t.Fatalf("add session: %v", err)
	}
	if err := task.Execute(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for export")
	}
	return task, reporter
}

func expectedLines(n int) string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i)
	}
	return strings.Join(lines, "\n")
}

func TestFileSinkWritesAtomically(t *testing.T) {
	dir := t.TempDir()
	_, reporter := runExport(t, NewFileOpener(FileOptions{Dir: dir}), schema.Destination{URL: "out.txt"}, 250)
	if errs := reporter.all(); len(errs) != 0 {
		t.Fatalf("unexpected failures: %v", errs)
	}
	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if string(data) != expectedLines(250) {
		t.Fatalf("unexpected export content")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected no temp files left, got %d entries", len(entries))
	}
}

func TestFileSinkCompresses(t *testing.T) {
	dir := t.TempDir()
	runExport(t, NewFileOpener(FileOptions{Dir: dir, Compress: true}), schema.Destination{URL: "out.txt"}, 30)
	data, err := ReadFile(filepath.Join(dir, "out.txt.zst"))
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if string(data) != expectedLines(30) {
		t.Fatalf("unexpected decompressed content %q", data)
	}
}

func TestFileSinkRejectsExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taken.txt")
	if err := os.WriteFile(path, []byte("keep"), 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	_, err := NewFileOpener(FileOptions{}).Open(context.Background(), schema.Destination{URL: "file://" + path})
	if !errors.Is(err, schema.ErrInvalidDestination) {
		t.Fatalf("expected invalid destination, got %v", err)
	}
}

func TestFileSinkHTMLDocument(t *testing.T) {
	dir := t.TempDir()
	runExport(t, NewFileOpener(FileOptions{Dir: dir}), schema.Destination{URL: "out.html", Format: schema.FormatHTML}, 5)
	data, err := os.ReadFile(filepath.Join(dir, "out.html"))
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	text := string(data)
	if !strings.HasPrefix(text, "<!DOCTYPE html>") || !strings.HasSuffix(text, "</html>\n") {
		t.Fatalf("expected framed html document, got %q", text)
	}
	if !strings.Contains(text, "line 4</pre>") {
		t.Fatalf("expected last line before epilogue, got %q", text)
	}
}

func TestWriterSink(t *testing.T) {
	var out bytes.Buffer
	runExport(t, NewWriterOpener(&out), schema.Destination{URL: "-"}, 3)
	if out.String() != expectedLines(3) {
		t.Fatalf("unexpected writer output %q", out.String())
	}
}

func TestHTTPSinkUploads(t *testing.T) {
	var (
		mu          sync.Mutex
		body        []byte
		contentType string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		body = data
		contentType = r.Header.Get("Content-Type")
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	_, reporter := runExport(t, NewHTTPOpener(srv.Client()), schema.Destination{URL: srv.URL + "/upload"}, 120)
	if errs := reporter.all(); len(errs) != 0 {
		t.Fatalf("unexpected failures: %v", errs)
	}
	mu.Lock()
	defer mu.Unlock()
	if string(body) != expectedLines(120) {
		t.Fatalf("unexpected upload body")
	}
	if !strings.HasPrefix(contentType, "text/plain") {
		t.Fatalf("unexpected content type %q", contentType)
	}
}

func TestHTTPSinkReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, reporter := runExport(t, NewHTTPOpener(srv.Client()), schema.Destination{URL: srv.URL}, 3)
	errs := reporter.all()
	if len(errs) != 1 || !errors.Is(errs[0], schema.ErrTransferFailure) {
		t.Fatalf("expected transfer failure, got %v", errs)
	}
}

func TestMuxRoutesSchemes(t *testing.T) {
	var out bytes.Buffer
	mux := NewMux(NewFileOpener(FileOptions{Dir: t.TempDir()}), NewWriterOpener(&out))
	if _, err := mux.Open(context.Background(), schema.Destination{URL: "-"}); err != nil {
		t.Fatalf("stdout: %v", err)
	}
	if _, err := mux.Open(context.Background(), schema.Destination{URL: "ftp://host/x"}); !errors.Is(err, schema.ErrInvalidDestination) {
		t.Fatalf("expected unsupported scheme, got %v", err)
	}
	mux.Handle("http", NewHTTPOpener(nil))
	if _, err := mux.Open(context.Background(), schema.Destination{URL: "http://example.invalid/x"}); err != nil {
		t.Fatalf("http: %v", err)
	}
}

func TestSchemeDetection(t *testing.T) {
	cases := map[string]string{
		"/tmp/out.txt":          "",
		"out.txt":               "",
		"file:///tmp/x":         "file",
		"GS://bucket/obj":       "gs",
		"grpc://localhost:1/x":  "grpc",
		"weird path://not-this": "",
	}
	for input, want := range cases {
		if got := Scheme(input); got != want {
			t.Fatalf("Scheme(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestParseGCSURL(t *testing.T) {
	bucket, object, err := ParseGCSURL("gs://logs/2024/session.txt")
	if err != nil || bucket != "logs" || object != "2024/session.txt" {
		t.Fatalf("unexpected parse %q %q %v", bucket, object, err)
	}
	for _, bad := range []string{"gs://logs", "gs:///x", "s3://logs/x", "gs://logs/dir/"} {
		if _, _, err := ParseGCSURL(bad); !errors.Is(err, schema.ErrInvalidDestination) {
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
