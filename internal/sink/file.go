package sink

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"pkt.systems/pslog"
	"pkt.systems/scrollback/core"
	"pkt.systems/scrollback/schema"
)

// FileOptions configures file destinations.
type FileOptions struct {
	// Dir resolves relative destination paths.
	Dir string
	// Compress writes zstd frames and appends .zst when missing.
	Compress bool
	// Overwrite replaces existing files instead of rejecting the destination.
	Overwrite bool
}

// FileOpener writes exports to local files. Data lands in a temp file next
// to the destination and is renamed into place after the last chunk, so a
// failed transfer never leaves a partial file behind.
type FileOpener struct {
	opts FileOptions
}

var _ core.SinkOpener = (*FileOpener)(nil)

// NewFileOpener constructs a file opener.
func NewFileOpener(opts FileOptions) *FileOpener {
	return &FileOpener{opts: opts}
}

// Open implements core.SinkOpener.
func (o *FileOpener) Open(ctx context.Context, dest schema.Destination) (core.Sink, error) {
	path, err := o.resolve(dest.URL)
	if err != nil {
		return nil, err
	}
	compress := o.opts.Compress || strings.HasSuffix(path, ".zst")
	if compress && !strings.HasSuffix(path, ".zst") {
		path += ".zst"
	}
	if !o.opts.Overwrite {
		if _, err := os.Stat(path); err == nil {
			return nil, fmt.Errorf("%w: %s already exists", schema.ErrInvalidDestination, path)
		}
	}
	file, err := CreateAtomic(path, compress)
	if err != nil {
		return nil, err
	}
	pslog.Ctx(ctx).Debug("export file open", "path", path, "compress", compress)
	return newPumpSink("file", &fileTransfer{path: path, compress: compress, file: file}), nil
}

func (o *FileOpener) resolve(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "file://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("%w: %w", schema.ErrInvalidDestination, err)
		}
		raw = u.Path
	}
	if raw == "" {
		return "", fmt.Errorf("%w: empty path", schema.ErrInvalidDestination)
	}
	if strings.HasSuffix(raw, string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s is a directory", schema.ErrInvalidDestination, raw)
	}
	if !filepath.IsAbs(raw) && o.opts.Dir != "" {
		raw = filepath.Join(o.opts.Dir, raw)
	}
	return filepath.Clean(raw), nil
}

type fileTransfer struct {
	path     string
	compress bool
	file     *AtomicFile
}

func (f *fileTransfer) Run(ctx context.Context, src *Reader) error {
	log := pslog.Ctx(ctx)
	if _, err := io.Copy(f.file, src); err != nil {
		f.file.Abort()
		log.Warn("export file write failed", "path", f.path, "err", err)
		return err
	}
	if err := f.file.Commit(); err != nil {
		log.Warn("export file write failed", "path", f.path, "err", err)
		return err
	}
	log.Info("export file written", "path", f.path, "bytes", src.Total())
	return nil
}

// AtomicFile writes into a temp file beside path and renames it into place
// on Commit. Abort discards everything written.
type AtomicFile struct {
	path string
	tmp  *os.File
	enc  *zstd.Encoder
	w    io.Writer
	done bool
}

// CreateAtomic starts an atomic write of path, optionally zstd compressed.
func CreateAtomic(path string, compress bool) (*AtomicFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".scrollback-*")
	if err != nil {
		return nil, err
	}
	f := &AtomicFile{path: path, tmp: tmp, w: tmp}
	if compress {
		enc, err := zstd.NewWriter(tmp)
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
			return nil, err
		}
		f.enc = enc
		f.w = enc
	}
	return f, nil
}

// Path returns the final destination path.
func (f *AtomicFile) Path() string {
	return f.path
}

// Write implements io.Writer.
func (f *AtomicFile) Write(p []byte) (int, error) {
	return f.w.Write(p)
}

// Commit flushes the data and moves the file into place.
func (f *AtomicFile) Commit() error {
	if f.done {
		return nil
	}
	f.done = true
	if f.enc != nil {
		if err := f.enc.Close(); err != nil {
			_ = f.tmp.Close()
			_ = os.Remove(f.tmp.Name())
			return err
		}
	}
	if err := f.tmp.Sync(); err != nil {
		_ = f.tmp.Close()
		_ = os.Remove(f.tmp.Name())
		return err
	}
	if err := f.tmp.Close(); err != nil {
		_ = os.Remove(f.tmp.Name())
		return err
	}
	if err := os.Chmod(f.tmp.Name(), 0o600); err != nil {
		_ = os.Remove(f.tmp.Name())
		return err
	}
	if err := os.Rename(f.tmp.Name(), f.path); err != nil {
		_ = os.Remove(f.tmp.Name())
		return err
	}
	return nil
}

// Abort removes the temp file.
func (f *AtomicFile) Abort() {
	if f.done {
		return
	}
	f.done = true
	if f.enc != nil {
		_ = f.enc.Close()
	}
	_ = f.tmp.Close()
	_ = os.Remove(f.tmp.Name())
}

// ReadFile returns the contents of an exported file, decompressing .zst files.
func ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".zst") {
		return data, nil
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}
