package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"pkt.systems/pslog"
)

// Options configures a Follower.
type Options struct {
	// FromStart replays the existing file content before following.
	FromStart bool
	// Ready is closed once the watch is established.
	Ready chan struct{}
}

// Follower tails a growing file into a writer, typically a session. It
// watches the parent directory so rotation and late creation are picked up.
type Follower struct {
	path string
	dst  io.Writer
	opts Options

	readyOnce sync.Once
	file      *os.File
	offset    int64
}

// NewFollower constructs a follower for path.
func NewFollower(path string, dst io.Writer, opts Options) *Follower {
	return &Follower{path: filepath.Clean(path), dst: dst, opts: opts}
}

// Run follows the file until ctx is canceled.
func (f *Follower) Run(ctx context.Context) error {
	log := pslog.Ctx(ctx).With("path", f.path)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()
	dir := filepath.Dir(f.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}
	defer f.closeFile()

	if err := f.open(!f.opts.FromStart); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := f.drain(); err != nil {
		return err
	}
	f.markReady()
	log.Info("feed follow start", "offset", f.offset)
	defer log.Info("feed follow stop", "offset", f.offset)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			switch {
			case event.Has(fsnotify.Create):
				log.Debug("feed file created")
				f.closeFile()
				if err := f.open(false); err != nil && !errors.Is(err, os.ErrNotExist) {
					log.Warn("feed open failed", "err", err)
					continue
				}
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				log.Debug("feed file moved")
				if err := f.drain(); err != nil {
					log.Warn("feed read failed", "err", err)
				}
				f.closeFile()
				continue
			}
			if err := f.drain(); err != nil {
				log.Warn("feed read failed", "err", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("feed watch error", "err", err)
		}
	}
}

func (f *Follower) markReady() {
	if f.opts.Ready == nil {
		return
	}
	f.readyOnce.Do(func() { close(f.opts.Ready) })
}

func (f *Follower) open(seekEnd bool) error {
	file, err := os.Open(f.path)
	if err != nil {
		return err
	}
	f.offset = 0
	if seekEnd {
		offset, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			_ = file.Close()
			return err
		}
		f.offset = offset
	}
	f.file = file
	return nil
}

func (f *Follower) closeFile() {
	if f.file != nil {
		_ = f.file.Close()
		f.file = nil
	}
}

// drain copies everything past the current offset. A file that shrank was
// truncated in place and is re-read from the start.
func (f *Follower) drain() error {
	if f.file == nil {
		if err := f.open(false); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
	}
	info, err := f.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() < f.offset {
		f.offset = 0
	}
	if _, err := f.file.Seek(f.offset, io.SeekStart); err != nil {
		return err
	}
	n, err := io.Copy(f.dst, f.file)
	f.offset += n
	return err
}
