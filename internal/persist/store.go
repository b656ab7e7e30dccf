// Package persist keeps small pieces of client state, such as recently used
// search patterns, under the configured state directory.
package persist

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"pkt.systems/pslog"
)

// PatternSnapshot captures the remembered search patterns, newest last.
type PatternSnapshot struct {
	Patterns  []string  `json:"patterns"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists snapshots to disk.
type Store struct {
	dir string
	log pslog.Logger
}

// NewStore constructs a persistent store at the given directory.
func NewStore(dir string) (*Store, error) {
	return NewStoreWithLogger(dir, nil)
}

// NewStoreWithLogger constructs a persistent store with logging.
func NewStoreWithLogger(dir string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("state_dir", dir)
	}
	return &Store{dir: dir, log: logger}, nil
}

// LoadPatterns reads the pattern snapshot stored under name.
func (s *Store) LoadPatterns(name string) (PatternSnapshot, bool, error) {
	path := s.pathFor("patterns", name)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.debug("state load miss", "name", name)
			return PatternSnapshot{}, false, nil
		}
		s.warn("state load failed", "name", name, "err", err)
		return PatternSnapshot{}, false, err
	}
	var snapshot PatternSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		s.warn("state load failed", "name", name, "err", err)
		return PatternSnapshot{}, false, err
	}
	s.debug("state load ok", "name", name, "patterns", len(snapshot.Patterns))
	return snapshot, true, nil
}

// SavePatterns atomically replaces the pattern snapshot stored under name.
func (s *Store) SavePatterns(name string, patterns []string) error {
	snapshot := PatternSnapshot{Patterns: patterns, UpdatedAt: time.Now().UTC()}
	if snapshot.Patterns == nil {
		snapshot.Patterns = []string{}
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		s.warn("state save failed", "name", name, "err", err)
		return err
	}
	if err := s.writeAtomic(s.pathFor("patterns", name), data); err != nil {
		s.warn("state save failed", "name", name, "err", err)
		return err
	}
	if s.log != nil {
		s.log.Trace("state save ok", "name", name, "patterns", len(snapshot.Patterns))
	}
	return nil
}

func (s *Store) writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "state-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *Store) pathFor(kind, name string) string {
	clean := sanitize(name)
	if clean == "" {
		clean = "default"
	}
	return filepath.Join(s.dir, kind, clean+".json")
}

func (s *Store) debug(msg string, keyvals ...any) {
	if s.log != nil {
		s.log.Debug(msg, keyvals...)
	}
}

func (s *Store) warn(msg string, keyvals ...any) {
	if s.log != nil {
		s.log.Warn(msg, keyvals...)
	}
}

func sanitize(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}
