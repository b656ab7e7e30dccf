package persist

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestStoreLoadMissing(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	_, ok, err := store.LoadPatterns("search")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ok {
		t.Fatalf("expected missing snapshot")
	}
}

func TestStoreSaveLoadPatterns(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	want := []string{"error", "panic: .*"}
	if err := store.SavePatterns("search", want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := store.LoadPatterns("search")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(got.Patterns, want) {
		t.Fatalf("unexpected patterns %v", got.Patterns)
	}
	if got.UpdatedAt.IsZero() {
		t.Fatalf("expected updated_at to be set")
	}
}

func TestStoreSanitizesNames(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.SavePatterns("../escape me", nil); err != nil {
		t.Fatalf("save: %v", err)
	}
	path := filepath.Join(dir, "patterns", ".._escape_me.json")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat sanitized file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("unexpected permissions %v", info.Mode().Perm())
	}
}

func TestNewStoreRequiresDir(t *testing.T) {
	if _, err := NewStore("  "); err == nil {
		t.Fatalf("expected error for empty dir")
	}
}
