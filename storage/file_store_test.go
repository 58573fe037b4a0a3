package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileStoreSaveLoad(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if _, err := store.Load(ctx, "alice.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Save(ctx, "alice.json", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Save(ctx, "alice.json", []byte(`{"a":2}`)); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}
	data, err := store.Load(ctx, "alice.json")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if string(data) != `{"a":2}` {
		t.Fatalf("unexpected content %q", data)
	}

	entries, err := os.ReadDir(store.Dir())
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestFileStoreRejectsPathKeys(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	defer store.Close()

	for _, key := range []string{"", "..", "a/b.json", `a\b.json`} {
		if err := store.Save(context.Background(), key, []byte("x")); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
}

func TestFileStoreLocksDirectory(t *testing.T) {
	dir := t.TempDir()
	first, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	if _, err := NewFileStore(dir); err == nil {
		t.Fatal("expected second store on the same dir to fail")
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	second, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("expected lock to be free after Close: %v", err)
	}
	second.Close()
}

func TestFileStoreCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "libs")
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	defer store.Close()
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("dir not created: %v", err)
	}
}
