package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestStoreWriteAndExists(t *testing.T) {
	store := newTestStore(t)
	path := filepath.Join(store.Root(), "ab", "abcdef.png")

	if store.Exists(path) {
		t.Fatalf("file should not exist before write")
	}
	payload := []byte("payload")
	if err := store.Write(context.Background(), path, payload); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if !store.Exists(path) {
		t.Fatalf("file should exist after write")
	}

	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read cached body error: %v", err)
	}
	if string(body) != string(payload) {
		t.Fatalf("cached payload mismatch: %s", string(body))
	}
	assertNoTempFiles(t, filepath.Dir(path))
}

func TestStoreWriteOverwrites(t *testing.T) {
	store := newTestStore(t)
	path := filepath.Join(store.Root(), "ab", "overwrite")

	for _, body := range []string{"first", "second"} {
		if err := store.Write(context.Background(), path, []byte(body)); err != nil {
			t.Fatalf("write error: %v", err)
		}
	}
	body, _ := os.ReadFile(path)
	if string(body) != "second" {
		t.Fatalf("expected last write to win, got %s", string(body))
	}
}

func TestStoreDelete(t *testing.T) {
	store := newTestStore(t)
	path := filepath.Join(store.Root(), "cd", "remove.jpg")
	if err := store.Write(context.Background(), path, []byte("data")); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if err := store.Delete(context.Background(), path); err != nil {
		t.Fatalf("delete error: %v", err)
	}
	if store.Exists(path) {
		t.Fatalf("file should be gone after delete")
	}
	if _, err := os.Stat(filepath.Dir(path)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("empty shard directory should be pruned, stat err=%v", err)
	}
	if _, err := os.Stat(store.Root()); err != nil {
		t.Fatalf("root must survive pruning: %v", err)
	}
}

func TestStoreDeleteMissingIsNoop(t *testing.T) {
	store := newTestStore(t)
	if err := store.Delete(context.Background(), filepath.Join(store.Root(), "ef", "missing")); err != nil {
		t.Fatalf("deleting a missing file should succeed, got %v", err)
	}
}

func TestStoreDeleteKeepsNonEmptyShard(t *testing.T) {
	store := newTestStore(t)
	a := filepath.Join(store.Root(), "aa", "one")
	b := filepath.Join(store.Root(), "aa", "two")
	for _, p := range []string{a, b} {
		if err := store.Write(context.Background(), p, []byte("x")); err != nil {
			t.Fatalf("write error: %v", err)
		}
	}
	if err := store.Delete(context.Background(), a); err != nil {
		t.Fatalf("delete error: %v", err)
	}
	if !store.Exists(b) {
		t.Fatalf("sibling file must survive")
	}
}

func TestStoreRejectsPathOutsideRoot(t *testing.T) {
	store := newTestStore(t)
	outside := filepath.Join(filepath.Dir(store.Root()), "escape.png")

	if err := store.Write(context.Background(), outside, []byte("x")); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
	if err := store.Delete(context.Background(), filepath.Join(store.Root(), "..", "x")); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath for traversal, got %v", err)
	}
	if err := store.Write(context.Background(), "", []byte("x")); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath for empty path, got %v", err)
	}
}

func TestStoreIgnoresDirectories(t *testing.T) {
	store := newTestStore(t)
	dir := filepath.Join(store.Root(), "ghcr")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}
	if store.Exists(dir) {
		t.Fatalf("directories must not count as cached files")
	}
}

func TestStoreWriteCancelledLeavesNothing(t *testing.T) {
	store := newTestStore(t)
	path := filepath.Join(store.Root(), "ff", "cancelled.gif")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.Write(ctx, path, []byte("data")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if store.Exists(path) {
		t.Fatalf("cancelled write must not publish the file")
	}
	assertNoTempFiles(t, filepath.Dir(path))
}

// newTestStore returns a Store backed by a temporary directory.
func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, ".cache-*"))
	if err != nil {
		t.Fatalf("glob error: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("temp files left behind: %v", matches)
	}
}
