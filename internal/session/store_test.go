package session

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token")
	store := NewFileStore(path)

	if _, ok := store.Token(); ok {
		t.Fatal("expected no token before SetToken")
	}

	if err := store.SetToken("abc123"); err != nil {
		t.Fatalf("SetToken failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat token file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600 permissions, got %o", perm)
	}

	// A fresh store over the same path sees the token, simulating a reload.
	reloaded := NewFileStore(path)
	token, ok := reloaded.Token()
	if !ok || token != "abc123" {
		t.Fatalf("expected persisted token abc123, got %q (present=%v)", token, ok)
	}
}

func TestFileStoreClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	store := NewFileStore(path)

	if err := store.Clear(); err != nil {
		t.Fatalf("clearing an empty store should succeed, got %v", err)
	}

	if err := store.SetToken("abc123"); err != nil {
		t.Fatalf("SetToken failed: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, ok := store.Token(); ok {
		t.Fatal("expected no token after Clear")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected token file removed, stat err = %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	if _, ok := store.Token(); ok {
		t.Fatal("expected empty store")
	}
	if err := store.SetToken("tok"); err != nil {
		t.Fatalf("SetToken failed: %v", err)
	}
	if token, ok := store.Token(); !ok || token != "tok" {
		t.Fatalf("expected tok, got %q", token)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, ok := store.Token(); ok {
		t.Fatal("expected empty store after Clear")
	}
}
