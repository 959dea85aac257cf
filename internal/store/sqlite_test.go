package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSetAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Set(ctx, "hello", "world"); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, ok, err := s.Get(ctx, "hello")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("expected key to exist")
	}
	if got != "world" {
		t.Errorf("expected 'world', got %q", got)
	}
}

func TestGetMissing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, ok, err := s.Get(ctx, "nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Error("expected missing key to report ok=false")
	}
}

func TestSetOverwrites(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Set(ctx, "k", "v1")
	s.Set(ctx, "k", "v2")

	got, _, _ := s.Get(ctx, "k")
	if got != "v2" {
		t.Errorf("expected 'v2', got %q", got)
	}
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Set(ctx, "k", "v")
	if err := s.Remove(ctx, "k"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("expected key to be gone after remove")
	}

	// Removing again is a no-op
	if err := s.Remove(ctx, "k"); err != nil {
		t.Errorf("expected no error removing absent key, got %v", err)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	s.Set(ctx, HighScoreKey, "420")
	s.Close()

	s2, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer s2.Close()

	got, ok, _ := s2.Get(ctx, HighScoreKey)
	if !ok || got != "420" {
		t.Errorf("expected '420' after reopen, got %q (ok=%v)", got, ok)
	}
}

func TestDBPathCreation(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "sub", "dir", "test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("expected db file to be created")
	}
}

func TestInfo(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Set(ctx, HistoryKey, "[]")
	s.Set(ctx, HighScoreKey, "100")

	info, err := s.Info(ctx)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if len(info.Keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(info.Keys))
	}
	if info.Keys[1].Key != HistoryKey || info.Keys[1].SizeBytes != 2 {
		t.Errorf("unexpected history key info: %+v", info.Keys[1])
	}
	if info.DBPath != s.Path() {
		t.Errorf("expected db path %q, got %q", s.Path(), info.DBPath)
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Error("expected empty store")
	}
	m.Set(ctx, "k", "v")
	if v, ok, _ := m.Get(ctx, "k"); !ok || v != "v" {
		t.Errorf("expected 'v', got %q", v)
	}
	m.Remove(ctx, "k")
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Error("expected key removed")
	}
}

func TestOpenBackends(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Options{Backend: BackendMemory})
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("expected *MemoryStore, got %T", s)
	}

	s, err = Open(ctx, Options{DBPath: filepath.Join(t.TempDir(), "x.db")})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*SQLiteStore); !ok {
		t.Errorf("expected *SQLiteStore for empty backend, got %T", s)
	}

	if _, err := Open(ctx, Options{Backend: "etcd"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}
