package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStoreGetPut(t *testing.T) {
	s := New[int](time.Hour)
	if _, ok := s.Get("k", "fp1"); ok {
		t.Fatal("expected miss on empty store")
	}
	s.Put("k", "fp1", 42)
	v, ok := s.Get("k", "fp1")
	if !ok || v != 42 {
		t.Fatalf("expected hit with value 42, got %v %v", v, ok)
	}
}

func TestStoreFingerprintMismatch(t *testing.T) {
	s := New[string](time.Hour)
	s.Put("k", "fp1", "value")
	if _, ok := s.Get("k", "fp2"); ok {
		t.Fatal("expected miss on fingerprint mismatch")
	}
}

func TestStoreExpiry(t *testing.T) {
	s := New[string](10 * time.Millisecond)
	s.Put("k", "fp", "value")
	time.Sleep(30 * time.Millisecond)
	if _, ok := s.Get("k", "fp"); ok {
		t.Fatal("expected entry to have expired")
	}
}

func TestStoreDependencyChangeInvalidates(t *testing.T) {
	dir := t.TempDir()
	dep := filepath.Join(dir, "tasks.yml")
	if err := os.WriteFile(dep, []byte("- name: a\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := New[string](0)
	s.Put("k", "fp", "value", dep)
	if _, ok := s.Get("k", "fp"); !ok {
		t.Fatal("expected hit while dependency unchanged")
	}

	// Rewrite the dependency with a different size so the fingerprint moves
	// even on coarse mtime clocks.
	if err := os.WriteFile(dep, []byte("- name: a\n- name: b\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Get("k", "fp"); ok {
		t.Fatal("expected miss after a dependency changed")
	}
}

func TestStoreAbsentDependencyAppearing(t *testing.T) {
	dir := t.TempDir()
	dep := filepath.Join(dir, "vars.yml")

	s := New[string](0)
	s.Put("k", "fp", "value", dep)
	if _, ok := s.Get("k", "fp"); !ok {
		t.Fatal("a recorded-absent dependency should not block hits while still absent")
	}
	if err := os.WriteFile(dep, []byte("x: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Get("k", "fp"); ok {
		t.Fatal("expected miss once an absent dependency appeared")
	}
}

func TestStoreCapacityEvictsLRU(t *testing.T) {
	s := New[int](0)
	s.SetCapacity(2)
	s.Put("a", "fp", 1)
	s.Put("b", "fp", 2)
	if _, ok := s.Get("a", "fp"); !ok {
		t.Fatal("a should still be cached")
	}
	// b is now the least recently accessed; inserting c evicts it.
	s.Put("c", "fp", 3)
	if s.Len() != 2 {
		t.Fatalf("len = %d, want 2", s.Len())
	}
	if _, ok := s.Get("b", "fp"); ok {
		t.Fatal("b should have been evicted as least recently used")
	}
	if _, ok := s.Get("a", "fp"); !ok {
		t.Fatal("a should have survived eviction")
	}
	if _, ok := s.Get("c", "fp"); !ok {
		t.Fatal("c should be cached")
	}
}

func TestStoreInvalidate(t *testing.T) {
	s := New[string](time.Hour)
	s.Put("k", "fp", "value")
	s.Invalidate("k")
	if _, ok := s.Get("k", "fp"); ok {
		t.Fatal("expected invalidated entry to miss")
	}
}
