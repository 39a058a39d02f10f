package cache

import "testing"

func TestFactCacheSubsetCoverage(t *testing.T) {
	fc := NewFactCache(0)
	fc.Put("hostA", map[string]any{"os": "linux"}, false)
	if !fc.Covers("hostA", []string{"os"}) {
		t.Fatal("expected os to be covered")
	}
	if fc.Covers("hostA", []string{"os", "arch"}) {
		t.Fatal("arch was never gathered, should not be covered")
	}
}

func TestFactCacheAllSentinel(t *testing.T) {
	fc := NewFactCache(0)
	fc.Put("hostA", map[string]any{"os": "linux"}, true)
	if !fc.Covers("hostA", []string{"anything", "not_gathered_explicitly"}) {
		t.Fatal("full gather should cover any subsequent subset request")
	}
	if !fc.Covers("hostA", nil) {
		t.Fatal("full gather should cover the empty/all request too")
	}
}

func TestFactCacheGetReturnsRequestedSubset(t *testing.T) {
	fc := NewFactCache(0)
	fc.Put("hostA", map[string]any{"os": "linux", "arch": "amd64"}, true)
	got := fc.Get("hostA", []string{"os"})
	if len(got) != 1 || got["os"] != "linux" {
		t.Fatalf("expected subset {os: linux}, got %v", got)
	}
}

func TestFactCacheInvalidate(t *testing.T) {
	fc := NewFactCache(0)
	fc.Put("hostA", map[string]any{"os": "linux"}, true)
	fc.Invalidate("hostA")
	if fc.Covers("hostA", []string{"os"}) {
		t.Fatal("expected invalidated host to miss")
	}
}
