package vars

import "testing"

func TestPrecedenceMonotonicity(t *testing.T) {
	s := NewStore()
	s.Set("greeting", "hello", InventoryGroupVars, Source{Path: "group_vars/all.yml"})
	s.Set("greeting", "hola", PlayVars, Source{Path: "play.yml"})
	s.Set("greeting", "bonjour", ExtraVars, Source{Path: "cli"})

	got, ok := s.Get("greeting")
	if !ok || got != "bonjour" {
		t.Fatalf("Get(greeting) = %v, %v; want bonjour, true", got, ok)
	}
}

func TestSamePrecedenceLaterWriteWins(t *testing.T) {
	s := NewStore()
	s.Set("k", "first", TaskVars, Source{})
	s.Set("k", "second", TaskVars, Source{})
	got, _ := s.Get("k")
	if got != "second" {
		t.Fatalf("Get(k) = %v; want second", got)
	}
}

func TestDeleteIsTombstoneNotRetroactive(t *testing.T) {
	s := NewStore()
	s.Set("k", "lower", InventoryGroupVars, Source{})
	s.Delete("k", PlayVars, Source{})
	if s.Contains("k") {
		t.Fatalf("k should resolve to the tombstone at PlayVars, not the lower layer")
	}
	// The lower layer is still present underneath the tombstone.
	if layers := s.entries["k"]; len(layers) < 2 || layers[0].tombstone || layers[0].value != "lower" {
		t.Fatalf("lower layer should survive under the tombstone: %+v", layers)
	}
	s.Delete("k", PlayVars, Source{}) // idempotent: still a tombstone
	if s.Contains("k") {
		t.Fatalf("k should remain deleted")
	}
}

func TestScopedGuardPop(t *testing.T) {
	s := NewStore()
	s.Set("outer", "base", PlayVars, Source{})
	guard := s.Scoped(TaskVars)
	s.Set("outer", "shadowed", TaskVars, Source{})
	s.Set("inner", "only-in-scope", TaskVars, Source{})

	if v, _ := s.Get("outer"); v != "shadowed" {
		t.Fatalf("expected shadowed value inside scope, got %v", v)
	}
	guard.Pop()
	if v, ok := s.Get("outer"); !ok || v != "base" {
		t.Fatalf("expected base value restored after Pop, got %v, %v", v, ok)
	}
	if s.Contains("inner") {
		t.Fatalf("inner should not survive Pop")
	}
}

func TestSnapshotReflectsResolvedValues(t *testing.T) {
	s := NewStore()
	s.Set("a", 1.0, RoleDefaults, Source{})
	s.Set("a", 2.0, ExtraVars, Source{})
	s.Set("b", "x", PlayVars, Source{})
	snap := s.Snapshot()
	if snap["a"] != 2.0 || snap["b"] != "x" {
		t.Fatalf("unexpected snapshot: %#v", snap)
	}
}
