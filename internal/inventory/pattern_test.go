package inventory

import (
	"reflect"
	"sort"
	"testing"
)

func buildTestInventory(t *testing.T) *Inventory {
	t.Helper()
	inv, err := Load([]byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	return inv
}

func sortedResult(inv *Inventory, pattern string, t *testing.T) []string {
	t.Helper()
	hosts, err := inv.HostsIn(pattern)
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(hosts)
	return hosts
}

func TestPatternLiteralGroup(t *testing.T) {
	inv := buildTestInventory(t)
	got := sortedResult(inv, "webservers", t)
	want := []string{"web1", "web2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestPatternUnion(t *testing.T) {
	inv := buildTestInventory(t)
	got := sortedResult(inv, "webservers,db", t)
	want := []string{"db1", "web1", "web2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestPatternDifference(t *testing.T) {
	inv := buildTestInventory(t)
	got := sortedResult(inv, "all!db", t)
	want := []string{"web1", "web2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestPatternIntersection(t *testing.T) {
	inv := buildTestInventory(t)
	got := sortedResult(inv, "webservers&web1", t)
	want := []string{"web1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestPatternGlob(t *testing.T) {
	inv := buildTestInventory(t)
	got := sortedResult(inv, "web*", t)
	want := []string{"web1", "web2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestPatternAll(t *testing.T) {
	inv := buildTestInventory(t)
	got := sortedResult(inv, "all", t)
	if len(got) != 3 {
		t.Fatalf("expected 3 hosts, got %v", got)
	}
}

func TestPatternEmptyFails(t *testing.T) {
	if _, err := ParsePattern(""); err == nil {
		t.Fatal("expected error for empty pattern")
	}
}
