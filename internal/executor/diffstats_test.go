package executor

import (
	"testing"

	"conclave/internal/modules"
)

func TestSummarizeDiff(t *testing.T) {
	tests := []struct {
		name       string
		before     string
		after      string
		insertions int
		deletions  int
	}{
		{"no change", "a\nb\n", "a\nb\n", 0, 0},
		{"pure insert", "a\n", "a\nb\nc\n", 2, 0},
		{"pure delete", "a\nb\nc\n", "a\n", 0, 2},
		{"replace line", "a\nold\nc\n", "a\nnew\nc\n", 1, 1},
		{"empty before", "", "a\nb\n", 2, 0},
		{"duplicate lines", "x\nx\n", "x\n", 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stat := SummarizeDiff(&modules.Diff{Before: tt.before, After: tt.after})
			if stat.Insertions != tt.insertions || stat.Deletions != tt.deletions {
				t.Fatalf("got +%d -%d, want +%d -%d", stat.Insertions, stat.Deletions, tt.insertions, tt.deletions)
			}
		})
	}
}

func TestDiffStatHelpers(t *testing.T) {
	stat := DiffStat{Insertions: 3, Deletions: 1}
	if !stat.HasChanges() {
		t.Fatal("HasChanges should be true")
	}
	if stat.TotalChanges() != 4 {
		t.Fatalf("TotalChanges = %d, want 4", stat.TotalChanges())
	}
	if stat.NetChange() != 2 {
		t.Fatalf("NetChange = %d, want 2", stat.NetChange())
	}
	if stat.ShortSummary() != "+3 -1" {
		t.Fatalf("ShortSummary = %q", stat.ShortSummary())
	}
	var total DiffStat
	total.Merge(stat)
	total.Merge(DiffStat{Deletions: 2})
	if total.Insertions != 3 || total.Deletions != 3 {
		t.Fatalf("merged = %+v", total)
	}
	if (DiffStat{}).HasChanges() {
		t.Fatal("zero stat should report no changes")
	}
}
