package executor

import (
	"fmt"
	"strings"

	"conclave/internal/modules"
)

// DiffStat summarizes a module's before/after diff into line counts for the
// diff-mode report line.
type DiffStat struct {
	Insertions int
	Deletions  int
}

// HasChanges reports whether the diff touched any line.
func (d DiffStat) HasChanges() bool { return d.Insertions > 0 || d.Deletions > 0 }

// TotalChanges is the combined insertion+deletion count.
func (d DiffStat) TotalChanges() int { return d.Insertions + d.Deletions }

// NetChange is insertions minus deletions.
func (d DiffStat) NetChange() int { return d.Insertions - d.Deletions }

// Merge folds other's counts into d.
func (d *DiffStat) Merge(other DiffStat) {
	d.Insertions += other.Insertions
	d.Deletions += other.Deletions
}

// ShortSummary renders the stat in the usual "+N -M" shape.
func (d DiffStat) ShortSummary() string {
	return fmt.Sprintf("+%d -%d", d.Insertions, d.Deletions)
}

// SummarizeDiff computes line-level insertion/deletion counts between a
// diff's before and after texts. Lines present in after but not before
// count as insertions, the reverse as deletions; a line that merely moved
// contributes nothing as long as its occurrence count is unchanged.
func SummarizeDiff(d *modules.Diff) DiffStat {
	if d == nil {
		return DiffStat{}
	}
	before := lineCounts(d.Before)
	after := lineCounts(d.After)

	var stat DiffStat
	for line, n := range after {
		if extra := n - before[line]; extra > 0 {
			stat.Insertions += extra
		}
	}
	for line, n := range before {
		if gone := n - after[line]; gone > 0 {
			stat.Deletions += gone
		}
	}
	return stat
}

func lineCounts(text string) map[string]int {
	counts := map[string]int{}
	if text == "" {
		return counts
	}
	for _, line := range strings.Split(strings.TrimSuffix(text, "\n"), "\n") {
		counts[line]++
	}
	return counts
}
