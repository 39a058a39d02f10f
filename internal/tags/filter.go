package tags

// reservedAlways and reservedNever are the two reserved tag names.
const (
	reservedAlways = "always"
	reservedNever  = "never"
)

// Filter holds the optional --tags/--skip-tags expressions for a run.
type Filter struct {
	IncludeExpr Expr // nil means "no include filter configured"
	SkipExpr    Expr // nil means "no skip filter configured"

	// explicitlyIncluded/explicitlySkipped record the literal tag names
	// named on the command line (not arbitrary expression terms), since
	// the always/never carve-outs test literal membership: "unless
	// `always` is explicitly in the skip set" / "unless explicitly named in
	// the include set".
	explicitlyIncluded map[string]struct{}
	explicitlySkipped   map[string]struct{}
}

// NewFilter builds a Filter from raw include/skip tag-name lists (as given
// on the command line, comma-separated tag names — not full expressions).
// includeNames/skipNames may be empty.
func NewFilter(includeNames, skipNames []string) (*Filter, error) {
	f := &Filter{explicitlyIncluded: map[string]struct{}{}, explicitlySkipped: map[string]struct{}{}}
	for _, n := range includeNames {
		f.explicitlyIncluded[n] = struct{}{}
	}
	for _, n := range skipNames {
		f.explicitlySkipped[n] = struct{}{}
	}
	if len(includeNames) > 0 {
		expr, err := Parse(joinComma(includeNames))
		if err != nil {
			return nil, err
		}
		f.IncludeExpr = expr
	}
	if len(skipNames) > 0 {
		expr, err := Parse(joinComma(skipNames))
		if err != nil {
			return nil, err
		}
		f.SkipExpr = expr
	}
	return f, nil
}

func joinComma(items []string) string {
	out := ""
	for i, it := range items {
		if i > 0 {
			out += ","
		}
		out += it
	}
	return out
}

// ShouldRun implements the filter evaluation rule for a
// task with effective tags effectiveTags.
func (f *Filter) ShouldRun(effectiveTags []string) bool {
	set := make(map[string]struct{}, len(effectiveTags))
	for _, t := range effectiveTags {
		set[t] = struct{}{}
	}

	_, hasAlways := set[reservedAlways]
	_, hasNever := set[reservedNever]

	if hasAlways {
		if _, skipped := f.explicitlySkipped[reservedAlways]; !skipped {
			return true
		}
	}
	if hasNever {
		if _, included := f.explicitlyIncluded[reservedNever]; !included {
			return false
		}
	}

	if f.SkipExpr != nil && f.SkipExpr.Matches(set) {
		return false
	}
	if f.IncludeExpr != nil {
		return f.IncludeExpr.Matches(set)
	}
	return true
}
