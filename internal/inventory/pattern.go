package inventory

import (
	"fmt"
	"path"
	"strings"
)

// Pattern is a parsed host-pattern expression: a left-to-right
// fold of terms combined by union (",", ":"), intersection ("&") and
// difference ("!"), where each term is a literal host/group name or a glob.
type Pattern struct {
	terms []patternTerm
}

type patternOp int

const (
	opUnion patternOp = iota
	opIntersect
	opDifference
)

type patternTerm struct {
	op   patternOp // how this term combines with the running set; first term's op is ignored
	text string
}

// ParsePattern tokenizes pattern into a left-to-right fold of terms. The
// grammar recognizes ',' and ':' as union, '&' as intersection prefix, and
// '!' as difference prefix, binding to the single term that follows.
func ParsePattern(pattern string) (*Pattern, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, fmt.Errorf("empty host pattern")
	}
	raw := splitUnion(pattern)
	p := &Pattern{}
	for i, tok := range raw {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		op := opUnion
		switch {
		case strings.HasPrefix(tok, "!"):
			op = opDifference
			tok = strings.TrimPrefix(tok, "!")
		case strings.HasPrefix(tok, "&"):
			op = opIntersect
			tok = strings.TrimPrefix(tok, "&")
		}
		tok = strings.TrimSpace(tok)
		if tok == "" {
			return nil, fmt.Errorf("host pattern %q: empty term at position %d", pattern, i)
		}
		if i == 0 && op != opUnion {
			// A leading "&foo" or "!foo" still has a well-defined meaning
			// (intersect/subtract from the empty set), so it's honored
			// rather than rejected.
			_ = op
		}
		p.terms = append(p.terms, patternTerm{op: op, text: tok})
	}
	if len(p.terms) == 0 {
		return nil, fmt.Errorf("host pattern %q has no terms", pattern)
	}
	return p, nil
}

// splitUnion splits pattern into terms. ',' and ':' end a term and are
// dropped; '&' and '!' also end the current term but stay attached to the
// next one as its operator prefix. Patterns in this grammar never nest
// parentheses, so this is a single left-to-right scan. Empty terms are
// returned as "" and skipped by ParsePattern.
func splitUnion(pattern string) []string {
	var out []string
	var cur strings.Builder
	for _, r := range pattern {
		switch r {
		case ',', ':':
			out = append(out, cur.String())
			cur.Reset()
		case '&', '!':
			out = append(out, cur.String())
			cur.Reset()
			cur.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
	}
	return append(out, cur.String())
}

// Match resolves the pattern against inv, folding terms left to right. An
// intersection or difference against the not-yet-established empty initial
// set behaves as intersect-with-empty (empty) or subtract-from-empty
// (empty), matching a literal left-to-right fold.
func (p *Pattern) Match(inv *Inventory) map[string]struct{} {
	result := map[string]struct{}{}
	for i, term := range p.terms {
		matched := matchTerm(inv, term.text)
		if i == 0 && term.op == opUnion {
			result = matched
			continue
		}
		switch term.op {
		case opUnion:
			for h := range matched {
				result[h] = struct{}{}
			}
		case opIntersect:
			next := map[string]struct{}{}
			for h := range result {
				if _, ok := matched[h]; ok {
					next[h] = struct{}{}
				}
			}
			result = next
			if len(result) == 0 {
				return result
			}
		case opDifference:
			for h := range matched {
				delete(result, h)
			}
		}
	}
	return result
}

// matchTerm resolves a single literal/group/glob term to its member set.
func matchTerm(inv *Inventory, text string) map[string]struct{} {
	if text == "all" || text == "*" {
		out := map[string]struct{}{}
		for h := range inv.Hosts {
			out[h] = struct{}{}
		}
		return out
	}
	if _, ok := inv.Groups[text]; ok {
		out := map[string]struct{}{}
		for _, h := range inv.TransitiveHosts(text) {
			out[h] = struct{}{}
		}
		return out
	}
	if _, ok := inv.Hosts[text]; ok {
		return map[string]struct{}{text: {}}
	}
	if isGlob(text) {
		out := map[string]struct{}{}
		for name := range inv.Hosts {
			if ok, _ := path.Match(text, name); ok {
				out[name] = struct{}{}
			}
		}
		for name, g := range inv.Groups {
			if ok, _ := path.Match(text, name); ok {
				for _, h := range inv.TransitiveHosts(g.Name) {
					out[h] = struct{}{}
				}
			}
		}
		return out
	}
	return map[string]struct{}{}
}

func isGlob(s string) bool {
	return strings.ContainsAny(s, "*?[")
}
