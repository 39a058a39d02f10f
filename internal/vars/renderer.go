package vars

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Renderer renders Jinja2-compatible-subset template strings against a
// variable snapshot. Implementations must fail on reference to an undefined
// variable when Strict is true (the default).
type Renderer interface {
	Render(template string, snapshot map[string]any) (string, error)
}

// UndefinedError reports the dotted variable path that had no binding.
type UndefinedError struct {
	Path string
}

func (e *UndefinedError) Error() string {
	return fmt.Sprintf("undefined variable: %s", e.Path)
}

// FilterFunc implements one named template filter. args are the raw
// (already-rendered-to-string) filter arguments from the pipeline.
type FilterFunc func(value any, args []string) (any, error)

// DefaultRenderer is a small hand-written interpreter for the subset of
// Jinja2 this system's templates need: "{{ expr }}" interpolation with
// dotted-path lookups and a "|"-separated filter pipeline. It does not
// implement control structures ({% if %}, {% for %}) — those are modeled
// directly by the task executor's own when/loop handling, not
// inside the template string itself.
type DefaultRenderer struct {
	Strict  bool
	Filters map[string]FilterFunc
}

// NewRenderer returns a DefaultRenderer in strict-undefined mode with the
// built-in filter set registered.
func NewRenderer() *DefaultRenderer {
	r := &DefaultRenderer{Strict: true, Filters: map[string]FilterFunc{}}
	registerBuiltinFilters(r)
	return r
}

// RegisterFilter installs or replaces a named filter. Filter registration
// is a separate, replaceable surface.
func (r *DefaultRenderer) RegisterFilter(name string, fn FilterFunc) {
	r.Filters[name] = fn
}

var exprPattern = regexp.MustCompile(`\{\{\s*(.*?)\s*\}\}`)

// Render implements Renderer.
func (r *DefaultRenderer) Render(template string, snapshot map[string]any) (string, error) {
	var outerErr error
	result := exprPattern.ReplaceAllStringFunc(template, func(match string) string {
		if outerErr != nil {
			return match
		}
		sub := exprPattern.FindStringSubmatch(match)
		expr := sub[1]
		val, err := r.evalPipeline(expr, snapshot)
		if err != nil {
			outerErr = err
			return match
		}
		return stringify(val)
	})
	if outerErr != nil {
		return "", outerErr
	}
	return result, nil
}

func (r *DefaultRenderer) evalPipeline(expr string, snapshot map[string]any) (any, error) {
	stages := splitPipeline(expr)
	if len(stages) == 0 {
		return "", nil
	}
	val, err := r.evalOperand(strings.TrimSpace(stages[0]), snapshot)
	if err != nil {
		return nil, err
	}
	for _, stage := range stages[1:] {
		name, args := parseFilterCall(strings.TrimSpace(stage))
		fn, ok := r.Filters[name]
		if !ok {
			return nil, fmt.Errorf("unknown filter: %s", name)
		}
		resolvedArgs := make([]string, len(args))
		for i, a := range args {
			resolvedArgs[i] = strings.Trim(strings.TrimSpace(a), `"'`)
		}
		val, err = fn(val, resolvedArgs)
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", name, err)
		}
	}
	return val, nil
}

// evalOperand resolves a single path/literal expression (no filters).
func (r *DefaultRenderer) evalOperand(expr string, snapshot map[string]any) (any, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return "", nil
	}
	if lit, ok := parseLiteral(expr); ok {
		return lit, nil
	}
	val, ok := lookupPath(snapshot, expr)
	if !ok {
		if r.Strict {
			return nil, &UndefinedError{Path: expr}
		}
		return "", nil
	}
	return val, nil
}

func parseLiteral(expr string) (any, bool) {
	if len(expr) >= 2 {
		if (expr[0] == '"' && expr[len(expr)-1] == '"') || (expr[0] == '\'' && expr[len(expr)-1] == '\'') {
			return expr[1 : len(expr)-1], true
		}
	}
	if n, err := strconv.ParseFloat(expr, 64); err == nil {
		return n, true
	}
	if expr == "true" {
		return true, true
	}
	if expr == "false" {
		return false, true
	}
	return nil, false
}

func lookupPath(snapshot map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = snapshot
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// splitPipeline splits on top-level "|" (not inside quotes).
func splitPipeline(expr string) []string {
	var parts []string
	var cur strings.Builder
	var quote byte
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		switch {
		case quote != 0:
			cur.WriteByte(c)
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
			cur.WriteByte(c)
		case c == '|':
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	parts = append(parts, cur.String())
	return parts
}

// parseFilterCall parses "name(arg1, arg2)" or bare "name" filter syntax.
func parseFilterCall(stage string) (name string, args []string) {
	open := strings.Index(stage, "(")
	if open == -1 || !strings.HasSuffix(stage, ")") {
		return strings.TrimSpace(stage), nil
	}
	name = strings.TrimSpace(stage[:open])
	inner := stage[open+1 : len(stage)-1]
	if strings.TrimSpace(inner) == "" {
		return name, nil
	}
	for _, a := range strings.Split(inner, ",") {
		args = append(args, strings.TrimSpace(a))
	}
	return name, args
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case bool:
		if t {
			return "True"
		}
		return "False"
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func registerBuiltinFilters(r *DefaultRenderer) {
	r.Filters["default"] = func(value any, args []string) (any, error) {
		if value == nil || value == "" {
			if len(args) > 0 {
				return args[0], nil
			}
			return "", nil
		}
		return value, nil
	}
	r.Filters["upper"] = func(value any, _ []string) (any, error) {
		return strings.ToUpper(stringify(value)), nil
	}
	r.Filters["lower"] = func(value any, _ []string) (any, error) {
		return strings.ToLower(stringify(value)), nil
	}
	r.Filters["trim"] = func(value any, _ []string) (any, error) {
		return strings.TrimSpace(stringify(value)), nil
	}
	r.Filters["b64encode"] = func(value any, _ []string) (any, error) {
		return base64.StdEncoding.EncodeToString([]byte(stringify(value))), nil
	}
	r.Filters["b64decode"] = func(value any, _ []string) (any, error) {
		out, err := base64.StdEncoding.DecodeString(stringify(value))
		if err != nil {
			return nil, err
		}
		return string(out), nil
	}
	r.Filters["regex_replace"] = func(value any, args []string) (any, error) {
		if len(args) < 2 {
			return nil, fmt.Errorf("regex_replace requires pattern and replacement")
		}
		re, err := regexp.Compile(args[0])
		if err != nil {
			return nil, err
		}
		return re.ReplaceAllString(stringify(value), args[1]), nil
	}
	r.Filters["urlsplit"] = func(value any, args []string) (any, error) {
		raw := stringify(value)
		scheme, rest, _ := strings.Cut(raw, "://")
		host := rest
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			host = rest[:idx]
		}
		if len(args) == 0 {
			return host, nil
		}
		switch args[0] {
		case "scheme":
			return scheme, nil
		case "hostname", "netloc":
			return host, nil
		default:
			return raw, nil
		}
	}
}
