package vars

import "testing"

func TestRenderSimpleInterpolation(t *testing.T) {
	r := NewRenderer()
	snap := map[string]any{"greeting": "bonjour"}
	out, err := r.Render("say: {{ greeting }}", snap)
	if err != nil {
		t.Fatal(err)
	}
	if out != "say: bonjour" {
		t.Fatalf("got %q", out)
	}
}

func TestRenderDottedPath(t *testing.T) {
	r := NewRenderer()
	snap := map[string]any{"item": map[string]any{"name": "nginx"}}
	out, err := r.Render("{{ item.name }}", snap)
	if err != nil {
		t.Fatal(err)
	}
	if out != "nginx" {
		t.Fatalf("got %q", out)
	}
}

func TestRenderFilterPipeline(t *testing.T) {
	r := NewRenderer()
	snap := map[string]any{"name": "Nginx"}
	out, err := r.Render("{{ name | upper }}", snap)
	if err != nil {
		t.Fatal(err)
	}
	if out != "NGINX" {
		t.Fatalf("got %q", out)
	}
}

func TestRenderDefaultFilterOnUndefined(t *testing.T) {
	r := &DefaultRenderer{Strict: false, Filters: map[string]FilterFunc{}}
	registerBuiltinFilters(r)
	out, err := r.Render("{{ missing | default('fallback') }}", map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	if out != "fallback" {
		t.Fatalf("got %q", out)
	}
}

func TestRenderStrictUndefinedFails(t *testing.T) {
	r := NewRenderer()
	_, err := r.Render("{{ missing }}", map[string]any{})
	if err == nil {
		t.Fatal("expected undefined error")
	}
	var uerr *UndefinedError
	if !asUndefined(err, &uerr) {
		t.Fatalf("expected UndefinedError, got %v", err)
	}
	if uerr.Path != "missing" {
		t.Fatalf("got path %q", uerr.Path)
	}
}

func asUndefined(err error, target **UndefinedError) bool {
	if u, ok := err.(*UndefinedError); ok {
		*target = u
		return true
	}
	return false
}
