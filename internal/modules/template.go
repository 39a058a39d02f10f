package modules

import (
	"context"
	"os"

	"conclave/internal/vars"
)

// TemplateModule renders a Jinja2-compatible-subset template file against
// the task's variable snapshot and places the result at dest, reusing the
// renderer internal/vars exposes as the single replaceable Renderer
// surface.
type TemplateModule struct {
	Renderer vars.Renderer
}

func (m *TemplateModule) renderer() vars.Renderer {
	if m.Renderer != nil {
		return m.Renderer
	}
	return vars.NewRenderer()
}

func (m *TemplateModule) Name() string                  { return "template" }
func (m *TemplateModule) Classification() Classification { return RemoteCommand }
func (m *TemplateModule) ParallelizationHint() ParallelizationHint {
	return ParallelizationHint{Kind: FullyParallel}
}
func (m *TemplateModule) RequiredParams() []string { return []string{"src", "dest"} }

func (m *TemplateModule) ValidateParams(args map[string]any) error {
	return RequireParams(m.Name(), m.RequiredParams(), args)
}

func (m *TemplateModule) renderContent(args map[string]any, mctx *Context) (string, error) {
	src, _ := StringArg(args, "src")
	raw, err := os.ReadFile(src)
	if err != nil {
		return "", err
	}
	return m.renderer().Render(string(raw), mctx.Vars)
}

func (m *TemplateModule) Execute(ctx context.Context, args map[string]any, mctx *Context) (Result, error) {
	dest, _ := StringArg(args, "dest")
	rendered, err := m.renderContent(args, mctx)
	if err != nil {
		return Failed("template render failed: "+err.Error(), err), nil
	}
	checksum := sha256Hex(rendered)
	existing, statErr := (&StatModule{}).statRemote(ctx, dest, mctx)
	if statErr == nil && existing.exists && existing.checksum == checksum {
		return Result{Status: StatusOK, Message: "template already up to date", Data: map[string]any{"dest": dest, "checksum": checksum}}, nil
	}
	if mctx.CheckMode {
		return Result{Status: StatusChanged, Message: "check mode: would render " + dest, Data: map[string]any{"dest": dest}}, nil
	}
	if mctx.Transport == nil {
		return Failed(m.Name()+": no transport bound", nil), nil
	}
	tmp, err := os.CreateTemp("", "conclave-template-*")
	if err != nil {
		return Failed(err.Error(), err), nil
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(rendered); err != nil {
		tmp.Close()
		return Failed(err.Error(), err), nil
	}
	tmp.Close()
	if err := mctx.Transport.Upload(ctx, tmp.Name(), dest); err != nil {
		return Failed("upload failed: "+err.Error(), err), nil
	}
	return Result{Status: StatusChanged, Message: "template rendered", Data: map[string]any{"dest": dest, "checksum": checksum}}, nil
}

func (m *TemplateModule) Check(ctx context.Context, args map[string]any, mctx *Context) (Result, error) {
	dest, _ := StringArg(args, "dest")
	rendered, err := m.renderContent(args, mctx)
	if err != nil {
		return Failed("template render failed: "+err.Error(), err), nil
	}
	checksum := sha256Hex(rendered)
	existing, statErr := (&StatModule{}).statRemote(ctx, dest, mctx)
	if statErr == nil && existing.exists && existing.checksum == checksum {
		return Result{Status: StatusOK, Message: "template already up to date", Data: map[string]any{"dest": dest}}, nil
	}
	return Result{Status: StatusChanged, Message: "would render " + dest, Data: map[string]any{"dest": dest}}, nil
}

func (m *TemplateModule) Diff(ctx context.Context, args map[string]any, mctx *Context) (*Diff, error) {
	dest, _ := StringArg(args, "dest")
	rendered, err := m.renderContent(args, mctx)
	if err != nil {
		return nil, err
	}
	before := ""
	if raw, err := os.ReadFile(dest); err == nil {
		before = string(raw)
	}
	return &Diff{Before: before, After: rendered}, nil
}
