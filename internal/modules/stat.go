package modules

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// StatModule reports facts about a path on the target, and backs the
// content-comparison checks CopyModule and TemplateModule use to decide
// changed-ness without writing first (determining no-change without a
// side effect keeps them idempotent).
type StatModule struct{}

func (m *StatModule) Name() string                  { return "stat" }
func (m *StatModule) Classification() Classification { return RemoteCommand }
func (m *StatModule) ParallelizationHint() ParallelizationHint {
	return ParallelizationHint{Kind: FullyParallel}
}
func (m *StatModule) RequiredParams() []string { return []string{"path"} }

func (m *StatModule) ValidateParams(args map[string]any) error {
	return RequireParams(m.Name(), m.RequiredParams(), args)
}

type statInfo struct {
	exists   bool
	checksum string
	size     int64
	mode     string
}

// statRemote runs a small checksum-and-stat probe over the bound
// transport. It never mutates the target, so CopyModule/TemplateModule can
// call it from both Execute and Check.
func (m *StatModule) statRemote(ctx context.Context, path string, mctx *Context) (statInfo, error) {
	if mctx.Transport == nil {
		return statInfo{}, fmt.Errorf("stat: no transport bound")
	}
	cmd := fmt.Sprintf("sha256sum %s 2>/dev/null && stat -c '%%s %%a' %s 2>/dev/null", shellQuote(path), shellQuote(path))
	stdout, _, exitCode, err := mctx.Transport.Execute(ctx, cmd, nil)
	if err != nil || exitCode != 0 {
		return statInfo{exists: false}, nil
	}
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return statInfo{exists: false}, nil
	}
	sumFields := strings.Fields(lines[0])
	if len(sumFields) == 0 {
		return statInfo{exists: false}, nil
	}
	info := statInfo{exists: true, checksum: sumFields[0]}
	if len(lines) > 1 {
		statFields := strings.Fields(lines[1])
		if len(statFields) == 2 {
			if size, err := strconv.ParseInt(statFields[0], 10, 64); err == nil {
				info.size = size
			}
			info.mode = statFields[1]
		}
	}
	return info, nil
}

func (m *StatModule) Execute(ctx context.Context, args map[string]any, mctx *Context) (Result, error) {
	path, _ := StringArg(args, "path")
	info, err := m.statRemote(ctx, path, mctx)
	if err != nil {
		return Failed(err.Error(), err), nil
	}
	return OK("stat complete").
		WithData("path", path).
		WithData("exists", info.exists).
		WithData("checksum", info.checksum).
		WithData("size", info.size).
		WithData("mode", info.mode), nil
}

func (m *StatModule) Check(ctx context.Context, args map[string]any, mctx *Context) (Result, error) {
	return m.Execute(ctx, args, mctx)
}

func (m *StatModule) Diff(ctx context.Context, args map[string]any, mctx *Context) (*Diff, error) {
	return nil, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
