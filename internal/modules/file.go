package modules

import (
	"context"
	"fmt"
	"strconv"
)

// FileModule manages a remote path's existence/type/mode: state
// present|absent|directory|touch, converging with stat-over-connection
// reads before any write.
type FileModule struct{}

func (m *FileModule) Name() string                  { return "file" }
func (m *FileModule) Classification() Classification { return RemoteCommand }
func (m *FileModule) ParallelizationHint() ParallelizationHint {
	return ParallelizationHint{Kind: FullyParallel}
}
func (m *FileModule) RequiredParams() []string { return []string{"path"} }

func (m *FileModule) ValidateParams(args map[string]any) error {
	if err := RequireParams(m.Name(), m.RequiredParams(), args); err != nil {
		return err
	}
	state, ok := StringArg(args, "state")
	if ok {
		switch state {
		case "present", "absent", "directory", "touch":
		default:
			return &InvalidParameterError{Module: m.Name(), Parameter: "state", Reason: "must be one of present, absent, directory, touch"}
		}
	}
	return nil
}

func (m *FileModule) run(ctx context.Context, args map[string]any, mctx *Context, apply bool) (Result, error) {
	path, _ := StringArg(args, "path")
	state, ok := StringArg(args, "state")
	if !ok {
		state = "file"
	}
	info, err := (&StatModule{}).statRemote(ctx, path, mctx)
	if err != nil {
		return Failed(err.Error(), err), nil
	}

	var cmd string
	var changedMsg string
	switch state {
	case "absent":
		if !info.exists {
			return OK(fmt.Sprintf("%q already absent", path)), nil
		}
		cmd = "rm -rf " + shellQuote(path)
		changedMsg = fmt.Sprintf("removed %q", path)
	case "directory":
		if info.exists && info.mode != "" {
			return OK(fmt.Sprintf("%q already a directory", path)), nil
		}
		cmd = "mkdir -p " + shellQuote(path)
		changedMsg = fmt.Sprintf("created directory %q", path)
	case "touch":
		cmd = "touch " + shellQuote(path)
		if info.exists {
			changedMsg = fmt.Sprintf("updated timestamp on %q", path)
		} else {
			changedMsg = fmt.Sprintf("created %q", path)
		}
	default: // "present"/"file"
		if info.exists {
			return OK(fmt.Sprintf("%q already present", path)), nil
		}
		return Failed(fmt.Sprintf("%q does not exist and state=file does not create content", path), nil), nil
	}

	if mode, ok := StringArg(args, "mode"); ok && cmd != "" {
		if _, err := strconv.ParseUint(mode, 8, 32); err == nil {
			cmd += fmt.Sprintf(" && chmod %s %s", mode, shellQuote(path))
		}
	}

	if !apply {
		return Changed("check mode: " + changedMsg), nil
	}
	if mctx.Transport == nil {
		return Failed(m.Name()+": no transport bound", nil), nil
	}
	if _, _, exitCode, err := mctx.Transport.Execute(ctx, cmd, nil); err != nil || exitCode != 0 {
		return Failed(fmt.Sprintf("file operation failed for %q", path), err), nil
	}
	return Changed(changedMsg), nil
}

func (m *FileModule) Execute(ctx context.Context, args map[string]any, mctx *Context) (Result, error) {
	return m.run(ctx, args, mctx, !mctx.CheckMode)
}

func (m *FileModule) Check(ctx context.Context, args map[string]any, mctx *Context) (Result, error) {
	return m.run(ctx, args, mctx, false)
}

func (m *FileModule) Diff(ctx context.Context, args map[string]any, mctx *Context) (*Diff, error) {
	path, _ := StringArg(args, "path")
	info, err := (&StatModule{}).statRemote(ctx, path, mctx)
	if err != nil {
		return nil, err
	}
	state, _ := StringArg(args, "state")
	before := "absent"
	if info.exists {
		before = "present"
	}
	after := before
	if state == "absent" {
		after = "absent"
	} else if state == "directory" || state == "touch" {
		after = "present"
	}
	if before == after {
		return nil, nil
	}
	return &Diff{Before: "state: " + before, After: "state: " + after}, nil
}
