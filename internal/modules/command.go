package modules

import (
	"context"
	"fmt"
)

// CommandModule runs an arbitrary command on the target host. With
// UseShell it is registered as "shell": no argument-splitting safety, the
// line is handed to the remote shell verbatim.
type CommandModule struct {
	UseShell bool
}

func (m *CommandModule) Name() string {
	if m.UseShell {
		return "shell"
	}
	return "command"
}

func (m *CommandModule) Classification() Classification { return RemoteCommand }

func (m *CommandModule) ParallelizationHint() ParallelizationHint {
	return ParallelizationHint{Kind: FullyParallel}
}

func (m *CommandModule) RequiredParams() []string { return nil }

func (m *CommandModule) ValidateParams(args map[string]any) error {
	if _, ok := StringArg(args, "_raw"); ok {
		return nil
	}
	if _, ok := StringArg(args, "cmd"); ok {
		return nil
	}
	return &InvalidParameterError{Module: m.Name(), Parameter: "cmd", Reason: "command text is required"}
}

func (m *CommandModule) commandLine(args map[string]any) string {
	if raw, ok := StringArg(args, "_raw"); ok {
		return raw
	}
	cmd, _ := StringArg(args, "cmd")
	return cmd
}

func (m *CommandModule) Execute(ctx context.Context, args map[string]any, mctx *Context) (Result, error) {
	if mctx.CheckMode {
		return Result{Status: StatusSkipped, Message: "check mode: command not executed", Data: map[string]any{}}, nil
	}
	if mctx.Transport == nil {
		return Failed(m.Name()+": no transport bound", nil), nil
	}
	cmdline := m.commandLine(args)
	opts := map[string]any{
		"become":      mctx.Become.Method,
		"become_user": mctx.Become.User,
	}
	if len(mctx.Env) > 0 {
		opts["env"] = mctx.Env
	}
	stdout, stderr, exitCode, err := mctx.Transport.Execute(ctx, cmdline, opts)
	result := Result{
		Data: map[string]any{
			"cmd":      cmdline,
			"stdout":   stdout,
			"stderr":   stderr,
			"rc":       exitCode,
			"start":    nil,
			"end":      nil,
		},
	}
	if err != nil {
		result.Status = StatusFailed
		result.Message = fmt.Sprintf("command failed: %v", err)
		result.Error = err
		return result, nil
	}
	if exitCode != 0 {
		result.Status = StatusFailed
		result.Message = fmt.Sprintf("non-zero return code: %d", exitCode)
		return result, nil
	}
	result.Status = StatusChanged
	result.Message = "command ran"
	return result, nil
}

func (m *CommandModule) Check(ctx context.Context, args map[string]any, mctx *Context) (Result, error) {
	return Result{Status: StatusSkipped, Message: "command module has no reliable check-mode prediction", Data: map[string]any{"cmd": m.commandLine(args)}}, nil
}

func (m *CommandModule) Diff(ctx context.Context, args map[string]any, mctx *Context) (*Diff, error) {
	return nil, nil
}
