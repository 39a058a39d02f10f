package modules

import "context"

// DebugModule prints a message or a variable's value; it never touches
// the target. msg and var are both optional, msg wins when both are set.
type DebugModule struct{}

func (m *DebugModule) Name() string                  { return "debug" }
func (m *DebugModule) Classification() Classification { return LocalLogic }
func (m *DebugModule) ParallelizationHint() ParallelizationHint {
	return ParallelizationHint{Kind: FullyParallel}
}
func (m *DebugModule) RequiredParams() []string { return nil }

func (m *DebugModule) ValidateParams(args map[string]any) error {
	return nil
}

func (m *DebugModule) Execute(ctx context.Context, args map[string]any, mctx *Context) (Result, error) {
	if msg, ok := StringArg(args, "msg"); ok {
		return OK(msg).WithData("msg", msg), nil
	}
	if varName, ok := StringArg(args, "var"); ok {
		val, _ := mctx.Vars[varName]
		return OK(varName).WithData("msg", val), nil
	}
	return OK("Hello world!").WithData("msg", "Hello world!"), nil
}

func (m *DebugModule) Check(ctx context.Context, args map[string]any, mctx *Context) (Result, error) {
	return m.Execute(ctx, args, mctx)
}

func (m *DebugModule) Diff(ctx context.Context, args map[string]any, mctx *Context) (*Diff, error) {
	return nil, nil
}
