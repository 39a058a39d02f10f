// Package modules implements the module contract, lazy registry, and the
// built-in module set.
package modules

import (
	"context"
	"fmt"
)

// Classification selects where execute/check/diff run.
type Classification int

const (
	LocalLogic Classification = iota
	RemoteCommand
	NativeTransport
)

// ParallelizationHintKind tags the shape of a module's concurrency
// requirement.
type ParallelizationHintKind int

const (
	FullyParallel ParallelizationHintKind = iota
	HostExclusive
	RateLimited
	GlobalExclusive
)

// ParallelizationHint is a module's declared concurrency requirement. RPS is
// meaningful only when Kind == RateLimited.
type ParallelizationHint struct {
	Kind ParallelizationHintKind
	RPS  float64
}

// Transport is the minimal connection capability a module needs; it is the
// interface transport.Connection satisfies, declared here to avoid an
// import cycle between modules and transport.
type Transport interface {
	Execute(ctx context.Context, cmd string, opts map[string]any) (stdout, stderr string, exitCode int, err error)
	Upload(ctx context.Context, local, remote string) error
	Download(ctx context.Context, remote, local string) error
}

// Become carries the privilege-escalation configuration visible to a
// module's execute/check/diff calls.
type Become struct {
	Method string
	User   string
}

// Context is what a Module's execute/check/diff operate against: the
// resolved variable snapshot, facts, a borrowed transport handle, the
// check-mode and diff-mode flags, and the become configuration.
type Context struct {
	Vars      map[string]any
	Facts     map[string]any
	Transport Transport
	CheckMode bool
	DiffMode  bool
	Become    Become
	HostName  string
	Env       map[string]string
}

// Status is a module's terminal outcome classification.
type Status int

const (
	StatusOK Status = iota
	StatusChanged
	StatusFailed
	StatusSkipped
	StatusUnreachable
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusChanged:
		return "changed"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	case StatusUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// Result is a module invocation's outcome.
type Result struct {
	Status  Status
	Message string
	Data    map[string]any
	Error   error
}

func OK(msg string) Result      { return Result{Status: StatusOK, Message: msg, Data: map[string]any{}} }
func Changed(msg string) Result { return Result{Status: StatusChanged, Message: msg, Data: map[string]any{}} }
func Skipped(msg string) Result { return Result{Status: StatusSkipped, Message: msg, Data: map[string]any{}} }
func Failed(msg string, err error) Result {
	return Result{Status: StatusFailed, Message: msg, Data: map[string]any{}, Error: err}
}

// WithData attaches a data key, returning the Result for chaining.
func (r Result) WithData(key string, value any) Result {
	if r.Data == nil {
		r.Data = map[string]any{}
	}
	r.Data[key] = value
	return r
}

// Diff is a module's before/after rendering for --diff mode.
type Diff struct {
	Before string
	After  string
}

// InvalidParameterError names the offending argument (the
// validate_params contract).
type InvalidParameterError struct {
	Module    string
	Parameter string
	Reason    string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("module %s: invalid parameter %q: %s", e.Module, e.Parameter, e.Reason)
}

// NotFoundError is returned when a module name is absent from both the
// built-in registry and the fallback executor.
type NotFoundError struct{ Name string }

func (e *NotFoundError) Error() string { return fmt.Sprintf("module not found: %s", e.Name) }

// Module is the uniform contract every built-in and fallback-wrapped module
// implements.
type Module interface {
	Name() string
	Classification() Classification
	ParallelizationHint() ParallelizationHint
	RequiredParams() []string
	ValidateParams(args map[string]any) error
	Execute(ctx context.Context, args map[string]any, mctx *Context) (Result, error)
	Check(ctx context.Context, args map[string]any, mctx *Context) (Result, error)
	Diff(ctx context.Context, args map[string]any, mctx *Context) (*Diff, error)
}

// RequireParams is a shared ValidateParams helper: it fails with
// InvalidParameterError naming the first missing required parameter.
func RequireParams(moduleName string, required []string, args map[string]any) error {
	for _, name := range required {
		if _, ok := args[name]; !ok {
			return &InvalidParameterError{Module: moduleName, Parameter: name, Reason: "required parameter missing"}
		}
	}
	return nil
}

// StringArg reads a string argument, coercing non-string scalars via
// fmt.Sprint (YAML often hands back bools/ints for bareword values).
func StringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

// BoolArg reads a boolean argument, defaulting to def when absent or
// non-boolean.
func BoolArg(args map[string]any, key string, def bool) bool {
	v, ok := args[key]
	if !ok {
		return def
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}
