// Package fallback executes legacy Python modules that have no native
// implementation: it locates the module source on a search
// path, bundles source and arguments into a self-contained bootstrap
// script, runs that through the task's transport in a single command, and
// maps the module's JSON output back onto the ModuleResult contract.
package fallback

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"conclave/internal/modules"
)

// Executor resolves module names to legacy source files. It satisfies
// modules.FallbackExecutor, so the registry consults it on lookup miss.
type Executor struct {
	SearchPath []string

	mu    sync.Mutex
	found map[string]string // module name -> source path
}

// NewExecutor returns an Executor probing searchPath in order. Callers
// append ANSIBLE_LIBRARY-style paths from configuration.
func NewExecutor(searchPath ...string) *Executor {
	return &Executor{SearchPath: searchPath, found: map[string]string{}}
}

// Resolve locates name's source file and wraps it as a Module. A miss
// returns false so the registry can report ModuleNotFound.
func (e *Executor) Resolve(name string) (modules.Module, bool) {
	path, ok := e.findModule(name)
	if !ok {
		return nil, false
	}
	return &legacyModule{name: name, sourcePath: path}, true
}

// findModule probes the search path for <name>.py, using the last FQCN
// segment for qualified references, and descends one directory level the
// way collection layouts organize modules by category.
func (e *Executor) findModule(name string) (string, bool) {
	e.mu.Lock()
	if path, ok := e.found[name]; ok {
		e.mu.Unlock()
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
		delete(e.found, name)
	}
	e.mu.Unlock()

	short := name
	if idx := strings.LastIndexByte(name, '.'); idx >= 0 {
		short = name[idx+1:]
	}

	for _, base := range e.SearchPath {
		direct := filepath.Join(base, short+".py")
		if _, err := os.Stat(direct); err == nil {
			e.remember(name, direct)
			return direct, true
		}
		entries, err := os.ReadDir(base)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			nested := filepath.Join(base, entry.Name(), short+".py")
			if _, err := os.Stat(nested); err == nil {
				e.remember(name, nested)
				return nested, true
			}
		}
	}
	return "", false
}

func (e *Executor) remember(name, path string) {
	e.mu.Lock()
	e.found[name] = path
	e.mu.Unlock()
}

// legacyModule adapts one located legacy source file to the Module
// contract. Execution mechanics are the only difference from a native
// module; the contract surface is identical.
type legacyModule struct {
	name       string
	sourcePath string
}

func (m *legacyModule) Name() string                           { return m.name }
func (m *legacyModule) Classification() modules.Classification { return modules.RemoteCommand }
func (m *legacyModule) ParallelizationHint() modules.ParallelizationHint {
	return modules.ParallelizationHint{Kind: modules.FullyParallel}
}
func (m *legacyModule) RequiredParams() []string { return nil }

// ValidateParams cannot see inside the legacy module's own argument spec;
// the module validates on the remote side and reports through its JSON
// result.
func (m *legacyModule) ValidateParams(map[string]any) error { return nil }

func (m *legacyModule) Execute(ctx context.Context, args map[string]any, mctx *modules.Context) (modules.Result, error) {
	return m.run(ctx, args, mctx, false)
}

func (m *legacyModule) Check(ctx context.Context, args map[string]any, mctx *modules.Context) (modules.Result, error) {
	return m.run(ctx, args, mctx, true)
}

func (m *legacyModule) Diff(context.Context, map[string]any, *modules.Context) (*modules.Diff, error) {
	return nil, nil
}

func (m *legacyModule) run(ctx context.Context, args map[string]any, mctx *modules.Context, checkMode bool) (modules.Result, error) {
	if mctx.Transport == nil {
		return modules.Failed(m.name+": no transport bound", nil), nil
	}
	source, err := os.ReadFile(m.sourcePath)
	if err != nil {
		return modules.Failed(fmt.Sprintf("%s: read module source: %v", m.name, err), err), nil
	}

	merged := make(map[string]any, len(args)+1)
	for k, v := range args {
		merged[k] = v
	}
	if checkMode {
		merged["_ansible_check_mode"] = true
	}

	cmdline, err := BuildCommand(interpreterFor(mctx), m.name, source, merged)
	if err != nil {
		return modules.Failed(fmt.Sprintf("%s: build wrapper: %v", m.name, err), err), nil
	}

	stdout, stderr, exitCode, err := mctx.Transport.Execute(ctx, cmdline, map[string]any{
		"become":      mctx.Become.Method,
		"become_user": mctx.Become.User,
	})
	if err != nil {
		return modules.Failed(fmt.Sprintf("%s: %v", m.name, err), err), nil
	}

	parsed, perr := ParseResult(stdout)
	if perr != nil {
		msg := fmt.Sprintf("%s: no JSON result on stdout (rc=%d)", m.name, exitCode)
		if stderr != "" {
			msg += ": " + stderr
		}
		return modules.Failed(msg, perr), nil
	}
	return MapResult(parsed), nil
}

func interpreterFor(mctx *modules.Context) string {
	if v, ok := mctx.Vars["ansible_python_interpreter"].(string); ok && v != "" {
		return v
	}
	return "python3"
}

// bootstrapTemplate is the self-contained wrapper executed on the remote:
// module source and arguments travel inside the command line itself so
// pipelined transports need no extra file-transfer round-trips.
// Placeholders: source b64, args b64, module short name.
const bootstrapTemplate = `import base64, json, os, shutil, sys, tempfile
src = base64.b64decode("%s")
args = json.loads(base64.b64decode("%s").decode("utf-8"))
tmpdir = tempfile.mkdtemp(prefix="conclave.")
module_path = os.path.join(tmpdir, "%s.py")
args_path = os.path.join(tmpdir, "args.json")
with open(module_path, "wb") as f:
    f.write(src)
with open(args_path, "w") as f:
    json.dump({"ANSIBLE_MODULE_ARGS": args}, f)
sys.argv = [module_path, args_path]
try:
    with open(module_path) as f:
        code = compile(f.read(), module_path, "exec")
    exec(code, {"__name__": "__main__", "__file__": module_path})
finally:
    shutil.rmtree(tmpdir, ignore_errors=True)
`

// BuildCommand assembles the single command line that runs the wrapped
// module: the bootstrap itself is base64-encoded a second time so the
// command line contains only shell-inert characters.
func BuildCommand(interpreter, moduleName string, source []byte, args map[string]any) (string, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("serialize arguments: %w", err)
	}
	short := moduleName
	if idx := strings.LastIndexByte(short, '.'); idx >= 0 {
		short = short[idx+1:]
	}
	bootstrap := fmt.Sprintf(bootstrapTemplate,
		base64.StdEncoding.EncodeToString(source),
		base64.StdEncoding.EncodeToString(argsJSON),
		short,
	)
	encoded := base64.StdEncoding.EncodeToString([]byte(bootstrap))
	return fmt.Sprintf(`%s -c 'import base64; exec(base64.b64decode("%s").decode("utf-8"))'`, interpreter, encoded), nil
}

// ParseResult extracts the final JSON object from stdout, scanning past
// any non-JSON preamble the module or its environment printed first.
func ParseResult(stdout string) (map[string]any, error) {
	text := strings.TrimSpace(stdout)
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		var out map[string]any
		if err := json.Unmarshal([]byte(text[i:]), &out); err == nil {
			return out, nil
		}
	}
	return nil, fmt.Errorf("no parseable JSON object in module output")
}

// MapResult translates the legacy result document onto ModuleResult:
// changed/failed/msg/skipped are canonical, everything else lands in the
// result mapping verbatim.
func MapResult(doc map[string]any) modules.Result {
	res := modules.Result{Data: map[string]any{}}
	changed, _ := doc["changed"].(bool)
	failed, _ := doc["failed"].(bool)
	skipped, _ := doc["skipped"].(bool)
	msg, _ := doc["msg"].(string)

	switch {
	case failed:
		res.Status = modules.StatusFailed
	case skipped:
		res.Status = modules.StatusSkipped
	case changed:
		res.Status = modules.StatusChanged
	default:
		res.Status = modules.StatusOK
	}
	res.Message = msg
	for k, v := range doc {
		switch k {
		case "changed", "failed", "skipped", "msg":
			continue
		}
		res.Data[k] = v
	}
	return res
}
