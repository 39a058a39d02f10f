package playbook

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// reservedTaskKeys are task-mapping keys the loader interprets as task
// attributes rather than as a module name.
var reservedTaskKeys = map[string]struct{}{
	"name": {}, "when": {}, "loop": {}, "with_items": {}, "register": {},
	"notify": {}, "tags": {}, "ignore_errors": {}, "retries": {}, "delay": {},
	"changed_when": {}, "failed_when": {}, "no_log": {}, "become": {},
	"become_user": {}, "become_method": {}, "block": {}, "rescue": {},
	"always": {}, "vars": {}, "environment": {}, "delegate_to": {},
	"run_once": {}, "module": {}, "args": {}, "include_tasks": {},
	"import_tasks": {}, "loop_control": {},
}

// RoleSearchPath configures where role discovery probes, in order.
type RoleSearchPath []string

// Loader reads playbook and role YAML from disk, statically expanding
// import_tasks and resolving role dependencies as it goes.
type Loader struct {
	RoleSearch RoleSearchPath
	roleCache  map[string]*Role

	// depSeen/depList accumulate every file the current LoadFile touches
	// beyond the playbook itself, for the parse cache's dependency
	// fingerprints. depMu guards them: dynamic includes resolved at run
	// time can reach noteDep from concurrent per-host pipelines.
	depMu   sync.Mutex
	depSeen map[string]struct{}
	depList []string
}

// NewLoader returns a Loader probing searchPath, in order, for role
// directories.
func NewLoader(searchPath ...string) *Loader {
	return &Loader{RoleSearch: searchPath, roleCache: map[string]*Role{}}
}

// LoadFile reads a top-level playbook file: a YAML sequence of play
// mappings.
func (l *Loader) LoadFile(path string) (*Playbook, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("playbook: read %s: %w", path, err)
	}
	var rawPlays []map[string]any
	if err := yaml.Unmarshal(raw, &rawPlays); err != nil {
		return nil, fmt.Errorf("playbook: parse %s: %w", path, err)
	}
	l.depMu.Lock()
	l.depSeen = map[string]struct{}{}
	l.depList = nil
	l.depMu.Unlock()
	pb := &Playbook{SourcePath: path}
	baseDir := filepath.Dir(path)
	for i, rp := range rawPlays {
		play, err := l.parsePlay(rp, baseDir)
		if err != nil {
			return nil, fmt.Errorf("playbook: %s: play #%d: %w", path, i, err)
		}
		play.SourceFile = path
		pb.Plays = append(pb.Plays, play)
	}
	l.depMu.Lock()
	pb.Dependencies = append([]string{}, l.depList...)
	l.depMu.Unlock()
	return pb, nil
}

// noteDep records path as a dependency of the playbook currently being
// loaded. Paths are recorded whether or not they exist: a vars_file or
// role file that appears later must also invalidate the cached parse.
func (l *Loader) noteDep(path string) {
	l.depMu.Lock()
	defer l.depMu.Unlock()
	if l.depSeen == nil {
		l.depSeen = map[string]struct{}{}
	}
	if _, ok := l.depSeen[path]; ok {
		return
	}
	l.depSeen[path] = struct{}{}
	l.depList = append(l.depList, path)
}

// loadTaskFile reads a task-sequence YAML file, recording it as a parse
// dependency.
func (l *Loader) loadTaskFile(path string) []any {
	l.noteDep(path)
	return mustLoadTaskFile(path)
}

func (l *Loader) parsePlay(raw map[string]any, baseDir string) (*Play, error) {
	p := &Play{
		GatherFacts: true,
		Strategy:    StrategyLinear,
	}
	if v, ok := raw["name"]; ok {
		p.Name = fmt.Sprint(v)
	}
	if v, ok := raw["hosts"]; ok {
		p.HostPattern = fmt.Sprint(v)
	}
	if v, ok := raw["gather_facts"].(bool); ok {
		p.GatherFacts = v
	}
	if v, ok := raw["become"]; ok {
		p.Become = BecomeMethod(fmt.Sprint(v))
	}
	if v, ok := raw["become_user"]; ok {
		p.BecomeUser = fmt.Sprint(v)
	}
	if v, ok := raw["vars"].(map[string]any); ok {
		p.Vars = v
	}
	if v, ok := raw["vars_files"].([]any); ok {
		for _, f := range v {
			vf := fmt.Sprint(f)
			p.VarsFiles = append(p.VarsFiles, vf)
			// vars_files are read at run time, but their content still
			// shapes the run — record them for cache invalidation now.
			if filepath.IsAbs(vf) {
				l.noteDep(vf)
			} else {
				l.noteDep(filepath.Join(baseDir, vf))
			}
		}
	}
	if v, ok := raw["strategy"]; ok {
		p.Strategy = Strategy(fmt.Sprint(v))
	}
	if v, ok := toIntField(raw["serial"]); ok {
		p.Serial = v
	}
	if v, ok := raw["any_errors_fatal"].(bool); ok {
		p.AnyErrorsFatal = v
	}
	if v, ok := raw["force_handlers"].(bool); ok {
		p.ForceHandlers = v
	}
	p.Tags = toStringSlice(raw["tags"])

	var err error
	if p.PreTasks, err = l.parseTaskSeq(raw["pre_tasks"], baseDir); err != nil {
		return nil, err
	}
	if p.Tasks, err = l.parseTaskSeq(raw["tasks"], baseDir); err != nil {
		return nil, err
	}
	if p.PostTasks, err = l.parseTaskSeq(raw["post_tasks"], baseDir); err != nil {
		return nil, err
	}
	if p.Handlers, err = l.parseHandlerSeq(raw["handlers"], baseDir); err != nil {
		return nil, err
	}
	if p.Roles, err = l.parseRoles(raw["roles"]); err != nil {
		return nil, err
	}
	var roleTasks []*Task
	for _, ri := range p.Roles {
		role, err := l.resolveRole(ri.Name)
		if err != nil {
			return nil, err
		}
		ri.resolved = role
		// Clone each inlined role task so tag inheritance doesn't leak into
		// the loader's role cache (roles can be reused across plays with
		// different tags at the point of inclusion).
		for _, rt := range role.Tasks {
			ct := *rt
			ct.Tags = append(append([]string{}, ri.Tags...), rt.Tags...)
			roleTasks = append(roleTasks, &ct)
		}
		p.Handlers = append(p.Handlers, role.Handlers...)
	}
	if len(roleTasks) > 0 {
		p.Tasks = append(roleTasks, p.Tasks...)
	}
	return p, nil
}

func (l *Loader) parseTaskSeq(raw any, baseDir string) ([]*Task, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, nil
	}
	var out []*Task
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("task #%d: expected a mapping", i)
		}
		t, err := l.parseTask(m, baseDir)
		if err != nil {
			return nil, fmt.Errorf("task #%d: %w", i, err)
		}
		if t == nil {
			continue
		}
		out = append(out, t...)
	}
	return out, nil
}

// parseTask returns a slice since a static import_tasks expands to zero or
// more inlined tasks in place.
func (l *Loader) parseTask(m map[string]any, baseDir string) ([]*Task, error) {
	t := &Task{}
	if v, ok := m["name"]; ok {
		t.Name = fmt.Sprint(v)
	}
	t.When = stringField(m["when"])
	t.Loop = loopField(m)
	t.LoopVar = "item"
	if lc, ok := m["loop_control"].(map[string]any); ok {
		if v, ok := lc["loop_var"]; ok {
			t.LoopVar = fmt.Sprint(v)
		}
	}
	if v, ok := m["register"]; ok {
		t.Register = fmt.Sprint(v)
	}
	t.Notify = toStringSlice(m["notify"])
	t.Tags = toStringSlice(m["tags"])
	if v, ok := m["ignore_errors"].(bool); ok {
		t.IgnoreErrors = v
	}
	if v, ok := toIntField(m["retries"]); ok {
		t.Retries = v
	}
	if v, ok := toIntField(m["delay"]); ok {
		t.Delay = v
	}
	t.ChangedWhen = stringField(m["changed_when"])
	t.FailedWhen = stringField(m["failed_when"])
	if v, ok := m["no_log"].(bool); ok {
		t.NoLog = v
	}
	if v, ok := m["become"]; ok {
		t.Become = BecomeMethod(fmt.Sprint(v))
	}
	if v, ok := m["become_user"]; ok {
		t.BecomeUser = fmt.Sprint(v)
	}
	if v, ok := m["vars"].(map[string]any); ok {
		t.Vars = v
	}
	if v, ok := m["environment"].(map[string]any); ok {
		t.Environment = map[string]string{}
		for k, val := range v {
			t.Environment[k] = fmt.Sprint(val)
		}
	}
	if v, ok := m["delegate_to"]; ok {
		t.DelegateTo = fmt.Sprint(v)
	}
	if v, ok := m["run_once"].(bool); ok {
		t.RunOnce = v
	}

	switch {
	case m["block"] != nil:
		t.Kind = TaskBlock
		var err error
		if t.Block, err = l.parseTaskSeq(m["block"], baseDir); err != nil {
			return nil, err
		}
		if t.Rescue, err = l.parseTaskSeq(m["rescue"], baseDir); err != nil {
			return nil, err
		}
		if t.Always, err = l.parseTaskSeq(m["always"], baseDir); err != nil {
			return nil, err
		}
		return []*Task{t}, nil

	case m["import_tasks"] != nil:
		file := fmt.Sprint(m["import_tasks"])
		resolved, err := safeJoin(baseDir, file)
		if err != nil {
			return nil, err
		}
		inlined, err := l.parseTaskSeq(l.loadTaskFile(resolved), filepath.Dir(resolved))
		if err != nil {
			return nil, fmt.Errorf("import_tasks %s: %w", file, err)
		}
		for _, it := range inlined {
			it.Tags = append(append([]string{}, t.Tags...), it.Tags...)
		}
		return inlined, nil

	case m["include_tasks"] != nil:
		t.Kind = TaskInclude
		t.IncludeMode = IncludeDynamic
		t.IncludeFile = fmt.Sprint(m["include_tasks"])
		if v, ok := m["vars"].(map[string]any); ok {
			t.IncludeVars = v
		}
		return []*Task{t}, nil

	default:
		for key, val := range m {
			if _, reserved := reservedTaskKeys[key]; reserved {
				continue
			}
			t.Kind = TaskAtomic
			t.Module = key
			if argMap, ok := val.(map[string]any); ok {
				t.Args = argMap
			} else {
				t.Args = map[string]any{"_raw": val}
			}
			break
		}
		if v, ok := m["module"]; ok && t.Module == "" {
			t.Module = fmt.Sprint(v)
			if args, ok := m["args"].(map[string]any); ok {
				t.Args = args
			}
		}
		if t.Module == "" {
			return nil, fmt.Errorf("task %q: no module key recognized", t.Name)
		}
		return []*Task{t}, nil
	}
}

func (l *Loader) parseHandlerSeq(raw any, baseDir string) ([]*Handler, error) {
	tasks, err := l.parseTaskSeq(raw, baseDir)
	if err != nil {
		return nil, err
	}
	out := make([]*Handler, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, &Handler{Task: *t, Names: []string{t.Name}})
	}
	return out, nil
}

func (l *Loader) parseRoles(raw any) ([]*RoleInclude, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, nil
	}
	var out []*RoleInclude
	for _, item := range items {
		switch v := item.(type) {
		case string:
			out = append(out, &RoleInclude{Name: v})
		case map[string]any:
			ri := &RoleInclude{}
			if name, ok := v["role"]; ok {
				ri.Name = fmt.Sprint(name)
			}
			ri.Tags = toStringSlice(v["tags"])
			params := map[string]any{}
			for k, val := range v {
				if k == "role" || k == "tags" {
					continue
				}
				params[k] = val
			}
			ri.Params = params
			out = append(out, ri)
		default:
			return nil, fmt.Errorf("role entry: unrecognized shape %T", item)
		}
	}
	return out, nil
}

func toStringSlice(raw any) []string {
	switch v := raw.(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, it := range v {
			out = append(out, fmt.Sprint(it))
		}
		return out
	case string:
		return []string{v}
	default:
		return nil
	}
}

func toIntField(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func stringField(raw any) string {
	if raw == nil {
		return ""
	}
	return fmt.Sprint(raw)
}

func loopField(m map[string]any) []any {
	if v, ok := m["loop"].([]any); ok {
		return v
	}
	if v, ok := m["with_items"].([]any); ok {
		return v
	}
	return nil
}

func mustLoadTaskFile(path string) []any {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var seq []any
	_ = yaml.Unmarshal(raw, &seq)
	return seq
}
