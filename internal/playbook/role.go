package playbook

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// resolveRole probes l.RoleSearch in order for a directory named after the
// role containing tasks/main.yml|yaml or meta/main.yml; the first match
// wins. Results are cached per Loader.
func (l *Loader) resolveRole(name string) (*Role, error) {
	if r, ok := l.roleCache[name]; ok {
		// A cache hit skips the file reads, but the role's files are still
		// dependencies of whatever playbook is being loaded right now.
		for _, f := range r.Files {
			l.noteDep(f)
		}
		return r, nil
	}
	var roleDir string
	for _, searchRoot := range l.RoleSearch {
		candidate := filepath.Join(searchRoot, name)
		if hasMainTasks(candidate) || hasMeta(candidate) {
			roleDir = candidate
			break
		}
	}
	if roleDir == "" {
		return nil, fmt.Errorf("role %q: not found in search path %v", name, l.RoleSearch)
	}

	role := &Role{Name: name, Path: roleDir}

	noteRoleFile := func(path string) {
		role.Files = append(role.Files, path)
		l.noteDep(path)
	}

	tasksFile := firstExisting(filepath.Join(roleDir, "tasks", "main.yml"), filepath.Join(roleDir, "tasks", "main.yaml"))
	if tasksFile != "" {
		noteRoleFile(tasksFile)
		tasks, err := l.parseTaskSeq(mustLoadTaskFile(tasksFile), filepath.Dir(tasksFile))
		if err != nil {
			return nil, fmt.Errorf("role %q tasks: %w", name, err)
		}
		role.Tasks = tasks
	}

	handlersFile := firstExisting(filepath.Join(roleDir, "handlers", "main.yml"), filepath.Join(roleDir, "handlers", "main.yaml"))
	if handlersFile != "" {
		noteRoleFile(handlersFile)
		handlers, err := l.parseHandlerSeq(mustLoadTaskFile(handlersFile), filepath.Dir(handlersFile))
		if err != nil {
			return nil, fmt.Errorf("role %q handlers: %w", name, err)
		}
		role.Handlers = handlers
	}

	defaultsFile := filepath.Join(roleDir, "defaults", "main.yml")
	varsFile := filepath.Join(roleDir, "vars", "main.yml")
	noteRoleFile(defaultsFile)
	noteRoleFile(varsFile)
	role.Defaults = loadVarsFile(defaultsFile)
	role.Vars = loadVarsFile(varsFile)

	if metaFile := firstExisting(filepath.Join(roleDir, "meta", "main.yml"), filepath.Join(roleDir, "meta", "main.yaml")); metaFile != "" {
		noteRoleFile(metaFile)
	}
	if deps, err := l.loadRoleDependencies(roleDir); err != nil {
		return nil, err
	} else if len(deps) > 0 {
		role.Dependencies = deps
		for _, dep := range deps {
			depRole, err := l.resolveRole(dep.Name)
			if err != nil {
				return nil, fmt.Errorf("role %q dependency: %w", name, err)
			}
			role.Tasks = append(append([]*Task{}, depRole.Tasks...), role.Tasks...)
			role.Handlers = append(depRole.Handlers, role.Handlers...)
			role.Files = append(role.Files, depRole.Files...)
		}
	}

	l.roleCache[name] = role
	return role, nil
}

func (l *Loader) loadRoleDependencies(roleDir string) ([]*RoleInclude, error) {
	metaFile := firstExisting(filepath.Join(roleDir, "meta", "main.yml"), filepath.Join(roleDir, "meta", "main.yaml"))
	if metaFile == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(metaFile)
	if err != nil {
		return nil, fmt.Errorf("role meta %s: %w", metaFile, err)
	}
	var meta struct {
		Dependencies []any `yaml:"dependencies"`
	}
	if err := yaml.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("role meta %s: %w", metaFile, err)
	}
	return l.parseRoles(meta.Dependencies)
}

func loadVarsFile(path string) map[string]any {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var vars map[string]any
	if err := yaml.Unmarshal(raw, &vars); err != nil {
		return nil
	}
	return vars
}

func hasMainTasks(roleDir string) bool {
	return firstExisting(filepath.Join(roleDir, "tasks", "main.yml"), filepath.Join(roleDir, "tasks", "main.yaml")) != ""
}

func hasMeta(roleDir string) bool {
	return firstExisting(filepath.Join(roleDir, "meta", "main.yml"), filepath.Join(roleDir, "meta", "main.yaml")) != ""
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
