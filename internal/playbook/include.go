package playbook

import (
	"fmt"
	"path/filepath"
	"strings"
)

// PathTraversalError reports an include/import path escaping its base
// directory.
type PathTraversalError struct {
	Base string
	Path string
}

func (e *PathTraversalError) Error() string {
	return fmt.Sprintf("path traversal: %q escapes base %q", e.Path, e.Base)
}

// safeJoin canonicalizes rel against base and rejects any result that is
// not a descendant of base, per the shared path-safety rule for includes
// and imports: absolute paths escaping the base, .. traversal, and
// symlinks that resolve outside base all fail.
func safeJoin(base, rel string) (string, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}
	absBase, err = filepath.EvalSymlinks(absBase)
	if err != nil {
		// Base itself might not exist yet in test fixtures; fall back to
		// the non-symlink-resolved absolute path rather than failing the
		// whole load.
		absBase, _ = filepath.Abs(base)
	}

	var joined string
	if filepath.IsAbs(rel) {
		joined = rel
	} else {
		joined = filepath.Join(absBase, rel)
	}
	clean := filepath.Clean(joined)

	if resolved, err := filepath.EvalSymlinks(clean); err == nil {
		clean = resolved
	}

	if clean != absBase && !strings.HasPrefix(clean, absBase+string(filepath.Separator)) {
		return "", &PathTraversalError{Base: absBase, Path: rel}
	}
	return clean, nil
}

// DynamicInclude is the resolved result of executing an include_tasks
// marker at runtime: the loaded task sequence plus the IncludeParams
// variable layer that wraps it.
type DynamicInclude struct {
	Tasks []*Task
	Vars  map[string]any
}

// ResolveDynamicInclude loads an include_tasks task's target file relative
// to baseDir, applying the same path-safety rule as static imports. The
// returned Vars are t.IncludeVars alone; a nested include inside the loaded
// file keeps only its own IncludeVars and is resolved separately when it
// runs.
func (l *Loader) ResolveDynamicInclude(t *Task, baseDir string) (*DynamicInclude, error) {
	if t.Kind != TaskInclude || t.IncludeMode != IncludeDynamic {
		return nil, fmt.Errorf("ResolveDynamicInclude: task %q is not a dynamic include", t.Name)
	}
	resolved, err := safeJoin(baseDir, t.IncludeFile)
	if err != nil {
		return nil, err
	}
	rawSeq := mustLoadTaskFile(resolved)
	tasks, err := l.parseTaskSeq(rawSeq, filepath.Dir(resolved))
	if err != nil {
		return nil, fmt.Errorf("include_tasks %s: %w", t.IncludeFile, err)
	}
	return &DynamicInclude{Tasks: tasks, Vars: t.IncludeVars}, nil
}
