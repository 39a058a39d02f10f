package cache

import (
	"os"
	"path/filepath"
	"testing"

	"conclave/internal/playbook"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestPlaybookCacheInvalidatesOnImportedFileChange(t *testing.T) {
	dir := t.TempDir()
	imported := filepath.Join(dir, "tasks", "extra.yml")
	writeFile(t, imported, "- name: extra task\n  debug:\n    msg: hi\n")
	pbPath := filepath.Join(dir, "site.yml")
	writeFile(t, pbPath, "- hosts: all\n  tasks:\n    - import_tasks: tasks/extra.yml\n")

	c := NewPlaybookCache()
	parses := 0
	parse := func(path string) (*playbook.Playbook, error) {
		parses++
		return playbook.NewLoader().LoadFile(path)
	}

	pb, err := c.Load(pbPath, parse)
	if err != nil {
		t.Fatal(err)
	}
	if len(pb.Dependencies) == 0 {
		t.Fatal("parse recorded no dependencies for an importing playbook")
	}
	if _, err := c.Load(pbPath, parse); err != nil {
		t.Fatal(err)
	}
	if parses != 1 {
		t.Fatalf("unchanged files re-parsed: %d parses", parses)
	}

	// Edit only the imported file; the playbook's own mtime is untouched,
	// so only the dependency fingerprint can catch this.
	writeFile(t, imported, "- name: extra task\n  debug:\n    msg: changed now\n")
	pb2, err := c.Load(pbPath, parse)
	if err != nil {
		t.Fatal(err)
	}
	if parses != 2 {
		t.Fatalf("edited import did not invalidate the cache: %d parses", parses)
	}
	if pb2.Plays[0].Tasks[0].Args["msg"] != "changed now" {
		t.Fatalf("stale parse returned: %v", pb2.Plays[0].Tasks[0].Args)
	}
}

func TestPlaybookCacheTracksRoleFilesAcrossRoleCache(t *testing.T) {
	dir := t.TempDir()
	roleTasks := filepath.Join(dir, "roles", "web", "tasks", "main.yml")
	writeFile(t, roleTasks, "- name: role task\n  debug:\n    msg: hi\n")
	first := filepath.Join(dir, "first.yml")
	second := filepath.Join(dir, "second.yml")
	writeFile(t, first, "- hosts: all\n  roles:\n    - web\n")
	writeFile(t, second, "- hosts: all\n  roles:\n    - web\n")

	loader := playbook.NewLoader(filepath.Join(dir, "roles"))
	c := NewPlaybookCache()
	if _, err := c.Load(first, loader.LoadFile); err != nil {
		t.Fatal(err)
	}
	// The second playbook resolves "web" from the loader's role cache; its
	// dependency set must still include the role's files.
	pb2, err := c.Load(second, loader.LoadFile)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, dep := range pb2.Dependencies {
		if dep == roleTasks {
			found = true
		}
	}
	if !found {
		t.Fatalf("cached-role playbook lost the role file dependency: %v", pb2.Dependencies)
	}
}
