package playbook

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, rel, content string) string {
	t.Helper()
	path := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFileParsesBasicPlay(t *testing.T) {
	dir := t.TempDir()
	pbPath := writeFile(t, dir, "site.yml", `
- name: web setup
  hosts: webservers
  gather_facts: false
  vars:
    http_port: 8080
  tasks:
    - name: install config
      copy:
        dest: /etc/x.conf
        content: hello
      notify: restart_x
  handlers:
    - name: restart_x
      debug:
        msg: restarting
`)
	l := NewLoader()
	pb, err := l.LoadFile(pbPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(pb.Plays) != 1 {
		t.Fatalf("expected 1 play, got %d", len(pb.Plays))
	}
	play := pb.Plays[0]
	if play.GatherFacts {
		t.Fatal("expected gather_facts: false to be honored")
	}
	if len(play.Tasks) != 1 || play.Tasks[0].Module != "copy" {
		t.Fatalf("unexpected tasks: %+v", play.Tasks)
	}
	if play.Tasks[0].Notify[0] != "restart_x" {
		t.Fatalf("expected notify to be parsed: %+v", play.Tasks[0])
	}
	if len(play.Handlers) != 1 || play.Handlers[0].Task.Module != "debug" {
		t.Fatalf("unexpected handlers: %+v", play.Handlers)
	}
}

func TestLoadFileExpandsImportTasksStatically(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "tasks/extra.yml", `
- name: extra task
  debug:
    msg: hi
`)
	pbPath := writeFile(t, dir, "site.yml", `
- hosts: all
  tasks:
    - import_tasks: tasks/extra.yml
`)
	l := NewLoader()
	pb, err := l.LoadFile(pbPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(pb.Plays[0].Tasks) != 1 || pb.Plays[0].Tasks[0].Name != "extra task" {
		t.Fatalf("expected import_tasks to inline the task, got %+v", pb.Plays[0].Tasks)
	}
}

func TestLoadFileRejectsPathTraversalOnImport(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "plays/site.yml", `
- hosts: all
  tasks:
    - import_tasks: ../../etc/passwd
`)
	l := NewLoader()
	if _, err := l.LoadFile(filepath.Join(dir, "plays", "site.yml")); err == nil {
		t.Fatal("expected path traversal error")
	}
}

func TestLoadFileParsesBlockRescueAlways(t *testing.T) {
	dir := t.TempDir()
	pbPath := writeFile(t, dir, "site.yml", `
- hosts: all
  tasks:
    - block:
        - name: risky
          command: /bin/false
      rescue:
        - name: recover
          debug:
            msg: recovering
      always:
        - name: cleanup
          debug:
            msg: done
`)
	l := NewLoader()
	pb, err := l.LoadFile(pbPath)
	if err != nil {
		t.Fatal(err)
	}
	task := pb.Plays[0].Tasks[0]
	if task.Kind != TaskBlock {
		t.Fatalf("expected block task, got kind %v", task.Kind)
	}
	if len(task.Block) != 1 || len(task.Rescue) != 1 || len(task.Always) != 1 {
		t.Fatalf("unexpected block shape: %+v", task)
	}
}

func TestResolveRoleDiscoversTasksAndHandlers(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "roles/webapp/tasks/main.yml", `
- name: configure
  debug:
    msg: configuring
`)
	writeFile(t, dir, "roles/webapp/handlers/main.yml", `
- name: restart
  debug:
    msg: restarting
`)
	writeFile(t, dir, "roles/webapp/defaults/main.yml", "port: 80\n")

	pbPath := writeFile(t, dir, "site.yml", `
- hosts: all
  roles:
    - webapp
`)
	l := NewLoader(filepath.Join(dir, "roles"))
	pb, err := l.LoadFile(pbPath)
	if err != nil {
		t.Fatal(err)
	}
	play := pb.Plays[0]
	if len(play.Tasks) != 1 || play.Tasks[0].Name != "configure" {
		t.Fatalf("expected role tasks included, got %+v", play.Tasks)
	}
	if len(play.Handlers) != 1 {
		t.Fatalf("expected role handlers included, got %+v", play.Handlers)
	}
}

func TestResolveDynamicIncludeLoadsFreshLayer(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "tasks/dyn.yml", `
- name: dynamic task
  debug:
    msg: hi
`)
	l := NewLoader()
	task := &Task{Kind: TaskInclude, IncludeMode: IncludeDynamic, IncludeFile: "tasks/dyn.yml", IncludeVars: map[string]any{"x": 1}}
	inc, err := l.ResolveDynamicInclude(task, dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(inc.Tasks) != 1 || inc.Tasks[0].Name != "dynamic task" {
		t.Fatalf("unexpected tasks: %+v", inc.Tasks)
	}
	if inc.Vars["x"] != 1 {
		t.Fatalf("expected include vars carried: %+v", inc.Vars)
	}
}
