package handlers

import (
	"fmt"
	"testing"

	"conclave/internal/playbook"
)

func TestEngineFlushOrderAndDedup(t *testing.T) {
	restartNginx := &playbook.Handler{Task: playbook.Task{Name: "restart nginx"}, Names: []string{"restart nginx"}}
	reloadSystemd := &playbook.Handler{Task: playbook.Task{Name: "reload systemd"}, Names: []string{"reload systemd", "systemd reload"}}
	handlerList := []*playbook.Handler{restartNginx, reloadSystemd}

	q := NewQueue()
	q.Notify("hostA", "systemd reload") // alias name, should still match reloadSystemd
	q.Notify("hostA", "restart nginx")
	q.Notify("hostA", "restart nginx") // duplicate notify, must not run twice

	var order []string
	eng := NewEngine(q)
	results := eng.Flush([]string{"hostA"}, handlerList, func(host string, h *playbook.Handler) error {
		order = append(order, h.Task.Name)
		return nil
	})

	if len(results) != 2 {
		t.Fatalf("expected exactly 2 handler firings despite duplicate notify, got %d", len(results))
	}
	if len(order) != 2 || order[0] != "restart nginx" || order[1] != "reload systemd" {
		t.Fatalf("expected play-definition order [restart nginx, reload systemd], got %v", order)
	}
	if q.HasAny("hostA") {
		t.Fatal("expected queue to be empty after flush")
	}
}

func TestEngineSkipsHostsWithNothingPending(t *testing.T) {
	h := &playbook.Handler{Task: playbook.Task{Name: "restart nginx"}, Names: []string{"restart nginx"}}
	q := NewQueue()
	q.Notify("hostA", "restart nginx")

	eng := NewEngine(q)
	ran := map[string]bool{}
	eng.Flush([]string{"hostA", "hostB"}, []*playbook.Handler{h}, func(host string, h *playbook.Handler) error {
		ran[host] = true
		return nil
	})
	if !ran["hostA"] || ran["hostB"] {
		t.Fatalf("expected handler to run only on hostA, got %v", ran)
	}
}

func TestEngineCollectsPerHostErrorsWithoutStoppingFlush(t *testing.T) {
	h := &playbook.Handler{Task: playbook.Task{Name: "restart nginx"}, Names: []string{"restart nginx"}}
	q := NewQueue()
	q.Notify("hostA", "restart nginx")
	q.Notify("hostB", "restart nginx")

	eng := NewEngine(q)
	results := eng.Flush([]string{"hostA", "hostB"}, []*playbook.Handler{h}, func(host string, h *playbook.Handler) error {
		if host == "hostA" {
			return fmt.Errorf("boom")
		}
		return nil
	})
	if len(results) != 2 {
		t.Fatalf("expected both hosts attempted despite hostA failing, got %d results", len(results))
	}
}
