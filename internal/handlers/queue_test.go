package handlers

import "testing"

func TestQueueDedup(t *testing.T) {
	q := NewQueue()
	q.Notify("hostA", "restart nginx")
	q.Notify("hostA", "restart nginx")
	if !q.Pending("hostA", "restart nginx") {
		t.Fatal("expected handler to be pending")
	}
	q.Consume("hostA", "restart nginx")
	if q.Pending("hostA", "restart nginx") {
		t.Fatal("expected consume to clear the single pending entry, not require a second notify to cancel")
	}
}

func TestQueuePerHostIsolation(t *testing.T) {
	q := NewQueue()
	q.Notify("hostA", "restart nginx")
	if q.Pending("hostB", "restart nginx") {
		t.Fatal("notify on hostA must not leak to hostB")
	}
}

func TestQueueHasAny(t *testing.T) {
	q := NewQueue()
	if q.HasAny("hostA") {
		t.Fatal("expected no pending handlers initially")
	}
	q.Notify("hostA", "x")
	if !q.HasAny("hostA") {
		t.Fatal("expected HasAny to report the queued handler")
	}
}
