// Package handlers implements the notify/flush machinery a play
// describes: tasks queue handler names as they run, and those handlers
// fire once each, in the play's own handler-definition order, when the
// section (pre_tasks, tasks, post_tasks) that notified them completes;
// with ForceHandlers, hosts that have failed take part in that flush as
// well. The per-host dedup is plain set membership: a handler
// is either pending or it isn't, no matter how many tasks notified it.
package handlers

import "sync"

// Queue tracks, per host, which handler names have been notified and are
// still awaiting a flush.
type Queue struct {
	mu      sync.Mutex
	pending map[string]map[string]struct{} // host -> handler name -> queued
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue {
	return &Queue{pending: map[string]map[string]struct{}{}}
}

// Notify marks name as pending for host. Notifying the same name twice
// before a flush is a no-op: a handler runs at most once per flush no
// matter how many tasks notified it.
func (q *Queue) Notify(host, name string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	set, ok := q.pending[host]
	if !ok {
		set = map[string]struct{}{}
		q.pending[host] = set
	}
	set[name] = struct{}{}
}

// Pending reports whether name is queued for host.
func (q *Queue) Pending(host, name string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	set, ok := q.pending[host]
	if !ok {
		return false
	}
	_, ok = set[name]
	return ok
}

// HasAny reports whether host has any handler queued at all.
func (q *Queue) HasAny(host string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[host]) > 0
}

// Consume clears name from host's pending set once the flush engine has
// run (or decided to skip) the handler it belongs to.
func (q *Queue) Consume(host, name string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if set, ok := q.pending[host]; ok {
		delete(set, name)
	}
}

// Drain clears and returns the pending set for host, for inspection (e.g.
// tests, or a ForceHandlers end-of-play sweep that doesn't care which
// specific name matched).
func (q *Queue) Drain(host string) map[string]struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	set := q.pending[host]
	delete(q.pending, host)
	return set
}
