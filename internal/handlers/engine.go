package handlers

import (
	"conclave/internal/playbook"
)

// RunResult is what the caller's handler-run callback reports back for
// one (host, handler) firing.
type RunResult struct {
	Host    string
	Handler *playbook.Handler
	Err     error
}

// RunFunc executes a single handler's task on host, the same way the
// executor runs any other atomic task.
type RunFunc func(host string, h *playbook.Handler) error

// Engine flushes a play's queued handler notifications in the play's own
// handler-definition order: for each handler, in the order
// it appears in Play.Handlers, every host that notified any of its names
// runs it once.
type Engine struct {
	queue *Queue
}

// NewEngine returns an Engine backed by q.
func NewEngine(q *Queue) *Engine {
	return &Engine{queue: q}
}

// Flush runs every handler in handlerList that has a pending notification
// for any host in hosts, in handlerList's order, across hosts within a
// given handler in the order hosts were supplied. Errors don't stop the
// flush; every matching (host, handler) pair still gets attempted so a
// failure on one host doesn't suppress a handler on another.
func (e *Engine) Flush(hosts []string, handlerList []*playbook.Handler, run RunFunc) []RunResult {
	var results []RunResult
	for _, h := range handlerList {
		for _, host := range hosts {
			if !e.anyPending(host, h.Names) {
				continue
			}
			err := run(host, h)
			for _, name := range h.Names {
				e.queue.Consume(host, name)
			}
			results = append(results, RunResult{Host: host, Handler: h, Err: err})
		}
	}
	return results
}

func (e *Engine) anyPending(host string, names []string) bool {
	for _, name := range names {
		if e.queue.Pending(host, name) {
			return true
		}
	}
	return false
}
