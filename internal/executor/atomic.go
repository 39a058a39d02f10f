package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"conclave/internal/modules"
	"conclave/internal/playbook"
	"conclave/internal/secrets"
	"conclave/internal/tags"
	"conclave/internal/transport"
	"conclave/internal/vars"
)

const censored = "the output has been hidden due to the fact that 'no_log: true' was specified for this result"

// runAtomic executes one atomic task for one host through the full
// pipeline: tag gate, render, when, loop expansion, governor acquire,
// check/diff handling, execute, outcome classification, register, notify,
// retry, and failure bookkeeping. The terminal status is returned; failure
// isolation (removing the host from the play) is the caller's job.
func (pr *playRun) runAtomic(ctx context.Context, st *hostState, t *playbook.Task, sc scope) modules.Status {
	effective := tags.Inherit(pr.play.Tags, nil, sc.blockTags, sc.includeTags, t.Tags)
	if !pr.ex.Filter.ShouldRun(effective) {
		pr.recordStatus(st, t, modules.StatusSkipped, "skipped due to tag filter")
		return modules.StatusSkipped
	}

	pr.ex.Events.Emit(Event{Kind: EventTaskStart, Play: pr.play.Name, Host: st.host.Name, Task: t.Name})

	if t.NoLog && pr.ex.Secrets != nil {
		g := pr.ex.Secrets.TaskScope()
		for _, v := range t.Args {
			if s, ok := v.(string); ok && s != "" {
				g.Register(s)
			}
		}
		defer g.Release()
	}

	if len(t.Loop) > 0 {
		return pr.runLooped(ctx, st, t)
	}

	snap := st.store.Snapshot()
	if t.When != "" {
		ok, err := pr.evalBool(t.When, snap)
		if err != nil {
			return pr.finishFailed(st, t, nil, fmt.Sprintf("error evaluating conditional (%s): %v", t.When, err), 0)
		}
		if !ok {
			pr.recordStatus(st, t, modules.StatusSkipped, "conditional not met")
			return modules.StatusSkipped
		}
	}

	res, renderedArgs, retriesUsed := pr.runWithRetries(ctx, st, t, nil)
	return pr.finishAtomic(st, t, res, renderedArgs, retriesUsed)
}

// runLooped expands the loop sequence: each iteration re-enters the
// pipeline from the render step with the loop variable bound, and the
// per-iteration results aggregate into a single registered mapping whose
// `results` list preserves iteration order and whose `changed`/`failed`
// flags are the OR of the iterations.
func (pr *playRun) runLooped(ctx context.Context, st *hostState, t *playbook.Task) modules.Status {
	loopVar := t.LoopVar
	if loopVar == "" {
		loopVar = "item"
	}

	var (
		iterResults []any
		anyChanged  bool
		anyFailed   bool
		lastMsg     string
		lastArgs    map[string]any
		retriesUsed int
	)

	for _, rawItem := range t.Loop {
		item := rawItem
		if s, ok := rawItem.(string); ok {
			rendered, err := pr.ex.Renderer.Render(s, st.store.Snapshot())
			if err != nil {
				return pr.finishFailed(st, t, nil, fmt.Sprintf("loop item: %v", err), retriesUsed)
			}
			item = rendered
		}

		guard := st.store.Scoped(vars.TaskVars)
		st.store.Set(loopVar, item, vars.TaskVars, vars.Source{Path: t.SourceFile, Line: t.SourceLine})
		snap := st.store.Snapshot()

		if t.When != "" {
			ok, err := pr.evalBool(t.When, snap)
			if err != nil {
				guard.Pop()
				return pr.finishFailed(st, t, nil, fmt.Sprintf("error evaluating conditional (%s): %v", t.When, err), retriesUsed)
			}
			if !ok {
				iterResults = append(iterResults, map[string]any{
					"skipped": true, loopVar: item,
				})
				guard.Pop()
				continue
			}
		}

		res, renderedArgs, used := pr.runWithRetries(ctx, st, t, map[string]any{loopVar: item})
		guard.Pop()
		retriesUsed += used
		lastArgs = renderedArgs

		m := resultMap(res)
		m[loopVar] = item
		iterResults = append(iterResults, m)
		anyChanged = anyChanged || res.Status == modules.StatusChanged
		if res.Status == modules.StatusFailed {
			anyFailed = true
			lastMsg = res.Message
		}
	}

	aggregate := map[string]any{
		"results": iterResults,
		"changed": anyChanged,
		"failed":  anyFailed,
	}
	if t.Register != "" {
		st.store.Set(t.Register, aggregate, vars.RegisteredVars, vars.Source{Path: t.SourceFile, Line: t.SourceLine})
	}

	switch {
	case anyFailed:
		st.lastFailure = aggregate
		pr.recordFailure(st, t, lastArgs, lastMsg, "", retriesUsed)
		pr.recordStatus(st, t, modules.StatusFailed, lastMsg)
		return modules.StatusFailed
	case anyChanged:
		pr.notify(st, t)
		pr.recordStatus(st, t, modules.StatusChanged, "")
		return modules.StatusChanged
	default:
		pr.recordStatus(st, t, modules.StatusOK, "")
		return modules.StatusOK
	}
}

// runWithRetries runs one iteration of the task, re-rendering and
// re-executing on failure until retries are exhausted; each retry
// restarts at the render step and carries its own timeout.
func (pr *playRun) runWithRetries(ctx context.Context, st *hostState, t *playbook.Task, extra map[string]any) (modules.Result, map[string]any, int) {
	attempts := t.Retries + 1
	if attempts < 1 {
		attempts = 1
	}
	var (
		res  modules.Result
		args map[string]any
	)
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && t.Delay > 0 {
			select {
			case <-ctx.Done():
				return modules.Failed("cancelled", ctx.Err()), args, attempt
			case <-time.After(time.Duration(t.Delay) * time.Second):
			}
		}
		res, args = pr.runIteration(ctx, st, t, extra)
		if res.Status != modules.StatusFailed || !retryable(res) {
			return res, args, attempt
		}
	}
	return res, args, attempts - 1
}

// retryable implements the retry policy for failed results: template
// failures (undefined variables and render errors), parameter-validation
// failures and unknown modules are terminal; command and timeout failures
// may retry. Connection and authentication failures never reach this
// check: they surface as unreachable, which runWithRetries returns
// without retrying.
func retryable(res modules.Result) bool {
	if res.Error == nil {
		return true
	}
	if strings.HasPrefix(res.Message, "template error: ") {
		return false
	}
	var invalid *modules.InvalidParameterError
	if errors.As(res.Error, &invalid) {
		return false
	}
	var notFound *modules.NotFoundError
	if errors.As(res.Error, &notFound) {
		return false
	}
	var undef *vars.UndefinedError
	if errors.As(res.Error, &undef) {
		return false
	}
	return true
}

// runIteration is steps 2–9 of the pipeline for a single (possibly looped)
// invocation: render args and overrides, resolve the module and its
// connection, pass the governor, run check or execute, then apply
// changed_when/failed_when/no_log classification.
func (pr *playRun) runIteration(ctx context.Context, st *hostState, t *playbook.Task, extra map[string]any) (modules.Result, map[string]any) {
	snap := st.store.Snapshot()
	for k, v := range extra {
		snap[k] = v
	}

	renderedArgs, err := pr.renderArgs(t.Args, snap)
	if err != nil {
		return modules.Failed(fmt.Sprintf("template error: %v", err), err), nil
	}

	mod, err := pr.lookupModule(t.Module)
	if err != nil {
		return modules.Failed(err.Error(), err), renderedArgs
	}
	if err := mod.ValidateParams(renderedArgs); err != nil {
		return modules.Failed(err.Error(), err), renderedArgs
	}

	mctx := &modules.Context{
		Vars:      snap,
		Facts:     factSubset(snap),
		CheckMode: pr.ex.CheckMode,
		DiffMode:  pr.ex.DiffMode,
		Become:    pr.becomeFor(t),
		HostName:  st.host.Name,
		Env:       t.Environment,
	}

	if mod.Classification() != modules.LocalLogic {
		conn, err := pr.connectionFor(ctx, st, t, snap)
		if err != nil {
			return modules.Result{
				Status:  modules.StatusUnreachable,
				Message: err.Error(),
				Data:    map[string]any{},
				Error:   err,
			}, renderedArgs
		}
		mctx.Transport = conn
	}

	release, err := pr.ex.Gate.Acquire(ctx, st.host.Name, mod.Name(), mod.ParallelizationHint())
	if err != nil {
		return modules.Failed(fmt.Sprintf("governor: %v", err), err), renderedArgs
	}
	res := pr.invoke(ctx, mod, renderedArgs, mctx)
	release()

	if pr.ex.DiffMode {
		if diff, derr := mod.Diff(ctx, renderedArgs, mctx); derr == nil && diff != nil {
			stat := SummarizeDiff(diff)
			res = res.WithData("diff", map[string]any{"before": diff.Before, "after": diff.After})
			pr.ex.Events.Emit(Event{
				Kind: EventTaskResult, Play: pr.play.Name, Host: st.host.Name,
				Task: t.Name, Status: res.Status, Diff: diff, Stat: &stat,
			})
		}
	}

	res = pr.applyOverrides(t, res, snap)
	if t.NoLog {
		res = sanitizeNoLog(res)
	}
	return res, renderedArgs
}

// invoke runs check or execute under the per-task timeout, converting a
// module panic into a failed result rather than tearing down the host
// pipeline.
func (pr *playRun) invoke(ctx context.Context, mod modules.Module, args map[string]any, mctx *modules.Context) (res modules.Result) {
	if pr.ex.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pr.ex.TaskTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			res = modules.Failed(fmt.Sprintf("module %s panicked: %v", mod.Name(), r), fmt.Errorf("panic: %v", r))
		}
	}()

	var err error
	if pr.ex.CheckMode {
		res, err = mod.Check(ctx, args, mctx)
	} else {
		res, err = mod.Execute(ctx, args, mctx)
	}
	if err != nil {
		return modules.Failed(err.Error(), err)
	}
	if ctx.Err() == context.DeadlineExceeded && res.Status != modules.StatusFailed {
		return modules.Failed(fmt.Sprintf("module %s timed out", mod.Name()), ctx.Err())
	}
	return res
}

// applyOverrides evaluates changed_when/failed_when against the result
// bound into the snapshot, replacing the module's own classification when
// set.
func (pr *playRun) applyOverrides(t *playbook.Task, res modules.Result, snap map[string]any) modules.Result {
	if t.ChangedWhen == "" && t.FailedWhen == "" {
		return res
	}
	overlay := make(map[string]any, len(snap)+1)
	for k, v := range snap {
		overlay[k] = v
	}
	overlay["result"] = resultMap(res)

	if t.FailedWhen != "" {
		failed, err := pr.evalBool(t.FailedWhen, overlay)
		if err != nil {
			return modules.Failed(fmt.Sprintf("failed_when: %v", err), err)
		}
		if failed {
			res.Status = modules.StatusFailed
			if res.Message == "" {
				res.Message = "failed_when condition met"
			}
		} else if res.Status == modules.StatusFailed {
			res.Status = modules.StatusOK
			res.Error = nil
		}
	}
	if t.ChangedWhen != "" && res.Status != modules.StatusFailed {
		changed, err := pr.evalBool(t.ChangedWhen, overlay)
		if err != nil {
			return modules.Failed(fmt.Sprintf("changed_when: %v", err), err)
		}
		if changed {
			res.Status = modules.StatusChanged
		} else if res.Status == modules.StatusChanged {
			res.Status = modules.StatusOK
		}
	}
	return res
}

// finishAtomic handles register/notify/summary for a non-looped task.
func (pr *playRun) finishAtomic(st *hostState, t *playbook.Task, res modules.Result, renderedArgs map[string]any, retriesUsed int) modules.Status {
	m := resultMap(res)
	if t.Register != "" {
		st.store.Set(t.Register, m, vars.RegisteredVars, vars.Source{Path: t.SourceFile, Line: t.SourceLine})
	}

	switch res.Status {
	case modules.StatusFailed:
		st.lastFailure = m
		stderr, _ := res.Data["stderr"].(string)
		pr.recordFailure(st, t, renderedArgs, res.Message, stderr, retriesUsed)
	case modules.StatusChanged:
		pr.notify(st, t)
	}
	pr.recordStatus(st, t, res.Status, res.Message)
	return res.Status
}

func (pr *playRun) finishFailed(st *hostState, t *playbook.Task, renderedArgs map[string]any, msg string, retriesUsed int) modules.Status {
	st.lastFailure = map[string]any{"failed": true, "msg": msg}
	if t.Register != "" {
		st.store.Set(t.Register, st.lastFailure, vars.RegisteredVars, vars.Source{Path: t.SourceFile, Line: t.SourceLine})
	}
	pr.recordFailure(st, t, renderedArgs, msg, "", retriesUsed)
	pr.recordStatus(st, t, modules.StatusFailed, msg)
	return modules.StatusFailed
}

func (pr *playRun) notify(st *hostState, t *playbook.Task) {
	for _, name := range t.Notify {
		pr.queue.Notify(st.host.Name, name)
	}
}

func (pr *playRun) recordStatus(st *hostState, t *playbook.Task, status modules.Status, msg string) {
	if pr.ex.Secrets != nil {
		msg = pr.ex.Secrets.Redact(msg)
	}
	pr.sum.Record(st.host.Name, status)
	pr.ex.Events.Emit(Event{
		Kind: EventTaskResult, Play: pr.play.Name, Host: st.host.Name,
		Task: t.Name, Status: status, Message: msg,
	})
}

func (pr *playRun) recordFailure(st *hostState, t *playbook.Task, renderedArgs map[string]any, msg, stderr string, retries int) {
	if t.NoLog {
		renderedArgs = map[string]any{"censored": censored}
		msg = censored
		stderr = ""
	} else if pr.ex.Secrets != nil {
		msg = pr.ex.Secrets.Redact(msg)
		stderr = pr.ex.Secrets.Redact(stderr)
		renderedArgs = redactArgs(pr.ex.Secrets, renderedArgs)
	}
	pr.sum.AddFailure(Failure{
		Play: pr.play.Name, Host: st.host.Name, Task: t.Name,
		Args: renderedArgs, Message: msg, Stderr: stderr, Retries: retries,
	})
}

// redactArgs scrubs registered secret literals and known-sensitive field
// names from a rendered argument map before it reaches the failure report
//.
func redactArgs(reg interface {
	Redact(string) string
}, args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		if isSensitiveName(k) {
			out[k] = "[REDACTED]"
			continue
		}
		if s, ok := v.(string); ok {
			out[k] = reg.Redact(s)
			continue
		}
		out[k] = v
	}
	return out
}

func (pr *playRun) becomeFor(t *playbook.Task) modules.Become {
	method := string(t.Become)
	user := t.BecomeUser
	if method == "" {
		method = string(pr.play.Become)
	}
	if user == "" {
		user = pr.play.BecomeUser
	}
	return modules.Become{Method: method, User: user}
}

// connectionFor resolves (and pools) the transport connection the task
// needs, honoring delegate_to by borrowing the delegated host's connection
// instead.
func (pr *playRun) connectionFor(ctx context.Context, st *hostState, t *playbook.Task, snap map[string]any) (transport.Connection, error) {
	target := st.host
	if t.DelegateTo != "" {
		name, err := pr.ex.Renderer.Render(t.DelegateTo, snap)
		if err != nil {
			return nil, fmt.Errorf("delegate_to: %w", err)
		}
		delegated, ok := pr.inv.Hosts[name]
		if !ok {
			return nil, fmt.Errorf("delegate_to: unknown host %q", name)
		}
		target = delegated
	}

	if target == st.host && st.conn != nil && st.conn.Healthy() {
		return st.conn, nil
	}
	if pr.ex.Connect == nil {
		return nil, fmt.Errorf("host %s: no transport configured", target.Name)
	}
	conn, err := pr.ex.Connect(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("host %s: %w", target.Name, err)
	}
	if target == st.host {
		st.conn = conn
	}
	return conn, nil
}

// lookupModule resolves a short or fully qualified module reference
// through the registry, probing the FQCN string first and falling back to
// the bare resource name for built-ins and fallback modules.
func (pr *playRun) lookupModule(ref string) (modules.Module, error) {
	fqcn, err := playbook.ResolveModuleRef(ref, pr.ex.DefaultCollection)
	if err != nil {
		return pr.ex.Registry.Lookup(ref)
	}
	if !fqcn.IsBuiltin() {
		if mod, err := pr.ex.Registry.Lookup(fqcn.String()); err == nil {
			return mod, nil
		}
	}
	return pr.ex.Registry.Lookup(fqcn.Name)
}

// renderArgs deep-renders every string leaf of the argument tree against
// snap; maps and sequences recurse.
func (pr *playRun) renderArgs(args map[string]any, snap map[string]any) (map[string]any, error) {
	if args == nil {
		return map[string]any{}, nil
	}
	rendered, err := pr.renderValue(args, snap)
	if err != nil {
		return nil, err
	}
	return rendered.(map[string]any), nil
}

func (pr *playRun) renderValue(v any, snap map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		return pr.ex.Renderer.Render(val, snap)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			r, err := pr.renderValue(child, snap)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			r, err := pr.renderValue(child, snap)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// evalBool evaluates a when/changed_when/failed_when expression against
// snap. The expression language is the small subset the renderer supports
// plus defined-ness tests and equality comparisons; bare expressions are
// wrapped in {{ }} before rendering, matching how conditionals are written
// without delimiters.
func (pr *playRun) evalBool(expr string, snap map[string]any) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}
	if rest, ok := strings.CutPrefix(expr, "not "); ok {
		inner, err := pr.evalBool(rest, snap)
		return !inner, err
	}
	if path, ok := strings.CutSuffix(expr, " is not defined"); ok {
		_, err := pr.renderOperand(strings.TrimSpace(path), snap)
		return err != nil, nil
	}
	if path, ok := strings.CutSuffix(expr, " is defined"); ok {
		_, err := pr.renderOperand(strings.TrimSpace(path), snap)
		return err == nil, nil
	}
	if lhs, rhs, ok := splitComparison(expr, "!="); ok {
		eq, err := pr.operandsEqual(lhs, rhs, snap)
		return !eq, err
	}
	if lhs, rhs, ok := splitComparison(expr, "=="); ok {
		return pr.operandsEqual(lhs, rhs, snap)
	}
	out, err := pr.renderOperand(expr, snap)
	if err != nil {
		return false, err
	}
	return truthy(out), nil
}

func (pr *playRun) operandsEqual(lhs, rhs string, snap map[string]any) (bool, error) {
	l, err := pr.renderOperand(lhs, snap)
	if err != nil {
		return false, err
	}
	r, err := pr.renderOperand(rhs, snap)
	if err != nil {
		return false, err
	}
	return l == r, nil
}

// renderOperand renders one side of a conditional: quoted strings are
// literals, anything else goes through the template renderer wrapped in
// expression delimiters unless it already carries them.
func (pr *playRun) renderOperand(operand string, snap map[string]any) (string, error) {
	operand = strings.TrimSpace(operand)
	if len(operand) >= 2 {
		if (operand[0] == '\'' && operand[len(operand)-1] == '\'') ||
			(operand[0] == '"' && operand[len(operand)-1] == '"') {
			return operand[1 : len(operand)-1], nil
		}
	}
	tmpl := operand
	if !strings.Contains(operand, "{{") {
		tmpl = "{{ " + operand + " }}"
	}
	return pr.ex.Renderer.Render(tmpl, snap)
}

func splitComparison(expr, op string) (lhs, rhs string, ok bool) {
	idx := strings.Index(expr, op)
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(expr[:idx]), strings.TrimSpace(expr[idx+len(op):]), true
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "false", "0", "none", "no":
		return false
	default:
		return true
	}
}

// resultMap flattens a module result into the mapping stored under
// register: canonical changed/failed/skipped/msg keys plus the module's
// own data keys verbatim.
func resultMap(res modules.Result) map[string]any {
	m := map[string]any{
		"changed": res.Status == modules.StatusChanged,
		"failed":  res.Status == modules.StatusFailed,
		"skipped": res.Status == modules.StatusSkipped,
		"msg":     res.Message,
	}
	for k, v := range res.Data {
		m[k] = v
	}
	return m
}

// sanitizeNoLog replaces a result's message and data with the censorship
// sentinel before the result can reach any emission path. The status
// itself survives so control flow is unaffected.
func sanitizeNoLog(res modules.Result) modules.Result {
	res.Message = censored
	res.Data = map[string]any{"censored": censored}
	return res
}

func factSubset(snap map[string]any) map[string]any {
	facts := map[string]any{}
	for k, v := range snap {
		if strings.HasPrefix(k, "ansible_") || k == "inventory_hostname" {
			facts[k] = v
		}
	}
	return facts
}

func isSensitiveName(name string) bool {
	return secrets.IsSensitiveFieldName(name)
}

// loadYAMLVars reads a play vars_file relative to baseDir.
func loadYAMLVars(baseDir, file string) (map[string]any, error) {
	path := file
	if !filepath.IsAbs(file) {
		path = filepath.Join(baseDir, file)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

