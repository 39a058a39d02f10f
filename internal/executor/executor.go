// Package executor implements the per-host task pipeline: tag
// gating, template rendering, when/loop evaluation, module dispatch through
// the governor and transport pool, block/rescue/always control flow, retry
// and failure isolation, and the handler notify/flush cycle.
package executor

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"conclave/internal/cache"
	"conclave/internal/governor"
	"conclave/internal/handlers"
	"conclave/internal/inventory"
	"conclave/internal/modules"
	"conclave/internal/playbook"
	"conclave/internal/secrets"
	"conclave/internal/tags"
	"conclave/internal/transport"
	"conclave/internal/vars"
)

// Executor drives playbook plays against an inventory. Zero-value fields
// are filled with working defaults by normalize; callers typically only set
// Registry, Gate, and Connect.
type Executor struct {
	Registry *modules.Registry
	Gate     *governor.Gate
	Renderer vars.Renderer
	Secrets  *secrets.Registry
	Facts    *cache.FactCache
	Loader   *playbook.Loader
	Events   Sink

	// Connect returns the (pooled) connection for host; the engine wires
	// this to the transport pool. Tasks classified RemoteCommand or
	// NativeTransport fail as unreachable when nil.
	Connect func(ctx context.Context, h *inventory.Host) (transport.Connection, error)

	// GatherFacts produces the fact set attached at GatheredFacts
	// precedence when a play asks for it. Defaults to the local
	// inventory-derived fact set.
	GatherFacts func(ctx context.Context, h *inventory.Host) (map[string]any, error)

	CheckMode bool
	DiffMode  bool
	Filter    *tags.Filter
	ExtraVars map[string]any

	// TaskTimeout bounds a single module execute/check call. Zero means
	// no per-task deadline.
	TaskTimeout time.Duration

	// DefaultCollection qualifies short module names; empty resolves them
	// to ansible.builtin.
	DefaultCollection string
}

func (e *Executor) normalize() {
	if e.Renderer == nil {
		e.Renderer = vars.NewRenderer()
	}
	if e.Events == nil {
		e.Events = NullSink{}
	}
	if e.Filter == nil {
		e.Filter, _ = tags.NewFilter(nil, nil)
	}
	if e.Loader == nil {
		e.Loader = playbook.NewLoader()
	}
	if e.GatherFacts == nil {
		e.GatherFacts = localFacts
	}
}

// localFacts is the default fact source: everything derivable without a
// round-trip to the host.
func localFacts(_ context.Context, h *inventory.Host) (map[string]any, error) {
	facts := map[string]any{
		"inventory_hostname": h.Name,
		"ansible_host":       h.Address,
		"ansible_port":       h.Port,
		"ansible_connection": string(h.Transport),
	}
	if h.Auth.User != "" {
		facts["ansible_user"] = h.Auth.User
	}
	return facts, nil
}

// RunPlaybook executes every play in pb against inv and returns the
// accumulated per-host summary. The returned error is non-nil only for
// run-level failures (pattern parse, cancellation); per-task failures are
// reported through the Summary.
func (e *Executor) RunPlaybook(ctx context.Context, pb *playbook.Playbook, inv *inventory.Inventory) (*Summary, error) {
	e.normalize()
	sum := NewSummary()
	for _, play := range pb.Plays {
		if err := e.runPlay(ctx, play, inv, sum); err != nil {
			return sum, err
		}
	}
	return sum, nil
}

// RunPlay executes a single play, accumulating into sum.
func (e *Executor) RunPlay(ctx context.Context, play *playbook.Play, inv *inventory.Inventory, sum *Summary) error {
	e.normalize()
	return e.runPlay(ctx, play, inv, sum)
}

// hostState is the per-host mutable run state: the layered variable store
// (single-writer: only this host's pipeline touches it), the pooled
// connection once dialed, and the failure flag that removes the host from
// the remainder of the play.
type hostState struct {
	host        *inventory.Host
	store       *vars.Store
	conn        transport.Connection
	failed      bool
	unreachable bool

	// lastFailure holds the most recent failed task's result mapping, for
	// binding as ansible_failed_result inside a rescue branch.
	lastFailure map[string]any
}

func (st *hostState) active() bool { return !st.failed && !st.unreachable }

// scope carries the tag-inheritance and rescue context a task runs under.
type scope struct {
	blockTags   []string
	includeTags []string
	inRescue    bool
}

// playRun bundles the per-play machinery shared by every host pipeline.
type playRun struct {
	ex      *Executor
	play    *playbook.Play
	inv     *inventory.Inventory
	queue   *handlers.Queue
	hengine *handlers.Engine
	sum     *Summary
	baseDir string
	fatal   atomic.Bool
}

type section struct {
	name  string
	tasks []*playbook.Task
}

func (e *Executor) runPlay(ctx context.Context, play *playbook.Play, inv *inventory.Inventory, sum *Summary) error {
	names, err := inv.HostsIn(play.HostPattern)
	if err != nil {
		return fmt.Errorf("play %q: host pattern: %w", play.Name, err)
	}
	e.Events.Emit(Event{Kind: EventPlayStart, Play: play.Name})
	if len(names) == 0 {
		e.Events.Emit(Event{Kind: EventPlayEnd, Play: play.Name, Message: "no hosts matched"})
		return nil
	}

	queue := handlers.NewQueue()
	pr := &playRun{
		ex:      e,
		play:    play,
		inv:     inv,
		queue:   queue,
		hengine: handlers.NewEngine(queue),
		sum:     sum,
		baseDir: playBaseDir(play),
	}

	for _, batch := range batches(names, play.Serial) {
		states := make([]*hostState, 0, len(batch))
		for _, name := range batch {
			st, err := pr.prepareHost(ctx, inv.Hosts[name])
			if err != nil {
				return err
			}
			sum.Touch(name)
			states = append(states, st)
		}

		sections := []section{
			{"pre_tasks", play.PreTasks},
			{"tasks", play.Tasks},
			{"post_tasks", play.PostTasks},
		}
		switch play.Strategy {
		case playbook.StrategyFree:
			pr.runFree(ctx, states, sections)
		default:
			pr.runLinear(ctx, states, sections)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if pr.fatal.Load() {
			break
		}
	}
	e.Events.Emit(Event{Kind: EventPlayEnd, Play: play.Name})
	return ctx.Err()
}

// runLinear advances all hosts through the play in lockstep: every active
// host runs task i before any host starts task i+1, with handler flushes at
// section boundaries.
func (pr *playRun) runLinear(ctx context.Context, states []*hostState, sections []section) {
	for _, sec := range sections {
		for _, t := range sec.tasks {
			if ctx.Err() != nil || pr.fatal.Load() {
				return
			}
			pr.runTaskAcrossHosts(ctx, states, t)
			if pr.play.AnyErrorsFatal && anyFailed(states) {
				pr.fatal.Store(true)
				return
			}
		}
		pr.flushHandlers(ctx, states)
	}
}

// runFree lets every host advance independently through its own task
// sequence, synchronizing only at the end of the play batch; flushes happen
// per host at each section boundary.
func (pr *playRun) runFree(ctx context.Context, states []*hostState, sections []section) {
	var wg sync.WaitGroup
	for _, st := range states {
		wg.Add(1)
		go func(st *hostState) {
			defer wg.Done()
			for _, sec := range sections {
				for _, t := range sec.tasks {
					if ctx.Err() != nil || pr.fatal.Load() {
						return
					}
					if !st.active() {
						break
					}
					pr.runTask(ctx, st, t, scope{})
					if pr.play.AnyErrorsFatal && st.failed {
						pr.fatal.Store(true)
						return
					}
				}
				pr.flushHandlers(ctx, []*hostState{st})
			}
		}(st)
	}
	wg.Wait()
}

// runTaskAcrossHosts executes one task for every still-active host in the
// batch concurrently; the governor's fork width bounds actual parallelism.
func (pr *playRun) runTaskAcrossHosts(ctx context.Context, states []*hostState, t *playbook.Task) {
	active := make([]*hostState, 0, len(states))
	for _, st := range states {
		if st.active() {
			active = append(active, st)
		}
	}
	if len(active) == 0 {
		return
	}

	if t.RunOnce {
		first := active[0]
		pr.runTask(ctx, first, t, scope{})
		// The registered result is visible on every host in the batch,
		// matching run_once's single-execution, shared-result contract.
		if t.Register != "" {
			if val, ok := first.store.Get(t.Register); ok {
				for _, st := range active[1:] {
					st.store.Set(t.Register, val, vars.RegisteredVars, vars.Source{})
				}
			}
		}
		return
	}

	var wg sync.WaitGroup
	for _, st := range active {
		wg.Add(1)
		go func(st *hostState) {
			defer wg.Done()
			pr.runTask(ctx, st, t, scope{})
		}(st)
	}
	wg.Wait()
}

// runTask dispatches on the task's shape. It updates st.failed according to
// the failure-isolation rules; the returned status is the task's terminal
// status for this host.
func (pr *playRun) runTask(ctx context.Context, st *hostState, t *playbook.Task, sc scope) modules.Status {
	var guard *vars.Guard
	if len(t.Vars) > 0 && t.Kind != playbook.TaskInclude {
		prec := vars.TaskVars
		if t.Kind == playbook.TaskBlock {
			prec = vars.BlockVars
		}
		guard = st.store.Scoped(prec)
		st.store.BulkMerge(t.Vars, prec, vars.Source{Path: t.SourceFile, Line: t.SourceLine})
	}
	defer func() {
		if guard != nil {
			guard.Pop()
		}
	}()

	switch t.Kind {
	case playbook.TaskBlock:
		return pr.runBlock(ctx, st, t, sc)
	case playbook.TaskInclude:
		return pr.runInclude(ctx, st, t, sc)
	default:
		status := pr.runAtomic(ctx, st, t, sc)
		if status == modules.StatusFailed && !t.IgnoreErrors && !sc.inRescue {
			st.failed = true
		}
		if status == modules.StatusUnreachable {
			// ignore_errors never suppresses unreachable.
			st.unreachable = true
		}
		return status
	}
}

// runSequence runs tasks in order for one host, stopping when the host
// drops out of the play.
func (pr *playRun) runSequence(ctx context.Context, st *hostState, tasks []*playbook.Task, sc scope) {
	for _, t := range tasks {
		if !st.active() || ctx.Err() != nil {
			return
		}
		pr.runTask(ctx, st, t, sc)
	}
}

// runBlock implements block/rescue/always:
// failure inside the block transfers control to rescue with
// ansible_failed_result bound; always runs no matter what; the failure is
// suppressed iff rescue completes cleanly.
func (pr *playRun) runBlock(ctx context.Context, st *hostState, t *playbook.Task, sc scope) modules.Status {
	blockSc := sc
	blockSc.blockTags = append(append([]string{}, sc.blockTags...), t.Tags...)

	if t.When != "" {
		ok, err := pr.evalBool(t.When, st.store.Snapshot())
		if err != nil {
			pr.recordStatus(st, t, modules.StatusFailed, "block when: "+err.Error())
			st.failed = true
			return modules.StatusFailed
		}
		if !ok {
			pr.recordStatus(st, t, modules.StatusSkipped, "conditional not met")
			return modules.StatusSkipped
		}
	}

	pr.runSequence(ctx, st, t.Block, blockSc)
	blockFailed := st.failed

	if blockFailed && len(t.Rescue) > 0 {
		st.failed = false
		rescueGuard := st.store.Scoped(vars.RegisteredVars)
		if st.lastFailure != nil {
			st.store.Set("ansible_failed_result", st.lastFailure, vars.RegisteredVars, vars.Source{})
		}
		pr.runSequence(ctx, st, t.Rescue, scopeWithRescue(blockSc))
		rescueGuard.Pop()
		blockFailed = st.failed
	}

	if len(t.Always) > 0 {
		// always children run even when the host is otherwise failed; the
		// failure flag is restored (ORed with any always failure) after.
		savedFailed := st.failed
		st.failed = false
		pr.runSequence(ctx, st, t.Always, blockSc)
		st.failed = st.failed || savedFailed
	} else {
		st.failed = blockFailed
	}

	if st.failed {
		return modules.StatusFailed
	}
	return modules.StatusOK
}

func scopeWithRescue(sc scope) scope {
	sc.inRescue = true
	return sc
}

// runInclude resolves a dynamic include for this host only: the include's
// vars open an IncludeParams layer around the loaded sequence, popped when
// the sequence ends. A nested include runs inside that layer, so the outer
// include's vars stay visible to it; its own vars are set later at the same
// precedence and win on shared keys.
func (pr *playRun) runInclude(ctx context.Context, st *hostState, t *playbook.Task, sc scope) modules.Status {
	if t.When != "" {
		ok, err := pr.evalBool(t.When, st.store.Snapshot())
		if err != nil {
			pr.recordStatus(st, t, modules.StatusFailed, "include when: "+err.Error())
			st.failed = true
			return modules.StatusFailed
		}
		if !ok {
			pr.recordStatus(st, t, modules.StatusSkipped, "conditional not met")
			return modules.StatusSkipped
		}
	}

	inc, err := pr.ex.Loader.ResolveDynamicInclude(t, pr.baseDir)
	if err != nil {
		pr.recordStatus(st, t, modules.StatusFailed, err.Error())
		st.failed = true
		return modules.StatusFailed
	}

	guard := st.store.Scoped(vars.IncludeParams)
	if len(inc.Vars) > 0 {
		st.store.BulkMerge(inc.Vars, vars.IncludeParams, vars.Source{Path: t.IncludeFile})
	}
	incSc := sc
	incSc.includeTags = append(append([]string{}, sc.includeTags...), t.Tags...)
	pr.runSequence(ctx, st, inc.Tasks, incSc)
	guard.Pop()

	if st.failed {
		return modules.StatusFailed
	}
	return modules.StatusOK
}

// prepareHost builds a host's seeded variable store: group vars in depth
// order (shallow first so deeper override), host vars, play vars and
// vars_files, extra vars on top, plus gathered facts when the play asks.
func (pr *playRun) prepareHost(ctx context.Context, h *inventory.Host) (*hostState, error) {
	st := &hostState{host: h, store: vars.NewStore()}

	for _, groupName := range pr.inv.AncestorGroupsDepthOrdered(h.Name) {
		g, ok := pr.inv.Groups[groupName]
		if !ok {
			continue
		}
		prec := vars.InventoryGroupVars
		if groupName == inventory.AllGroupName {
			prec = vars.InventoryGroupAllVars
		}
		for _, kv := range g.Vars {
			st.store.Set(kv.Key, kv.Value, prec, vars.Source{Path: "group:" + groupName})
		}
	}
	for _, kv := range h.Vars {
		st.store.Set(kv.Key, kv.Value, vars.InventoryHostVars, vars.Source{Path: "host:" + h.Name})
	}
	st.store.Set("inventory_hostname", h.Name, vars.InventoryHostVars, vars.Source{Path: "host:" + h.Name})

	if len(pr.play.Vars) > 0 {
		st.store.BulkMerge(pr.play.Vars, vars.PlayVars, vars.Source{Path: pr.play.SourceFile})
	}
	for _, vf := range pr.play.VarsFiles {
		loaded, err := loadYAMLVars(pr.baseDir, vf)
		if err != nil {
			return nil, fmt.Errorf("play %q: vars_files %s: %w", pr.play.Name, vf, err)
		}
		st.store.BulkMerge(loaded, vars.PlayVarsFiles, vars.Source{Path: vf})
	}

	for _, ri := range pr.play.Roles {
		role := ri.Resolved()
		if role == nil {
			continue
		}
		if len(role.Defaults) > 0 {
			st.store.BulkMerge(role.Defaults, vars.RoleDefaults, vars.Source{Path: role.Path})
		}
		if len(role.Vars) > 0 {
			st.store.BulkMerge(role.Vars, vars.RoleVars, vars.Source{Path: role.Path})
		}
		if len(ri.Params) > 0 {
			st.store.BulkMerge(ri.Params, vars.RoleParams, vars.Source{Path: role.Path})
		}
	}

	if len(pr.ex.ExtraVars) > 0 {
		st.store.BulkMerge(pr.ex.ExtraVars, vars.ExtraVars, vars.Source{Path: "extra-vars"})
	}

	if pr.play.GatherFacts {
		facts, err := pr.gatherFacts(ctx, h)
		if err != nil {
			st.unreachable = true
			pr.sum.Record(h.Name, modules.StatusUnreachable)
			pr.ex.Events.Emit(Event{Kind: EventHostUnreachable, Play: pr.play.Name, Host: h.Name, Message: err.Error()})
			return st, nil
		}
		st.store.BulkMerge(facts, vars.GatheredFacts, vars.Source{Path: "facts:" + h.Name})
	}
	return st, nil
}

func (pr *playRun) gatherFacts(ctx context.Context, h *inventory.Host) (map[string]any, error) {
	if fc := pr.ex.Facts; fc != nil {
		if fc.Covers(h.Name, nil) {
			return fc.Get(h.Name, nil), nil
		}
	}
	facts, err := pr.ex.GatherFacts(ctx, h)
	if err != nil {
		return nil, err
	}
	if fc := pr.ex.Facts; fc != nil {
		fc.Put(h.Name, facts, true)
	}
	return facts, nil
}

// flushHandlers fires pending notifications for the given hosts in play
// handler-definition order. Hosts already failed only
// participate when the play forces handlers.
func (pr *playRun) flushHandlers(ctx context.Context, states []*hostState) {
	byName := map[string]*hostState{}
	var hosts []string
	for _, st := range states {
		if st.unreachable {
			continue
		}
		if st.failed && !pr.play.ForceHandlers {
			continue
		}
		byName[st.host.Name] = st
		hosts = append(hosts, st.host.Name)
	}
	if len(hosts) == 0 || len(pr.play.Handlers) == 0 {
		return
	}

	results := pr.hengine.Flush(hosts, pr.play.Handlers, func(host string, h *playbook.Handler) error {
		st := byName[host]
		status := pr.runAtomic(ctx, st, &h.Task, scope{})
		if status == modules.StatusFailed {
			return fmt.Errorf("handler %q failed on %s", h.Task.Name, host)
		}
		return nil
	})
	for _, r := range results {
		st := byName[r.Host]
		if r.Err != nil && st != nil {
			st.failed = true
		}
		pr.ex.Events.Emit(Event{
			Kind: EventHandlerResult, Play: pr.play.Name, Host: r.Host,
			Task: r.Handler.Task.Name,
		})
	}
}

func anyFailed(states []*hostState) bool {
	for _, st := range states {
		if st.failed || st.unreachable {
			return true
		}
	}
	return false
}

// batches splits names into serial-sized chunks; serial<=0 means one batch.
func batches(names []string, serial int) [][]string {
	if serial <= 0 || serial >= len(names) {
		return [][]string{names}
	}
	var out [][]string
	for start := 0; start < len(names); start += serial {
		end := start + serial
		if end > len(names) {
			end = len(names)
		}
		out = append(out, names[start:end])
	}
	return out
}

func playBaseDir(play *playbook.Play) string {
	if play.SourceFile == "" {
		return "."
	}
	return filepath.Dir(play.SourceFile)
}
