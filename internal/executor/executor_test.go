package executor

import (
	"context"
	"sync"
	"testing"

	"conclave/internal/governor"
	"conclave/internal/inventory"
	"conclave/internal/modules"
	"conclave/internal/playbook"
	"conclave/internal/secrets"
	"conclave/internal/tags"
)

// fakeModule is a scriptable LocalLogic module for pipeline tests.
type fakeModule struct {
	name string
	exec func(args map[string]any, mctx *modules.Context) modules.Result

	mu    sync.Mutex
	calls int
}

func (m *fakeModule) Name() string                          { return m.name }
func (m *fakeModule) Classification() modules.Classification { return modules.LocalLogic }
func (m *fakeModule) ParallelizationHint() modules.ParallelizationHint {
	return modules.ParallelizationHint{Kind: modules.FullyParallel}
}
func (m *fakeModule) RequiredParams() []string                 { return nil }
func (m *fakeModule) ValidateParams(args map[string]any) error { return nil }

func (m *fakeModule) Execute(_ context.Context, args map[string]any, mctx *modules.Context) (modules.Result, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.exec != nil {
		return m.exec(args, mctx), nil
	}
	return modules.OK(""), nil
}

func (m *fakeModule) Check(ctx context.Context, args map[string]any, mctx *modules.Context) (modules.Result, error) {
	return m.Execute(ctx, args, mctx)
}

func (m *fakeModule) Diff(context.Context, map[string]any, *modules.Context) (*modules.Diff, error) {
	return nil, nil
}

func (m *fakeModule) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func testInventory(t *testing.T, hostNames ...string) *inventory.Inventory {
	t.Helper()
	inv := inventory.New()
	for _, name := range hostNames {
		h := inventory.NewHost(name)
		h.Transport = inventory.TransportLocal
		inv.AddHost(h)
	}
	inv.FinalizeUngrouped()
	return inv
}

func testExecutor(reg *modules.Registry) *Executor {
	return &Executor{
		Registry: reg,
		Gate:     governor.NewGate(5),
	}
}

func atomicTask(name, module string, args map[string]any) *playbook.Task {
	return &playbook.Task{Name: name, Kind: playbook.TaskAtomic, Module: module, Args: args}
}

func TestNotifyFlushRunsHandlerOnceThenNotAgain(t *testing.T) {
	changedOnFirstRun := true
	copyMod := &fakeModule{name: "fake_copy", exec: func(map[string]any, *modules.Context) modules.Result {
		if changedOnFirstRun {
			return modules.Changed("copied")
		}
		return modules.OK("unchanged")
	}}
	handlerMod := &fakeModule{name: "fake_restart"}
	debugMod := &fakeModule{name: "fake_debug"}

	reg := modules.NewRegistry()
	reg.Register("fake_copy", func() modules.Module { return copyMod })
	reg.Register("fake_restart", func() modules.Module { return handlerMod })
	reg.Register("fake_debug", func() modules.Module { return debugMod })

	play := &playbook.Play{
		Name:        "handlers",
		HostPattern: "all",
		Tasks: []*playbook.Task{
			func() *playbook.Task {
				tk := atomicTask("copy config", "fake_copy", nil)
				tk.Notify = []string{"restart_x"}
				return tk
			}(),
			atomicTask("debug", "fake_debug", nil),
		},
		Handlers: []*playbook.Handler{
			{Task: *atomicTask("restart_x", "fake_restart", nil), Names: []string{"restart_x"}},
		},
	}

	ex := testExecutor(reg)
	pb := &playbook.Playbook{Plays: []*playbook.Play{play}}
	inv := testInventory(t, "h1")

	if _, err := ex.RunPlaybook(context.Background(), pb, inv); err != nil {
		t.Fatal(err)
	}
	if got := handlerMod.callCount(); got != 1 {
		t.Fatalf("first run: handler ran %d times, want 1", got)
	}

	changedOnFirstRun = false
	if _, err := ex.RunPlaybook(context.Background(), pb, inv); err != nil {
		t.Fatal(err)
	}
	if got := handlerMod.callCount(); got != 1 {
		t.Fatalf("second run: handler ran %d total times, want still 1", got)
	}
}

func TestTagFilterWithAlways(t *testing.T) {
	var ran []string
	var mu sync.Mutex
	record := func(name string) *fakeModule {
		return &fakeModule{name: name, exec: func(map[string]any, *modules.Context) modules.Result {
			mu.Lock()
			ran = append(ran, name)
			mu.Unlock()
			return modules.OK("")
		}}
	}
	reg := modules.NewRegistry()
	reg.Register("m_install", func() modules.Module { return record("m_install") })
	reg.Register("m_configure", func() modules.Module { return record("m_configure") })
	reg.Register("m_cleanup", func() modules.Module { return record("m_cleanup") })

	mkPlay := func() *playbook.Play {
		install := atomicTask("install", "m_install", nil)
		install.Tags = []string{"install"}
		configure := atomicTask("configure", "m_configure", nil)
		configure.Tags = []string{"configure"}
		cleanup := atomicTask("cleanup", "m_cleanup", nil)
		cleanup.Tags = []string{"always"}
		return &playbook.Play{Name: "tags", HostPattern: "all", Tasks: []*playbook.Task{install, configure, cleanup}}
	}

	filter, err := tags.NewFilter([]string{"install"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ex := testExecutor(reg)
	ex.Filter = filter
	inv := testInventory(t, "h1")
	if _, err := ex.RunPlaybook(context.Background(), &playbook.Playbook{Plays: []*playbook.Play{mkPlay()}}, inv); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	got := append([]string{}, ran...)
	ran = nil
	mu.Unlock()
	want := []string{"m_install", "m_cleanup"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("--tags install ran %v, want %v", got, want)
	}

	skip, err := tags.NewFilter(nil, []string{"always"})
	if err != nil {
		t.Fatal(err)
	}
	ex2 := testExecutor(reg)
	ex2.Filter = skip
	if _, err := ex2.RunPlaybook(context.Background(), &playbook.Playbook{Plays: []*playbook.Play{mkPlay()}}, inv); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	got = append([]string{}, ran...)
	mu.Unlock()
	want = []string{"m_install", "m_configure"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("--skip-tags always ran %v, want %v", got, want)
	}
}

func TestLoopRegisterAggregation(t *testing.T) {
	mod := &fakeModule{name: "m_loop", exec: func(args map[string]any, _ *modules.Context) modules.Result {
		item, _ := modules.StringArg(args, "value")
		if item == "b" {
			return modules.Changed("b changed")
		}
		return modules.OK(item)
	}}
	probe := &fakeModule{name: "m_probe"}
	reg := modules.NewRegistry()
	reg.Register("m_loop", func() modules.Module { return mod })
	reg.Register("m_probe", func() modules.Module { return probe })

	task := atomicTask("loop", "m_loop", map[string]any{"value": "{{ item }}"})
	task.Loop = []any{"a", "b", "c"}
	task.LoopVar = "item"
	task.Register = "r"

	var registered map[string]any
	check := atomicTask("check", "m_probe", nil)
	probe.exec = func(_ map[string]any, mctx *modules.Context) modules.Result {
		if r, ok := mctx.Vars["r"].(map[string]any); ok {
			registered = r
		}
		return modules.OK("")
	}

	play := &playbook.Play{Name: "loop", HostPattern: "all", Tasks: []*playbook.Task{task, check}}
	ex := testExecutor(reg)
	inv := testInventory(t, "h1")
	if _, err := ex.RunPlaybook(context.Background(), &playbook.Playbook{Plays: []*playbook.Play{play}}, inv); err != nil {
		t.Fatal(err)
	}

	if registered == nil {
		t.Fatal("register r not visible to the following task")
	}
	results, ok := registered["results"].([]any)
	if !ok || len(results) != 3 {
		t.Fatalf("r.results = %v, want 3 entries", registered["results"])
	}
	if changed, _ := registered["changed"].(bool); !changed {
		t.Fatal("r.changed should be the OR of iteration changes (true)")
	}
	second, ok := results[1].(map[string]any)
	if !ok || second["item"] != "b" {
		t.Fatalf("results[1] = %v, want item b", results[1])
	}
	if c, _ := second["changed"].(bool); !c {
		t.Fatal("results[1].changed should be true")
	}
}

func TestBlockRescueAlways(t *testing.T) {
	var order []string
	var mu sync.Mutex
	var rescueSawFailure bool
	step := func(name string, res modules.Result) *fakeModule {
		return &fakeModule{name: name, exec: func(_ map[string]any, mctx *modules.Context) modules.Result {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			if name == "m_rescue" {
				if fr, ok := mctx.Vars["ansible_failed_result"].(map[string]any); ok {
					if failed, _ := fr["failed"].(bool); failed {
						rescueSawFailure = true
					}
				}
			}
			return res
		}}
	}
	reg := modules.NewRegistry()
	reg.Register("m_fail", func() modules.Module {
		return step("m_fail", modules.Failed("boom", nil))
	})
	reg.Register("m_never", func() modules.Module { return step("m_never", modules.OK("")) })
	reg.Register("m_rescue", func() modules.Module { return step("m_rescue", modules.OK("")) })
	reg.Register("m_always", func() modules.Module { return step("m_always", modules.OK("")) })
	reg.Register("m_after", func() modules.Module { return step("m_after", modules.OK("")) })

	block := &playbook.Task{
		Name: "blk", Kind: playbook.TaskBlock,
		Block:  []*playbook.Task{atomicTask("fail", "m_fail", nil), atomicTask("never", "m_never", nil)},
		Rescue: []*playbook.Task{atomicTask("rescue", "m_rescue", nil)},
		Always: []*playbook.Task{atomicTask("always", "m_always", nil)},
	}
	after := atomicTask("after", "m_after", nil)

	play := &playbook.Play{Name: "block", HostPattern: "all", Tasks: []*playbook.Task{block, after}}
	ex := testExecutor(reg)
	inv := testInventory(t, "h1")
	sum, err := ex.RunPlaybook(context.Background(), &playbook.Playbook{Plays: []*playbook.Play{play}}, inv)
	if err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"m_fail", "m_rescue", "m_always", "m_after"}
	if len(order) != len(want) {
		t.Fatalf("execution order %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("execution order %v, want %v", order, want)
		}
	}
	if !rescueSawFailure {
		t.Fatal("rescue task did not see ansible_failed_result")
	}
	// Rescue completed cleanly, so the host stays active and the play is
	// not counted failed overall — but the failing task is still tallied.
	if st := sum.Hosts["h1"]; st.Failed != 1 {
		t.Fatalf("h1 failed count = %d, want 1", st.Failed)
	}
}

func TestVariablePrecedenceExtraVarsWin(t *testing.T) {
	var rendered string
	probe := &fakeModule{name: "m_greet", exec: func(args map[string]any, _ *modules.Context) modules.Result {
		rendered, _ = modules.StringArg(args, "msg")
		return modules.OK("")
	}}
	reg := modules.NewRegistry()
	reg.Register("m_greet", func() modules.Module { return probe })

	inv := inventory.New()
	h := inventory.NewHost("h1")
	h.Transport = inventory.TransportLocal
	inv.AddHost(h)
	g := inv.AddGroup("web")
	g.Vars = []inventory.KV{{Key: "greeting", Value: "hello"}}
	inv.AttachHostToGroup("h1", "web")
	inv.FinalizeUngrouped()

	play := &playbook.Play{
		Name:        "precedence",
		HostPattern: "all",
		Vars:        map[string]any{"greeting": "hola"},
		Tasks:       []*playbook.Task{atomicTask("greet", "m_greet", map[string]any{"msg": "{{ greeting }}"})},
	}

	ex := testExecutor(reg)
	ex.ExtraVars = map[string]any{"greeting": "bonjour"}
	if _, err := ex.RunPlaybook(context.Background(), &playbook.Playbook{Plays: []*playbook.Play{play}}, inv); err != nil {
		t.Fatal(err)
	}
	if rendered != "bonjour" {
		t.Fatalf("rendered greeting = %q, want bonjour (extra-vars highest precedence)", rendered)
	}
}

func TestFailureIsolationSkipsRemainingTasksOnHost(t *testing.T) {
	failMod := &fakeModule{name: "m_fail2", exec: func(map[string]any, *modules.Context) modules.Result {
		return modules.Failed("boom", nil)
	}}
	afterMod := &fakeModule{name: "m_after2"}
	reg := modules.NewRegistry()
	reg.Register("m_fail2", func() modules.Module { return failMod })
	reg.Register("m_after2", func() modules.Module { return afterMod })

	play := &playbook.Play{
		Name:        "isolation",
		HostPattern: "all",
		Tasks: []*playbook.Task{
			atomicTask("boom", "m_fail2", nil),
			atomicTask("after", "m_after2", nil),
		},
	}
	ex := testExecutor(reg)
	inv := testInventory(t, "h1", "h2")
	sum, err := ex.RunPlaybook(context.Background(), &playbook.Playbook{Plays: []*playbook.Play{play}}, inv)
	if err != nil {
		t.Fatal(err)
	}
	if afterMod.callCount() != 0 {
		t.Fatalf("task after a failure ran %d times, want 0", afterMod.callCount())
	}
	for _, host := range []string{"h1", "h2"} {
		if st := sum.Hosts[host]; st.Failed != 1 {
			t.Fatalf("%s failed count = %d, want 1", host, st.Failed)
		}
	}
	if !sum.HasFailures() {
		t.Fatal("summary should report failures")
	}
}

func TestRetriesReexecuteUntilSuccess(t *testing.T) {
	attempts := 0
	mod := &fakeModule{name: "m_flaky", exec: func(map[string]any, *modules.Context) modules.Result {
		attempts++
		if attempts < 3 {
			return modules.Failed("transient", nil)
		}
		return modules.OK("recovered")
	}}
	reg := modules.NewRegistry()
	reg.Register("m_flaky", func() modules.Module { return mod })

	task := atomicTask("flaky", "m_flaky", nil)
	task.Retries = 3

	play := &playbook.Play{Name: "retry", HostPattern: "all", Tasks: []*playbook.Task{task}}
	ex := testExecutor(reg)
	inv := testInventory(t, "h1")
	sum, err := ex.RunPlaybook(context.Background(), &playbook.Playbook{Plays: []*playbook.Play{play}}, inv)
	if err != nil {
		t.Fatal(err)
	}
	if attempts != 3 {
		t.Fatalf("module ran %d times, want 3", attempts)
	}
	if st := sum.Hosts["h1"]; st.Failed != 0 || st.OK != 1 {
		t.Fatalf("h1 stats = %+v, want ok=1 failed=0", st)
	}
}

func TestNoLogCensorsFailureDetail(t *testing.T) {
	mod := &fakeModule{name: "m_secret", exec: func(map[string]any, *modules.Context) modules.Result {
		return modules.Failed("the password is hunter2", nil)
	}}
	reg := modules.NewRegistry()
	reg.Register("m_secret", func() modules.Module { return mod })

	task := atomicTask("secret", "m_secret", map[string]any{"password": "hunter2"})
	task.NoLog = true

	play := &playbook.Play{Name: "nolog", HostPattern: "all", Tasks: []*playbook.Task{task}}
	ex := testExecutor(reg)
	ex.Secrets = secrets.NewRegistry()
	inv := testInventory(t, "h1")
	sum, err := ex.RunPlaybook(context.Background(), &playbook.Playbook{Plays: []*playbook.Play{play}}, inv)
	if err != nil {
		t.Fatal(err)
	}
	if len(sum.Failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(sum.Failures))
	}
	f := sum.Failures[0]
	if f.Message != censored {
		t.Fatalf("failure message %q leaked past no_log", f.Message)
	}
	for _, v := range f.Args {
		if s, ok := v.(string); ok && s == "hunter2" {
			t.Fatal("rendered args leaked the secret value")
		}
	}
}

func TestWhenConditionSkips(t *testing.T) {
	mod := &fakeModule{name: "m_cond"}
	reg := modules.NewRegistry()
	reg.Register("m_cond", func() modules.Module { return mod })

	run := atomicTask("runs", "m_cond", nil)
	run.When = "flag == 'on'"
	skip := atomicTask("skips", "m_cond", nil)
	skip.When = "flag == 'off'"

	play := &playbook.Play{
		Name: "when", HostPattern: "all",
		Vars:  map[string]any{"flag": "on"},
		Tasks: []*playbook.Task{run, skip},
	}
	ex := testExecutor(reg)
	inv := testInventory(t, "h1")
	sum, err := ex.RunPlaybook(context.Background(), &playbook.Playbook{Plays: []*playbook.Play{play}}, inv)
	if err != nil {
		t.Fatal(err)
	}
	if mod.callCount() != 1 {
		t.Fatalf("module ran %d times, want 1", mod.callCount())
	}
	if st := sum.Hosts["h1"]; st.Skipped != 1 || st.OK != 1 {
		t.Fatalf("h1 stats = %+v, want ok=1 skipped=1", st)
	}
}

func TestChangedWhenOverridesModuleStatus(t *testing.T) {
	mod := &fakeModule{name: "m_cw", exec: func(map[string]any, *modules.Context) modules.Result {
		return modules.Changed("always says changed")
	}}
	reg := modules.NewRegistry()
	reg.Register("m_cw", func() modules.Module { return mod })

	task := atomicTask("cw", "m_cw", nil)
	task.ChangedWhen = "false"

	play := &playbook.Play{Name: "cw", HostPattern: "all", Tasks: []*playbook.Task{task}}
	ex := testExecutor(reg)
	inv := testInventory(t, "h1")
	sum, err := ex.RunPlaybook(context.Background(), &playbook.Playbook{Plays: []*playbook.Play{play}}, inv)
	if err != nil {
		t.Fatal(err)
	}
	if st := sum.Hosts["h1"]; st.Changed != 0 || st.OK != 1 {
		t.Fatalf("h1 stats = %+v, want changed suppressed by changed_when: false", st)
	}
}

func TestGatherFactsAttachesInventoryHostname(t *testing.T) {
	var seen any
	mod := &fakeModule{name: "m_facts", exec: func(_ map[string]any, mctx *modules.Context) modules.Result {
		seen = mctx.Vars["inventory_hostname"]
		return modules.OK("")
	}}
	reg := modules.NewRegistry()
	reg.Register("m_facts", func() modules.Module { return mod })

	play := &playbook.Play{
		Name: "facts", HostPattern: "all", GatherFacts: true,
		Tasks: []*playbook.Task{atomicTask("facts", "m_facts", nil)},
	}
	ex := testExecutor(reg)
	inv := testInventory(t, "h1")
	if _, err := ex.RunPlaybook(context.Background(), &playbook.Playbook{Plays: []*playbook.Play{play}}, inv); err != nil {
		t.Fatal(err)
	}
	if seen != "h1" {
		t.Fatalf("inventory_hostname = %v, want h1", seen)
	}
}
