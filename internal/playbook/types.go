// Package playbook models the declarative plays/tasks/handlers/blocks graph
// that a conclave run resolves against an inventory, and the loader that
// turns YAML into that graph.
package playbook

// Strategy selects how a play schedules its hosts.
type Strategy string

const (
	StrategyLinear Strategy = "linear"
	StrategyFree   Strategy = "free"
)

// BecomeMethod mirrors inventory.BecomeMethod but is declared independently
// here since a playbook can specify become before any inventory is loaded.
type BecomeMethod string

// TaskKind distinguishes the three shapes a Task can take: an
// atomic module call, a block of child tasks, or an include/import marker.
type TaskKind int

const (
	TaskAtomic TaskKind = iota
	TaskBlock
	TaskInclude
)

// IncludeMode distinguishes static (load-time inlined) from dynamic
// (execution-time resolved) includes.
type IncludeMode int

const (
	IncludeStatic IncludeMode = iota
	IncludeDynamic
)

// Task is a sum of three shapes. Kind selects which fields are
// meaningful: Atomic uses Module/Args; Block uses Block/Rescue/Always;
// Include uses IncludeFile/IncludeMode/IncludeVars.
type Task struct {
	Name string
	Kind TaskKind

	// Atomic fields.
	Module string // short name "copy" or FQCN "ns.col.name"
	Args   map[string]any

	// Block fields.
	Block  []*Task
	Rescue []*Task
	Always []*Task

	// Include/import fields.
	IncludeFile string
	IncludeMode IncludeMode
	IncludeVars map[string]any

	// Shared attributes, present on every shape.
	When         string
	Loop         []any
	LoopVar      string // defaults to "item"
	Register     string
	Notify       []string
	Tags         []string
	Become       BecomeMethod
	BecomeUser   string
	Retries      int
	Delay        int // seconds
	ChangedWhen  string
	FailedWhen   string
	NoLog        bool
	IgnoreErrors bool
	Vars         map[string]any
	Environment  map[string]string
	DelegateTo   string
	RunOnce      bool

	// SourceFile/SourceLine are carried for diagnostics and cache keying.
	SourceFile string
	SourceLine int
}

// EffectiveTags returns t's own declared tags; callers compose the full
// inheritance chain (play/role/block/include/task) via tags.Inherit.
func (t *Task) EffectiveTags() []string { return t.Tags }

// Handler is an atomic task plus the notification names that trigger it.
type Handler struct {
	Task  Task
	Names []string // names this handler answers to; Task.Name is always included
}

// Play is an ordered host pattern binding hosts to a task sequence.
type Play struct {
	Name           string
	HostPattern    string
	GatherFacts    bool
	Become         BecomeMethod
	BecomeUser     string
	Vars           map[string]any
	VarsFiles      []string
	PreTasks       []*Task
	Roles          []*RoleInclude
	Tasks          []*Task
	PostTasks      []*Task
	Handlers       []*Handler
	Strategy       Strategy
	Serial         int // 0 means unbounded (all hosts in one batch)
	AnyErrorsFatal bool
	ForceHandlers  bool
	Tags           []string

	SourceFile string
}

// RoleInclude binds a role name to the parameters supplied at the point of
// inclusion (RoleParams precedence).
type RoleInclude struct {
	Name   string
	Params map[string]any
	Tags   []string

	resolved *Role
}

// Resolved returns the Role this include was bound to at load time, or nil
// if the playbook has not been loaded through a Loader.
func (ri *RoleInclude) Resolved() *Role { return ri.resolved }

// Role is the loaded contents of a role directory.
type Role struct {
	Name         string
	Path         string
	Tasks        []*Task
	Handlers     []*Handler
	Defaults     map[string]any // RoleDefaults precedence
	Vars         map[string]any // RoleVars precedence
	Dependencies []*RoleInclude

	// Files lists every path this role's load touched (including its
	// dependency roles'), so a cached role can still contribute its file
	// set to a playbook's dependency fingerprints.
	Files []string
}

// Playbook is an ordered sequence of plays plus its source path, used as the
// cache key's identity component.
type Playbook struct {
	Plays      []*Play
	SourcePath string

	// Dependencies lists every file beyond SourcePath whose content shaped
	// this parse (imported task files, role files, vars_files); the parse
	// cache fingerprints each one so editing any of them invalidates the
	// cached playbook.
	Dependencies []string
}
