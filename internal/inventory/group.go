package inventory

// Group is a named collection of hosts plus child/parent group links. The
// parent/child relation is computed transitively at load and must be
// acyclic.
type Group struct {
	Name     string
	Hosts    map[string]struct{}
	Children map[string]struct{}
	Parents  map[string]struct{}
	Vars     []KV
	Priority int
}

// AllGroupName and UngroupedGroupName are the two distinguished groups:
// "all" contains every host; "ungrouped" contains hosts with no explicit
// parent.
const (
	AllGroupName        = "all"
	UngroupedGroupName   = "ungrouped"
)

// NewGroup returns an empty Group.
func NewGroup(name string) *Group {
	return &Group{
		Name:     name,
		Hosts:    map[string]struct{}{},
		Children: map[string]struct{}{},
		Parents:  map[string]struct{}{},
	}
}
