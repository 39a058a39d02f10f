package inventory

import (
	"fmt"
	"sort"
)

// Inventory holds every Host and Group loaded from an inventory source,
// plus the transitive-closure cache used by hosts_in(pattern).
type Inventory struct {
	Hosts  map[string]*Host
	Groups map[string]*Group

	closure map[string][]string // group name -> transitive member host names, memoized
}

// New returns an empty Inventory with the "all" and "ungrouped" groups
// pre-created.
func New() *Inventory {
	inv := &Inventory{
		Hosts:   map[string]*Host{},
		Groups:  map[string]*Group{},
		closure: map[string][]string{},
	}
	inv.Groups[AllGroupName] = NewGroup(AllGroupName)
	inv.Groups[UngroupedGroupName] = NewGroup(UngroupedGroupName)
	return inv
}

// AddHost registers host, attaching it to the "all" group. It is the
// caller's responsibility to also attach host to any explicit groups.
func (inv *Inventory) AddHost(h *Host) {
	inv.Hosts[h.Name] = h
	inv.Groups[AllGroupName].Hosts[h.Name] = struct{}{}
	h.Groups[AllGroupName] = struct{}{}
	inv.invalidate()
}

// AddGroup registers an empty group if it does not already exist and
// returns it.
func (inv *Inventory) AddGroup(name string) *Group {
	if g, ok := inv.Groups[name]; ok {
		return g
	}
	g := NewGroup(name)
	inv.Groups[name] = g
	inv.invalidate()
	return g
}

// Link establishes parent -> child group membership.
func (inv *Inventory) Link(parent, child string) {
	p := inv.AddGroup(parent)
	c := inv.AddGroup(child)
	p.Children[child] = struct{}{}
	c.Parents[parent] = struct{}{}
	inv.invalidate()
}

// AttachHostToGroup places host in group (both directions).
func (inv *Inventory) AttachHostToGroup(hostName, groupName string) {
	g := inv.AddGroup(groupName)
	g.Hosts[hostName] = struct{}{}
	if h, ok := inv.Hosts[hostName]; ok {
		h.Groups[groupName] = struct{}{}
	}
	inv.invalidate()
}

func (inv *Inventory) invalidate() {
	inv.closure = map[string][]string{}
}

// FinalizeUngrouped places every host with no explicit non-"all" group
// membership into "ungrouped".
func (inv *Inventory) FinalizeUngrouped() {
	for name, h := range inv.Hosts {
		explicit := false
		for g := range h.Groups {
			if g != AllGroupName {
				explicit = true
				break
			}
		}
		if !explicit {
			inv.AttachHostToGroup(name, UngroupedGroupName)
		}
	}
}

// CheckAcyclic verifies the parent/child relation has no cycles, returning
// an error naming one cycle edge if it does.
func (inv *Inventory) CheckAcyclic() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var visit func(name string) error
	visit = func(name string) error {
		color[name] = gray
		g := inv.Groups[name]
		children := sortedKeys(g.Children)
		for _, child := range children {
			switch color[child] {
			case white:
				if err := visit(child); err != nil {
					return err
				}
			case gray:
				return fmt.Errorf("inventory group cycle detected: %s -> %s", name, child)
			}
		}
		color[name] = black
		return nil
	}
	for _, name := range sortedKeys(groupNameSet(inv.Groups)) {
		if color[name] == white {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// HostsIn resolves pattern (per ParsePattern/Match in pattern.go) to a sorted list
// of host names.
func (inv *Inventory) HostsIn(pattern string) ([]string, error) {
	expr, err := ParsePattern(pattern)
	if err != nil {
		return nil, err
	}
	set := expr.Match(inv)
	return sortedKeys(set), nil
}

// TransitiveHosts returns every host belonging to group, directly or via
// any descendant group, memoized per Inventory until the next mutation.
func (inv *Inventory) TransitiveHosts(groupName string) []string {
	if cached, ok := inv.closure[groupName]; ok {
		return cached
	}
	g, ok := inv.Groups[groupName]
	if !ok {
		return nil
	}
	seen := map[string]struct{}{}
	var walk func(name string)
	walk = func(name string) {
		cur, ok := inv.Groups[name]
		if !ok {
			return
		}
		for h := range cur.Hosts {
			seen[h] = struct{}{}
		}
		for child := range cur.Children {
			walk(child)
		}
	}
	walk(g.Name)
	out := sortedKeys(seen)
	inv.closure[groupName] = out
	return out
}

// AncestorGroupsDepthOrdered returns the chain of ancestor groups for host,
// shallowest first (so deeper groups can override when vars are applied in
// this order).
func (inv *Inventory) AncestorGroupsDepthOrdered(hostName string) []string {
	h, ok := inv.Hosts[hostName]
	if !ok {
		return nil
	}
	depth := map[string]int{}
	var assign func(name string, d int)
	assign = func(name string, d int) {
		if cur, ok := depth[name]; ok && cur <= d {
			return
		}
		depth[name] = d
		g, ok := inv.Groups[name]
		if !ok {
			return
		}
		for parent := range g.Parents {
			assign(parent, d+1)
		}
	}
	for g := range h.Groups {
		assign(g, 0)
	}
	// depth here is distance-from-host: groups directly holding the host are
	// 0, their parents 1, and so on. The shallowest group in the hierarchy
	// (closest to "all") therefore has the largest distance-from-host;
	// shallow groups apply first so deeper (closer to host) groups can
	// override, so sort by descending distance-from-host. AddHost attaches
	// every host to "all" directly, which gives "all" distance 0, so "all"
	// is placed first explicitly as the root of every hierarchy.
	names := make([]string, 0, len(depth))
	for n := range depth {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		if (names[i] == AllGroupName) != (names[j] == AllGroupName) {
			return names[i] == AllGroupName
		}
		if depth[names[i]] != depth[names[j]] {
			return depth[names[i]] > depth[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func groupNameSet(groups map[string]*Group) map[string]struct{} {
	out := make(map[string]struct{}, len(groups))
	for name := range groups {
		out[name] = struct{}{}
	}
	return out
}
