package modules

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// GroupModule manages a local/remote Unix group via getent/groupadd/
// groupmod/groupdel, reading current state with getent before deciding
// whether any write is needed.
type GroupModule struct{}

func (m *GroupModule) Name() string                  { return "group" }
func (m *GroupModule) Classification() Classification { return RemoteCommand }
func (m *GroupModule) ParallelizationHint() ParallelizationHint {
	return ParallelizationHint{Kind: HostExclusive}
}
func (m *GroupModule) RequiredParams() []string { return []string{"name"} }

func (m *GroupModule) ValidateParams(args map[string]any) error {
	if err := RequireParams(m.Name(), m.RequiredParams(), args); err != nil {
		return err
	}
	state, _ := StringArg(args, "state")
	if state != "" && state != "present" && state != "absent" {
		return &InvalidParameterError{Module: m.Name(), Parameter: "state", Reason: "must be 'present' or 'absent'"}
	}
	return nil
}

type groupInfo struct {
	exists  bool
	gid     int
	members []string
}

func (m *GroupModule) lookup(ctx context.Context, name string, mctx *Context) (groupInfo, error) {
	if mctx.Transport == nil {
		return groupInfo{}, fmt.Errorf("group: no transport bound")
	}
	stdout, _, exitCode, err := mctx.Transport.Execute(ctx, "getent group "+shellQuote(name), nil)
	if err != nil || exitCode != 0 || strings.TrimSpace(stdout) == "" {
		return groupInfo{exists: false}, nil
	}
	parts := strings.SplitN(strings.TrimSpace(stdout), ":", 4)
	if len(parts) < 4 {
		return groupInfo{}, fmt.Errorf("group: invalid getent entry for %q", name)
	}
	gid, _ := strconv.Atoi(parts[2])
	var members []string
	if parts[3] != "" {
		members = strings.Split(parts[3], ",")
	}
	return groupInfo{exists: true, gid: gid, members: members}, nil
}

func (m *GroupModule) run(ctx context.Context, args map[string]any, mctx *Context, apply bool) (Result, error) {
	name, _ := StringArg(args, "name")
	state, ok := StringArg(args, "state")
	if !ok {
		state = "present"
	}
	info, err := m.lookup(ctx, name, mctx)
	if err != nil {
		return Failed(err.Error(), err), nil
	}

	if state == "absent" {
		if !info.exists {
			return OK(fmt.Sprintf("group %q already absent", name)), nil
		}
		if !apply {
			return Changed(fmt.Sprintf("would remove group %q", name)), nil
		}
		if _, _, exitCode, err := mctx.Transport.Execute(ctx, "groupdel "+shellQuote(name), nil); err != nil || exitCode != 0 {
			return Failed(fmt.Sprintf("groupdel %q failed", name), err), nil
		}
		return Changed(fmt.Sprintf("removed group %q", name)), nil
	}

	gidArg, hasGid := args["gid"]
	var desiredGid int
	if hasGid {
		desiredGid = toInt(gidArg)
	}

	if !info.exists {
		if !apply {
			return Changed(fmt.Sprintf("would create group %q", name)), nil
		}
		cmd := []string{"groupadd"}
		if hasGid {
			cmd = append(cmd, "-g", strconv.Itoa(desiredGid))
		}
		if BoolArg(args, "system", false) {
			cmd = append(cmd, "-r")
		}
		cmd = append(cmd, shellQuote(name))
		if _, _, exitCode, err := mctx.Transport.Execute(ctx, strings.Join(cmd, " "), nil); err != nil || exitCode != 0 {
			return Failed(fmt.Sprintf("groupadd %q failed", name), err), nil
		}
		return Changed(fmt.Sprintf("created group %q", name)).WithData("gid", desiredGid), nil
	}

	if hasGid && info.gid != desiredGid {
		if !apply {
			return Changed(fmt.Sprintf("would modify group %q", name)), nil
		}
		cmd := fmt.Sprintf("groupmod -g %d %s", desiredGid, shellQuote(name))
		if _, _, exitCode, err := mctx.Transport.Execute(ctx, cmd, nil); err != nil || exitCode != 0 {
			return Failed(fmt.Sprintf("groupmod %q failed", name), err), nil
		}
		return Changed(fmt.Sprintf("modified group %q", name)).WithData("gid", desiredGid), nil
	}

	return OK(fmt.Sprintf("group %q is in desired state", name)).
		WithData("gid", info.gid).
		WithData("members", info.members), nil
}

func (m *GroupModule) Execute(ctx context.Context, args map[string]any, mctx *Context) (Result, error) {
	return m.run(ctx, args, mctx, !mctx.CheckMode)
}

func (m *GroupModule) Check(ctx context.Context, args map[string]any, mctx *Context) (Result, error) {
	return m.run(ctx, args, mctx, false)
}

func (m *GroupModule) Diff(ctx context.Context, args map[string]any, mctx *Context) (*Diff, error) {
	name, _ := StringArg(args, "name")
	info, err := m.lookup(ctx, name, mctx)
	if err != nil {
		return nil, err
	}
	before := "group: (absent)"
	if info.exists {
		before = fmt.Sprintf("group: %s\ngid: %d\nmembers: %s", name, info.gid, strings.Join(info.members, ","))
	}
	state, _ := StringArg(args, "state")
	after := before
	if state == "absent" {
		after = "group: (absent)"
	} else if !info.exists {
		after = fmt.Sprintf("group: %s (will be created)", name)
	}
	if before == after {
		return nil, nil
	}
	return &Diff{Before: before, After: after}, nil
}

func toInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		n, _ := strconv.Atoi(t)
		return n
	default:
		return 0
	}
}
