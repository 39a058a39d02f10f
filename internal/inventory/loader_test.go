package inventory

import "testing"

const sampleYAML = `
all:
  hosts:
    web1:
      ansible_host: 10.0.0.1
      ansible_port: 2222
    web2: {}
  vars:
    env: prod
  children:
    webservers:
      hosts:
        web1: {}
        web2: {}
      vars:
        http_port: 8080
    db:
      hosts:
        db1: {}
`

func TestLoadBuildsGroupsAndHosts(t *testing.T) {
	inv, err := Load([]byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	if len(inv.Hosts) != 3 {
		t.Fatalf("expected 3 hosts, got %d", len(inv.Hosts))
	}
	web1 := inv.Hosts["web1"]
	if web1 == nil || web1.Address != "10.0.0.1" || web1.Port != 2222 {
		t.Fatalf("web1 connection vars not applied: %+v", web1)
	}
	if _, ok := inv.Groups["webservers"]; !ok {
		t.Fatal("expected webservers group")
	}
}

func TestFinalizeUngroupedOnlyCatchesHostsWithNoExplicitGroup(t *testing.T) {
	inv, err := Load([]byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := inv.Groups[UngroupedGroupName].Hosts["web1"]; ok {
		t.Fatal("web1 belongs to webservers, should not be ungrouped")
	}
}

func TestTransitiveHostsIncludesDescendantGroups(t *testing.T) {
	inv, err := Load([]byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	hosts := inv.TransitiveHosts(AllGroupName)
	if len(hosts) != 3 {
		t.Fatalf("expected all 3 hosts transitively under all, got %v", hosts)
	}
}

func TestCheckAcyclicDetectsCycle(t *testing.T) {
	inv := New()
	inv.Link(AllGroupName, "a")
	inv.Link("a", "b")
	inv.Link("b", "a")
	if err := inv.CheckAcyclic(); err == nil {
		t.Fatal("expected cycle detection error")
	}
}

func TestAncestorGroupsDepthOrderedShallowFirst(t *testing.T) {
	inv, err := Load([]byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	chain := inv.AncestorGroupsDepthOrdered("web1")
	if len(chain) < 2 {
		t.Fatalf("expected at least 2 ancestor groups, got %v", chain)
	}
	if chain[0] != AllGroupName {
		t.Fatalf("expected 'all' first (shallowest), got %v", chain)
	}
	if chain[len(chain)-1] != "webservers" {
		t.Fatalf("expected 'webservers' last (deepest, overrides), got %v", chain)
	}
}
