package inventory

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// yamlGroup mirrors the nested Ansible-style inventory document shape:
//
//	all:
//	  hosts: {web1: {ansible_host: 10.0.0.1}}
//	  children:
//	    webservers:
//	      hosts: {web1: {}}
//	      vars: {http_port: 8080}
type yamlGroup struct {
	Hosts    map[string]map[string]any `yaml:"hosts"`
	Vars     map[string]any            `yaml:"vars"`
	Children map[string]yamlGroup      `yaml:"children"`
}

type yamlRoot struct {
	All yamlGroup `yaml:"all"`
}

// reservedHostVarKeys are the ansible_*-style keys the loader interprets as
// connection parameters rather than copying verbatim into a host's Vars.
const (
	keyHost      = "ansible_host"
	keyPort      = "ansible_port"
	keyUser      = "ansible_user"
	keyPassword  = "ansible_password"
	keyKeyFile   = "ansible_ssh_private_key_file"
	keyConn      = "ansible_connection"
	keyBecome    = "ansible_become_method"
	keyBecomeUsr = "ansible_become_user"
	keyPython    = "ansible_python_interpreter"
)

// LoadFile reads and parses a YAML inventory document from path.
func LoadFile(path string) (*Inventory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("inventory: read %s: %w", path, err)
	}
	return Load(raw)
}

// Load parses a YAML inventory document.
func Load(raw []byte) (*Inventory, error) {
	var doc yamlRoot
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("inventory: parse: %w", err)
	}
	inv := New()
	if err := loadGroup(inv, AllGroupName, doc.All); err != nil {
		return nil, err
	}
	inv.FinalizeUngrouped()
	if err := inv.CheckAcyclic(); err != nil {
		return nil, err
	}
	return inv, nil
}

func loadGroup(inv *Inventory, name string, g yamlGroup) error {
	grp := inv.AddGroup(name)
	grp.Vars = sortedVarKVs(g.Vars)

	hostNames := make([]string, 0, len(g.Hosts))
	for hn := range g.Hosts {
		hostNames = append(hostNames, hn)
	}
	sort.Strings(hostNames)

	for _, hn := range hostNames {
		hostVars := g.Hosts[hn]
		h, ok := inv.Hosts[hn]
		if !ok {
			h = NewHost(hn)
			applyHostVars(h, hostVars)
			inv.AddHost(h)
		} else {
			applyHostVars(h, hostVars)
		}
		inv.AttachHostToGroup(hn, name)
	}

	childNames := make([]string, 0, len(g.Children))
	for cn := range g.Children {
		childNames = append(childNames, cn)
	}
	sort.Strings(childNames)

	for _, cn := range childNames {
		inv.Link(name, cn)
		if err := loadGroup(inv, cn, g.Children[cn]); err != nil {
			return err
		}
	}
	return nil
}

func applyHostVars(h *Host, raw map[string]any) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := raw[k]
		switch k {
		case keyHost:
			h.Address = fmt.Sprint(v)
		case keyPort:
			if p, ok := toInt(v); ok {
				h.Port = p
			}
		case keyUser:
			h.Auth.User = fmt.Sprint(v)
		case keyPassword:
			h.Auth.Password = fmt.Sprint(v)
		case keyKeyFile:
			h.Auth.KeyFile = fmt.Sprint(v)
		case keyConn:
			h.Transport = TransportKind(fmt.Sprint(v))
		case keyBecome:
			h.Auth.Become = BecomeMethod(fmt.Sprint(v))
		case keyBecomeUsr:
			h.Auth.BecomeUser = fmt.Sprint(v)
		case keyPython:
			h.Auth.PythonInterp = fmt.Sprint(v)
		default:
			h.Vars = append(h.Vars, KV{Key: k, Value: v})
		}
	}
	if h.Address == "" {
		h.Address = h.Name
	}
}

func sortedVarKVs(raw map[string]any) []KV {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]KV, 0, len(keys))
	for _, k := range keys {
		out = append(out, KV{Key: k, Value: raw[k]})
	}
	return out
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(t)
		return n, err == nil
	default:
		return 0, false
	}
}
