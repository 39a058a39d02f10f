// Package inventory implements the host/group data model and pattern
// matching an inventory source resolves host patterns against.
package inventory

// TransportKind selects which transport family a host uses.
type TransportKind string

const (
	TransportSSH     TransportKind = "ssh"
	TransportLocal   TransportKind = "local"
	TransportDocker  TransportKind = "docker"
	TransportPodman  TransportKind = "podman"
	TransportWinRM   TransportKind = "winrm"
)

// BecomeMethod is a privilege escalation mechanism.
type BecomeMethod string

const (
	BecomeSudo BecomeMethod = "sudo"
	BecomeSu   BecomeMethod = "su"
	BecomeDoas BecomeMethod = "doas"
)

// Auth carries the connection credentials resolved for a host.
type Auth struct {
	User           string
	KeyFile        string
	Password       string // resolved from a SecretBackend by the caller; never logged
	Become         BecomeMethod
	BecomeUser     string
	PythonInterp   string // ansible_python_interpreter-equivalent, informational
}

// Host is an inventory entity. Identity is Name; two hosts with the same
// Name are the same host. Created at load, immutable thereafter except for
// fact attachment (handled by the caller through the variable store, at
// GatheredFacts precedence — Host itself never mutates Vars in place).
type Host struct {
	Name      string
	Address   string
	Port      int
	Transport TransportKind
	Auth      Auth
	// Vars holds host-scoped variables in declaration order; callers copy
	// these into the run's variable store at InventoryHostVars precedence.
	Vars    []KV
	Groups  map[string]struct{}
}

// KV is an insertion-ordered key/value pair.
type KV struct {
	Key   string
	Value any
}

// NewHost returns a Host with its Groups set initialized.
func NewHost(name string) *Host {
	return &Host{Name: name, Port: 22, Transport: TransportSSH, Groups: map[string]struct{}{}}
}

// VarsMap flattens Host.Vars into a map for snapshotting; callers that need
// ordering (e.g. diagnostics) should use Vars directly.
func (h *Host) VarsMap() map[string]any {
	out := make(map[string]any, len(h.Vars))
	for _, kv := range h.Vars {
		out[kv.Key] = kv.Value
	}
	return out
}
