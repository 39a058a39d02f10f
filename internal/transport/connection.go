// Package transport implements the SSH/local/container/WinRM connection
// abstraction: a uniform Connection capability
// surface, a pool that reuses authenticated sessions per (host, user, key),
// and batch multiplexing of concurrent channels over one session.
package transport

import (
	"context"
	"time"
)

// ExecOptions carries the per-invocation execution overlay: privilege
// escalation, timeout, and environment.
type ExecOptions struct {
	BecomeMethod string // "sudo", "su", "doas", "" for none
	BecomeUser   string
	Password     string // become password, resolved from a secret backend by the caller
	Timeout      time.Duration
	Env          map[string]string
}

// ExecResult is one command's outcome.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

// Connection is the capability surface every transport family satisfies
// (SSH, local, Docker/Podman container, WinRM).
type Connection interface {
	// Connect establishes the underlying session; a no-op for transports
	// that connect lazily on first Execute.
	Connect(ctx context.Context) error
	// Execute runs a single command and waits for completion.
	Execute(ctx context.Context, cmd string, opts map[string]any) (stdout, stderr string, exitCode int, err error)
	// ExecuteBatch runs cmds concurrently over N channels of one session;
	// results[i] corresponds to cmds[i] regardless of completion order
	//.
	ExecuteBatch(ctx context.Context, cmds []string, opts map[string]any) []ExecResult
	// Upload copies a local file to a remote path.
	Upload(ctx context.Context, local, remote string) error
	// Download copies a remote file to a local path.
	Download(ctx context.Context, remote, local string) error
	// Close releases underlying resources (socket, process).
	Close() error
	// Healthy reports whether the connection is still usable; an unhealthy
	// connection is dropped from the pool and re-dialed on next use.
	Healthy() bool
}

// decodeOptions turns the untyped opts map the Module contract passes
// (the module Context.Transport surface is an untyped map to avoid an
// import cycle between modules and transport) into ExecOptions.
func decodeOptions(opts map[string]any) ExecOptions {
	out := ExecOptions{}
	if opts == nil {
		return out
	}
	if v, ok := opts["become"].(string); ok {
		out.BecomeMethod = v
	}
	if v, ok := opts["become_user"].(string); ok {
		out.BecomeUser = v
	}
	if v, ok := opts["password"].(string); ok {
		out.Password = v
	}
	if v, ok := opts["timeout"].(time.Duration); ok {
		out.Timeout = v
	}
	if v, ok := opts["env"].(map[string]string); ok {
		out.Env = v
	}
	return out
}

// wrapBecome builds the shell command line that applies privilege
// escalation around cmd.7's {method, target user} become
// configuration. Supported methods mirror inventory.BecomeMethod.
func wrapBecome(cmd string, o ExecOptions) string {
	switch o.BecomeMethod {
	case "sudo":
		if o.BecomeUser != "" {
			return "sudo -n -u " + shellQuote(o.BecomeUser) + " -- sh -c " + shellQuote(cmd)
		}
		return "sudo -n -- sh -c " + shellQuote(cmd)
	case "su":
		user := o.BecomeUser
		if user == "" {
			user = "root"
		}
		return "su " + shellQuote(user) + " -c " + shellQuote(cmd)
	case "doas":
		if o.BecomeUser != "" {
			return "doas -u " + shellQuote(o.BecomeUser) + " -- sh -c " + shellQuote(cmd)
		}
		return "doas -- sh -c " + shellQuote(cmd)
	default:
		return cmd
	}
}

func shellQuote(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'', '\\', '\'', '\'')
			continue
		}
		out = append(out, s[i])
	}
	out = append(out, '\'')
	return string(out)
}
