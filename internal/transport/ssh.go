package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Target describes the SSH endpoint and auth material for one host.
type Target struct {
	Name       string
	Host       string
	Port       int
	User       string
	AuthMethod string // "key" or "password"
	Password   string
	KeyFiles   []string
}

var knownHostsWriteMu sync.Mutex

// KnownHostsPath locates the known_hosts file used for TOFU host-key
// verification; overridable via CONCLAVE_KNOWN_HOSTS_FILE, falling back to
// $HOME/.conclave/known_hosts.
func KnownHostsPath() (string, error) {
	if v := strings.TrimSpace(os.Getenv("CONCLAVE_KNOWN_HOSTS_FILE")); v != "" {
		return filepath.Clean(v), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".conclave", "known_hosts"), nil
}

// SSHConnection is the golang.org/x/crypto/ssh-backed Connection: one
// authenticated client per host, sessions opened per command.
type SSHConnection struct {
	Target Target

	mu      sync.Mutex
	client  *ssh.Client
	healthy bool
}

func NewSSHConnection(target Target) *SSHConnection {
	return &SSHConnection{Target: target}
}

func (c *SSHConnection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return nil
	}
	client, err := dialSSHClient(ctx, c.Target)
	if err != nil {
		return err
	}
	c.client = client
	c.healthy = true
	return nil
}

func (c *SSHConnection) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil && c.healthy
}

func (c *SSHConnection) markUnhealthy() {
	c.mu.Lock()
	c.healthy = false
	c.mu.Unlock()
}

func (c *SSHConnection) ensure(ctx context.Context) (*ssh.Client, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client, nil
}

func (c *SSHConnection) Execute(ctx context.Context, cmd string, rawOpts map[string]any) (string, string, int, error) {
	opts := decodeOptions(rawOpts)
	client, err := c.ensure(ctx)
	if err != nil {
		return "", "", -1, err
	}
	session, err := client.NewSession()
	if err != nil {
		c.markUnhealthy()
		return "", "", -1, err
	}
	defer session.Close()

	for k, v := range opts.Env {
		_ = session.Setenv(k, v)
	}

	var stdoutBuf, stderrBuf strings.Builder
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	fullCmd := wrapBecome(cmd, opts)
	runErr := session.Run(fullCmd)
	exitCode := 0
	if runErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitStatus()
			runErr = nil
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, runErr
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// ExecuteBatch opens len(cmds) channels on the same authenticated session
// and awaits all concurrently; results[i]
// corresponds to cmds[i] regardless of completion order.
func (c *SSHConnection) ExecuteBatch(ctx context.Context, cmds []string, rawOpts map[string]any) []ExecResult {
	results := make([]ExecResult, len(cmds))
	var wg sync.WaitGroup
	for i, cmd := range cmds {
		wg.Add(1)
		go func(i int, cmd string) {
			defer wg.Done()
			stdout, stderr, exitCode, err := c.Execute(ctx, cmd, rawOpts)
			results[i] = ExecResult{Stdout: stdout, Stderr: stderr, ExitCode: exitCode, Err: err}
		}(i, cmd)
	}
	wg.Wait()
	return results
}

func (c *SSHConnection) Upload(ctx context.Context, local, remote string) error {
	client, err := c.ensure(ctx)
	if err != nil {
		return err
	}
	if err := scpUpload(client, local, remote); err != nil {
		c.markUnhealthy()
		return err
	}
	return nil
}

func (c *SSHConnection) Download(ctx context.Context, remote, local string) error {
	client, err := c.ensure(ctx)
	if err != nil {
		return err
	}
	if err := scpDownload(client, remote, local); err != nil {
		c.markUnhealthy()
		return err
	}
	return nil
}

func (c *SSHConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	c.healthy = false
	return err
}

func dialSSHClient(ctx context.Context, target Target) (*ssh.Client, error) {
	config, err := buildSSHClientConfig(target)
	if err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(strings.TrimSpace(target.Host), strconv.Itoa(resolvePort(target.Port)))
	dialer := net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	return ssh.NewClient(clientConn, chans, reqs), nil
}

func resolvePort(port int) int {
	if port <= 0 {
		return 22
	}
	return port
}

func buildSSHClientConfig(target Target) (*ssh.ClientConfig, error) {
	user := strings.TrimSpace(target.User)
	if user == "" {
		return nil, fmt.Errorf("ssh target %q: user is required", target.Name)
	}
	methods, err := resolveAuthMethods(target)
	if err != nil {
		return nil, err
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("ssh target %q: no auth methods available", target.Name)
	}
	hostKeyCallback, err := buildHostKeyCallback()
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            user,
		Auth:            methods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         5 * time.Second,
	}, nil
}

func resolveAuthMethods(target Target) ([]ssh.AuthMethod, error) {
	if normalizeAuthMethod(target.AuthMethod) == "password" {
		return buildPasswordAuthMethods(target.Password)
	}
	methods, err := buildKeyAuthMethods(target.KeyFiles)
	if err != nil {
		return nil, err
	}
	if len(methods) > 0 {
		return methods, nil
	}
	if target.Password != "" {
		return buildPasswordAuthMethods(target.Password)
	}
	return nil, fmt.Errorf("no key signers found and no password configured for %q", target.Name)
}

func normalizeAuthMethod(method string) string {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "password", "pass":
		return "password"
	default:
		return "key"
	}
}

func buildKeyAuthMethods(keyFiles []string) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	signers := loadLocalPrivateKeySigners(keyFiles)
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}
	if strings.TrimSpace(os.Getenv("SSH_AUTH_SOCK")) != "" {
		methods = append(methods, ssh.PublicKeysCallback(loadAgentSigners))
	}
	return methods, nil
}

func buildPasswordAuthMethods(password string) ([]ssh.AuthMethod, error) {
	resolved := strings.TrimSpace(password)
	if resolved == "" {
		return nil, fmt.Errorf("password auth requires a resolved password")
	}
	keyboardInteractive := ssh.KeyboardInteractive(func(_ string, _ string, questions []string, _ []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range answers {
			answers[i] = resolved
		}
		return answers, nil
	})
	return []ssh.AuthMethod{ssh.Password(resolved), keyboardInteractive}, nil
}

func loadLocalPrivateKeySigners(keyFiles []string) []ssh.Signer {
	paths := make([]string, 0, len(keyFiles)+3)
	paths = append(paths, keyFiles...)
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		paths = append(paths,
			filepath.Join(home, ".ssh", "id_ed25519"),
			filepath.Join(home, ".ssh", "id_ecdsa"),
			filepath.Join(home, ".ssh", "id_rsa"),
		)
	}
	signers := make([]ssh.Signer, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		raw, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(raw)
		if err != nil {
			continue
		}
		signers = append(signers, signer)
	}
	return signers
}

func loadAgentSigners() ([]ssh.Signer, error) {
	sock := strings.TrimSpace(os.Getenv("SSH_AUTH_SOCK"))
	if sock == "" {
		return nil, fmt.Errorf("SSH_AUTH_SOCK is not set")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return agent.NewClient(conn).Signers()
}

func buildHostKeyCallback() (ssh.HostKeyCallback, error) {
	knownHostsPath, err := KnownHostsPath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(knownHostsPath), 0o700); err != nil {
		return nil, err
	}
	if _, err := os.Stat(knownHostsPath); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		if err := os.WriteFile(knownHostsPath, []byte{}, 0o600); err != nil {
			return nil, err
		}
	}
	validator, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, err
	}
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := validator(hostname, remote, key)
		if err == nil {
			return nil
		}
		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) && len(keyErr.Want) == 0 {
			return appendKnownHost(knownHostsPath, hostname, key)
		}
		return err
	}, nil
}

func appendKnownHost(path, hostname string, key ssh.PublicKey) error {
	normalized := knownhosts.Normalize(strings.TrimSpace(hostname))
	if normalized == "" {
		return fmt.Errorf("cannot normalize ssh hostname %q", hostname)
	}
	line := knownhosts.Line([]string{normalized}, key)

	knownHostsWriteMu.Lock()
	defer knownHostsWriteMu.Unlock()

	if existing, err := os.ReadFile(path); err == nil {
		for _, row := range strings.Split(string(existing), "\n") {
			if strings.TrimSpace(row) == strings.TrimSpace(line) {
				return nil
			}
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	return err
}
