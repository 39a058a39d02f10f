package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/docker/docker/api/types"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// ContainerConnection execs into a running container on the target via the
// Docker (or Podman, which speaks the same API) daemon, the NativeTransport
// classification's container exec backend. The client talks
// to the daemon reachable from wherever conclave runs (typically the
// target host itself, via DOCKER_HOST) rather than a developer workstation
// convenience daemon, per DESIGN.md's note on why go-connections was
// dropped.
type ContainerConnection struct {
	ContainerID string
	Host        string // DOCKER_HOST-style endpoint; "" uses the default

	mu      sync.Mutex
	client  *dockerclient.Client
	healthy bool
}

func NewContainerConnection(host, containerID string) *ContainerConnection {
	return &ContainerConnection{Host: host, ContainerID: containerID}
}

func (c *ContainerConnection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return nil
	}
	opts := []dockerclient.Opt{dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation()}
	if c.Host != "" {
		opts = append(opts, dockerclient.WithHost(c.Host))
	}
	cli, err := dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return fmt.Errorf("docker client: %w", err)
	}
	c.client = cli
	c.healthy = true
	return nil
}

func (c *ContainerConnection) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil && c.healthy
}

func (c *ContainerConnection) Close() error {
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

func (c *ContainerConnection) Execute(ctx context.Context, cmdline string, rawOpts map[string]any) (string, string, int, error) {
	opts := decodeOptions(rawOpts)
	if err := c.Connect(ctx); err != nil {
		return "", "", -1, err
	}
	fullCmd := wrapBecome(cmdline, opts)
	env := make([]string, 0, len(opts.Env))
	for k, v := range opts.Env {
		env = append(env, k+"="+v)
	}

	execCfg := types.ExecConfig{
		Cmd:          []string{"sh", "-c", fullCmd},
		Env:          env,
		AttachStdout: true,
		AttachStderr: true,
	}
	created, err := c.client.ContainerExecCreate(ctx, c.ContainerID, execCfg)
	if err != nil {
		c.markUnhealthy()
		return "", "", -1, fmt.Errorf("container exec create: %w", err)
	}
	attach, err := c.client.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		c.markUnhealthy()
		return "", "", -1, fmt.Errorf("container exec attach: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil && err != io.EOF {
		return "", "", -1, err
	}

	inspect, err := c.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return stdout.String(), stderr.String(), -1, fmt.Errorf("container exec inspect: %w", err)
	}
	return stdout.String(), stderr.String(), inspect.ExitCode, nil
}

func (c *ContainerConnection) ExecuteBatch(ctx context.Context, cmds []string, rawOpts map[string]any) []ExecResult {
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

func (c *ContainerConnection) Upload(ctx context.Context, local, remote string) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	raw, err := os.ReadFile(local)
	if err != nil {
		return err
	}
	tarball, err := tarSingleFile(filepath.Base(remote), raw)
	if err != nil {
		return err
	}
	return c.client.CopyToContainer(ctx, c.ContainerID, filepath.Dir(remote), tarball, types.CopyToContainerOptions{})
}

func (c *ContainerConnection) Download(ctx context.Context, remote, local string) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	reader, _, err := c.client.CopyFromContainer(ctx, c.ContainerID, remote)
	if err != nil {
		return err
	}
	defer reader.Close()
	data, err := untarSingleFile(reader)
	if err != nil {
		return err
	}
	return os.WriteFile(local, data, 0o644)
}

func (c *ContainerConnection) markUnhealthy() {
	c.mu.Lock()
	c.healthy = false
	c.mu.Unlock()
}

// NewPodmanConnection returns a ContainerConnection pointed at the podman
// service socket. Podman speaks the Docker Engine API, so the rest of the
// Connection contract is identical; only the endpoint selection differs.
// CONTAINER_HOST (podman's own convention) wins when set; otherwise the
// rootless socket under XDG_RUNTIME_DIR, then the system socket.
func NewPodmanConnection(containerID string) *ContainerConnection {
	if host := strings.TrimSpace(os.Getenv("CONTAINER_HOST")); host != "" {
		return &ContainerConnection{Host: host, ContainerID: containerID}
	}
	return &ContainerConnection{Host: podmanSocketPath(), ContainerID: containerID}
}

func podmanSocketPath() string {
	if dir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR")); dir != "" {
		return "unix://" + filepath.Join(dir, "podman", "podman.sock")
	}
	return "unix:///run/podman/podman.sock"
}
