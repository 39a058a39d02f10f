package transport

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
)

// LocalConnection runs commands as a local subprocess (ansible_connection:
// local): no authentication, no network dial, just "sh -lc" under the
// current user.
type LocalConnection struct {
	mu sync.Mutex
}

func NewLocalConnection() *LocalConnection { return &LocalConnection{} }

func (c *LocalConnection) Connect(ctx context.Context) error { return nil }
func (c *LocalConnection) Healthy() bool                     { return true }
func (c *LocalConnection) Close() error                      { return nil }

func (c *LocalConnection) Execute(ctx context.Context, cmdline string, rawOpts map[string]any) (string, string, int, error) {
	opts := decodeOptions(rawOpts)
	fullCmd := wrapBecome(cmdline, opts)
	cmd := exec.CommandContext(ctx, "sh", "-lc", fullCmd)
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if cmd.Env != nil {
		cmd.Env = append(os.Environ(), cmd.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
			err = nil
		} else {
			return stdout.String(), stderr.String(), -1, err
		}
	}
	return stdout.String(), stderr.String(), exitCode, nil
}

func (c *LocalConnection) ExecuteBatch(ctx context.Context, cmds []string, rawOpts map[string]any) []ExecResult {
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

func (c *LocalConnection) Upload(ctx context.Context, local, remote string) error {
	return copyLocalFile(local, remote)
}

func (c *LocalConnection) Download(ctx context.Context, remote, local string) error {
	return copyLocalFile(remote, local)
}

func copyLocalFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()
	info, err := srcFile.Stat()
	if err != nil {
		return err
	}
	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer dstFile.Close()
	_, err = io.Copy(dstFile, srcFile)
	return err
}
