package modules

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
)

// CopyModule places file content at a remote destination, computing
// changed/unchanged by comparing content checksums before writing.
type CopyModule struct{}

func (m *CopyModule) Name() string                  { return "copy" }
func (m *CopyModule) Classification() Classification { return RemoteCommand }
func (m *CopyModule) ParallelizationHint() ParallelizationHint {
	return ParallelizationHint{Kind: FullyParallel}
}
func (m *CopyModule) RequiredParams() []string { return []string{"dest"} }

func (m *CopyModule) ValidateParams(args map[string]any) error {
	if err := RequireParams(m.Name(), m.RequiredParams(), args); err != nil {
		return err
	}
	_, hasContent := args["content"]
	_, hasSrc := args["src"]
	if !hasContent && !hasSrc {
		return &InvalidParameterError{Module: m.Name(), Parameter: "src", Reason: "one of 'src' or 'content' is required"}
	}
	return nil
}

func (m *CopyModule) resolveContent(args map[string]any) (string, error) {
	if content, ok := StringArg(args, "content"); ok {
		return content, nil
	}
	src, _ := StringArg(args, "src")
	raw, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("copy: read src %s: %w", src, err)
	}
	return string(raw), nil
}

func (m *CopyModule) Execute(ctx context.Context, args map[string]any, mctx *Context) (Result, error) {
	dest, _ := StringArg(args, "dest")
	content, err := m.resolveContent(args)
	if err != nil {
		return Failed(err.Error(), err), nil
	}
	checksum := sha256Hex(content)

	existing, statErr := (&StatModule{}).statRemote(ctx, dest, mctx)
	if statErr == nil && existing.exists && existing.checksum == checksum {
		return Result{Status: StatusOK, Message: "content already up to date", Data: map[string]any{"dest": dest, "checksum": checksum}}, nil
	}

	if mctx.CheckMode {
		return Result{Status: StatusChanged, Message: "check mode: would update " + dest, Data: map[string]any{"dest": dest}}, nil
	}
	if mctx.Transport == nil {
		return Failed(m.Name()+": no transport bound", nil), nil
	}
	tmp, err := os.CreateTemp("", "conclave-copy-*")
	if err != nil {
		return Failed(err.Error(), err), nil
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return Failed(err.Error(), err), nil
	}
	tmp.Close()

	if err := mctx.Transport.Upload(ctx, tmp.Name(), dest); err != nil {
		return Failed("upload failed: "+err.Error(), err), nil
	}
	return Result{Status: StatusChanged, Message: "content updated", Data: map[string]any{"dest": dest, "checksum": checksum}}, nil
}

func (m *CopyModule) Check(ctx context.Context, args map[string]any, mctx *Context) (Result, error) {
	dest, _ := StringArg(args, "dest")
	content, err := m.resolveContent(args)
	if err != nil {
		return Failed(err.Error(), err), nil
	}
	checksum := sha256Hex(content)
	existing, statErr := (&StatModule{}).statRemote(ctx, dest, mctx)
	if statErr == nil && existing.exists && existing.checksum == checksum {
		return Result{Status: StatusOK, Message: "content already up to date", Data: map[string]any{"dest": dest}}, nil
	}
	return Result{Status: StatusChanged, Message: "would update " + dest, Data: map[string]any{"dest": dest}}, nil
}

func (m *CopyModule) Diff(ctx context.Context, args map[string]any, mctx *Context) (*Diff, error) {
	dest, _ := StringArg(args, "dest")
	newContent, err := m.resolveContent(args)
	if err != nil {
		return nil, err
	}
	before := ""
	if raw, err := os.ReadFile(dest); err == nil {
		before = string(raw)
	}
	return &Diff{Before: before, After: newContent}, nil
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
