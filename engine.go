// Package conclave wires the execution core together: playbook loading
// (with caching), inventory, the module registry with its fallback
// executor, the transport pool, the governor, and the per-host executor.
package conclave

import (
	"context"
	"time"

	"conclave/internal/cache"
	"conclave/internal/config"
	"conclave/internal/executor"
	"conclave/internal/fallback"
	"conclave/internal/governor"
	"conclave/internal/inventory"
	"conclave/internal/modules"
	"conclave/internal/playbook"
	"conclave/internal/secrets"
	"conclave/internal/tags"
	"conclave/internal/transport"
	"conclave/internal/vars"
)

// RunOptions are the per-invocation knobs a caller (CLI, job API) passes
// through to a run.
type RunOptions struct {
	CheckMode bool
	DiffMode  bool
	Tags      []string
	SkipTags  []string
	ExtraVars map[string]any
}

// Engine owns the shared, run-spanning state: registry, governor,
// connection pool, caches, and the secret registry every outgoing string
// is scrubbed against.
type Engine struct {
	cfg       config.Config
	registry  *modules.Registry
	gate      *governor.Gate
	pool      *transport.Pool
	secrets   *secrets.Registry
	playbooks *cache.PlaybookCache
	facts     *cache.FactCache
	loader    *playbook.Loader
	events    executor.Sink
}

// New builds an Engine from cfg.
func New(cfg config.Config) *Engine {
	reg := modules.NewRegistry()
	if len(cfg.ModulePaths) > 0 {
		reg.SetFallback(fallback.NewExecutor(cfg.ModulePaths...))
	}
	return &Engine{
		cfg:       cfg,
		registry:  reg,
		gate:      governor.NewGate(cfg.ForkWidth),
		pool:      transport.NewPool(),
		secrets:   secrets.NewRegistry(),
		playbooks: cache.NewPlaybookCache(),
		facts:     cache.NewFactCache(cfg.FactCacheTTL()),
		loader:    playbook.NewLoader(cfg.RolesPath...),
	}
}

// Registry exposes the module registry for embedding callers that install
// additional modules before a run.
func (e *Engine) Registry() *modules.Registry { return e.registry }

// Secrets exposes the redaction registry so callers can pre-register
// known-sensitive literals (vault material, CLI-provided passwords).
func (e *Engine) Secrets() *secrets.Registry { return e.secrets }

// SetEvents installs the progress sink run output streams through.
func (e *Engine) SetEvents(s executor.Sink) { e.events = s }

// Close releases pooled connections; call on engine shutdown.
func (e *Engine) Close() { e.pool.CloseAll() }

// Run loads inventoryPath directly and playbookPath through the playbook
// parse cache, and executes every play, returning the per-host summary. Error kinds map to
// exit classes via ExitCode.
func (e *Engine) Run(ctx context.Context, playbookPath, inventoryPath string, opts RunOptions) (*executor.Summary, error) {
	inv, err := inventory.LoadFile(inventoryPath)
	if err != nil {
		return nil, &Error{Kind: KindInventory, Msg: "load inventory", Err: err}
	}
	pb, err := e.playbooks.Load(playbookPath, e.loader.LoadFile)
	if err != nil {
		return nil, &Error{Kind: KindParse, Msg: "load playbook", Err: err}
	}
	filter, err := tags.NewFilter(opts.Tags, opts.SkipTags)
	if err != nil {
		return nil, &Error{Kind: KindParse, Msg: "tag filter", Err: err}
	}

	renderer := vars.NewRenderer()
	renderer.Strict = e.cfg.StrictTemplates

	ex := &executor.Executor{
		Registry:          e.registry,
		Gate:              e.gate,
		Renderer:          renderer,
		Secrets:           e.secrets,
		Facts:             e.facts,
		Loader:            e.loader,
		Events:            e.events,
		Connect:           e.connect,
		CheckMode:         opts.CheckMode,
		DiffMode:          opts.DiffMode,
		Filter:            filter,
		ExtraVars:         opts.ExtraVars,
		TaskTimeout:       e.cfg.TaskTimeout(),
		DefaultCollection: e.cfg.DefaultCollection,
	}
	sum, runErr := ex.RunPlaybook(ctx, pb, inv)
	if runErr != nil {
		if ctx.Err() != nil {
			return sum, &Error{Kind: KindCancelled, Msg: "run cancelled", Err: runErr}
		}
		return sum, &Error{Kind: KindGeneric, Msg: "run", Err: runErr}
	}
	return sum, nil
}

// connect resolves a host's transport kind to a pooled connection. One
// connection per (host, user, key) lives for the run.
func (e *Engine) connect(ctx context.Context, h *inventory.Host) (transport.Connection, error) {
	factory := func() transport.Connection {
		switch h.Transport {
		case inventory.TransportLocal:
			return transport.NewLocalConnection()
		case inventory.TransportDocker:
			containerID := h.Address
			if containerID == "" {
				containerID = h.Name
			}
			return transport.NewContainerConnection("", containerID)
		case inventory.TransportPodman:
			containerID := h.Address
			if containerID == "" {
				containerID = h.Name
			}
			return transport.NewPodmanConnection(containerID)
		case inventory.TransportWinRM:
			return transport.NewWinRMConnection(transport.WinRMTarget{
				Host:     addressOf(h),
				Port:     h.Port,
				User:     h.Auth.User,
				Password: h.Auth.Password,
			})
		default:
			target := transport.Target{
				Name: h.Name,
				Host: addressOf(h),
				Port: h.Port,
				User: h.Auth.User,
			}
			if h.Auth.KeyFile != "" {
				target.AuthMethod = "key"
				target.KeyFiles = []string{h.Auth.KeyFile}
			} else if h.Auth.Password != "" {
				target.AuthMethod = "password"
				target.Password = h.Auth.Password
			}
			return transport.NewSSHConnection(target)
		}
	}

	if timeout := e.cfg.ConnectTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return e.pool.Get(ctx, h.Name, h.Auth.User, h.Auth.KeyFile, factory)
}

func addressOf(h *inventory.Host) string {
	if h.Address != "" {
		return h.Address
	}
	return h.Name
}

// SweepIdle closes idle pooled connections; callers on long-lived engines
// run this periodically.
func (e *Engine) SweepIdle(interval time.Duration) {
	e.pool.IdleTimeout = interval
	e.pool.SweepIdle()
}
