// Command conclave runs a playbook against an inventory. Argument parsing
// here is deliberately thin; the execution core carries the behavior.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"conclave"
	"conclave/internal/config"
	"conclave/internal/report"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: conclave [flags] <playbook.yml>")
	flag.PrintDefaults()
}

type extraVars map[string]any

func (e extraVars) String() string { return "" }

func (e extraVars) Set(raw string) error {
	key, value, ok := strings.Cut(raw, "=")
	if !ok {
		return fmt.Errorf("extra var %q: expected key=value", raw)
	}
	e[key] = value
	return nil
}

func main() {
	var (
		inventoryPath = flag.String("i", "inventory.yml", "inventory file")
		configPath    = flag.String("c", "", "configuration file (TOML)")
		forks         = flag.Int("f", 0, "fork width override")
		checkMode     = flag.Bool("check", false, "predict changes without applying them")
		diffMode      = flag.Bool("diff", false, "show before/after diffs")
		tagList       = flag.String("tags", "", "only run tasks matching these tags (comma-separated)")
		skipList      = flag.String("skip-tags", "", "skip tasks matching these tags (comma-separated)")
		verbosity     = flag.Int("v", 0, "verbosity level")
	)
	extra := extraVars{}
	flag.Var(extra, "e", "extra variable key=value (repeatable, highest precedence)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(conclave.ExitGeneric)
	}
	playbookPath := flag.Arg(0)

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(conclave.ExitGeneric)
	}
	cfg = config.ApplyEnv(cfg)
	if *forks > 0 {
		cfg.ForkWidth = *forks
	}
	if *verbosity > cfg.Verbosity {
		cfg.Verbosity = *verbosity
	}

	eng := conclave.New(cfg)
	defer eng.Close()

	printer := report.NewPrinter(os.Stdout, eng.Secrets().Redact)
	eng.SetEvents(&report.EventPrinter{Printer: printer, Verbosity: cfg.Verbosity})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sum, err := eng.Run(ctx, playbookPath, *inventoryPath, conclave.RunOptions{
		CheckMode: *checkMode,
		DiffMode:  *diffMode,
		Tags:      splitTags(*tagList),
		SkipTags:  splitTags(*skipList),
		ExtraVars: extra,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", eng.Secrets().Redact(err.Error()))
	}
	if sum != nil {
		printer.Recap(sum)
	}
	os.Exit(conclave.ExitCode(sum, err))
}

func splitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
