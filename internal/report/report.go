// Package report renders the per-host rolling summary and per-failure
// detail blocks a run reports: one-line task status while running, a
// recap table at the end, and a terminal block per failure with redacted
// args. Output styling follows the ANSI helper conventions used across
// the rest of the tooling this module grew out of.
package report

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"conclave/internal/executor"
	"conclave/internal/modules"
)

// Printer writes human-readable run output. Redact is applied to every
// emitted play name, task name, message, arg value and stderr; host names
// are printed unchanged. The engine wires it to the secret registry so the
// no-log invariant holds on this surface too.
type Printer struct {
	Out    io.Writer
	Redact func(string) string
	Color  bool
}

// NewPrinter returns a Printer on out, colorized when out is a terminal
// and color is not suppressed via NO_COLOR/TERM=dumb.
func NewPrinter(out io.Writer, redact func(string) string) *Printer {
	if redact == nil {
		redact = func(s string) string { return s }
	}
	return &Printer{Out: out, Redact: redact, Color: colorEnabled(out)}
}

func colorEnabled(out io.Writer) bool {
	if strings.TrimSpace(os.Getenv("NO_COLOR")) != "" {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv("TERM")), "dumb") {
		return false
	}
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (p *Printer) colorize(s string, codes ...string) string {
	if !p.Color || s == "" {
		return s
	}
	return "\x1b[" + strings.Join(codes, ";") + "m" + s + "\x1b[0m"
}

func (p *Printer) styleHeading(s string) string { return p.colorize(s, "1", "36") }
func (p *Printer) styleDim(s string) string     { return p.colorize(s, "90") }
func (p *Printer) styleOK(s string) string      { return p.colorize(s, "32") }
func (p *Printer) styleChanged(s string) string { return p.colorize(s, "33") }
func (p *Printer) styleError(s string) string   { return p.colorize(s, "31") }
func (p *Printer) styleSkipped(s string) string { return p.colorize(s, "36") }

func (p *Printer) styleStatus(status modules.Status) string {
	s := status.String()
	switch status {
	case modules.StatusOK:
		return p.styleOK(s)
	case modules.StatusChanged:
		return p.styleChanged(s)
	case modules.StatusFailed, modules.StatusUnreachable:
		return p.styleError(s)
	case modules.StatusSkipped:
		return p.styleSkipped(s)
	default:
		return s
	}
}

// PlayHeading prints the banner for a starting play.
func (p *Printer) PlayHeading(name string) {
	if name == "" {
		name = "unnamed play"
	}
	fmt.Fprintf(p.Out, "\n%s\n", p.styleHeading("PLAY ["+p.Redact(name)+"]"))
}

// TaskLine prints the one-line per-task status.
func (p *Printer) TaskLine(host, task string, status modules.Status, msg string) {
	line := fmt.Sprintf("%s: [%s]", p.styleStatus(status), host)
	if task != "" {
		line += " " + p.Redact(task)
	}
	if msg != "" {
		line += " " + p.styleDim(p.Redact(msg))
	}
	fmt.Fprintln(p.Out, line)
}

// FailureBlock prints the terminal detail block for one failed task:
// task, host, rendered args (already redacted upstream, re-redacted here),
// stderr, and the retry count when retries were burned.
func (p *Printer) FailureBlock(f executor.Failure) {
	fmt.Fprintf(p.Out, "\n%s\n", p.styleError("FAILED: "+p.Redact(f.Task)))
	fmt.Fprintf(p.Out, "  host: %s\n", f.Host)
	if f.Play != "" {
		fmt.Fprintf(p.Out, "  play: %s\n", p.Redact(f.Play))
	}
	if len(f.Args) > 0 {
		keys := make([]string, 0, len(f.Args))
		for k := range f.Args {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(p.Out, "  args:")
		for _, k := range keys {
			fmt.Fprintf(p.Out, "    %s: %s\n", k, p.Redact(fmt.Sprint(f.Args[k])))
		}
	}
	if f.Message != "" {
		fmt.Fprintf(p.Out, "  msg: %s\n", p.Redact(f.Message))
	}
	if f.Stderr != "" {
		fmt.Fprintf(p.Out, "  stderr: %s\n", p.Redact(f.Stderr))
	}
	if f.Retries > 0 {
		fmt.Fprintf(p.Out, "  retries: %d\n", f.Retries)
	}
}

// Recap prints the final per-host counter table, hosts sorted by name,
// columns aligned by display width.
func (p *Printer) Recap(sum *executor.Summary) {
	fmt.Fprintf(p.Out, "\n%s\n", p.styleHeading("PLAY RECAP"))

	hosts := make([]string, 0, len(sum.Hosts))
	nameWidth := 0
	for h := range sum.Hosts {
		hosts = append(hosts, h)
		if w := runewidth.StringWidth(h); w > nameWidth {
			nameWidth = w
		}
	}
	sort.Strings(hosts)

	for _, h := range hosts {
		st := sum.Hosts[h]
		cells := []string{
			p.styleOK(fmt.Sprintf("ok=%d", st.OK)),
			p.styleChanged(fmt.Sprintf("changed=%d", st.Changed)),
			p.cell(st.Unreachable > 0, fmt.Sprintf("unreachable=%d", st.Unreachable)),
			p.cell(st.Failed > 0, fmt.Sprintf("failed=%d", st.Failed)),
			p.styleDim(fmt.Sprintf("skipped=%d", st.Skipped)),
		}
		fmt.Fprintf(p.Out, "%s : %s\n", runewidth.FillRight(h, nameWidth), strings.Join(cells, "  "))
	}

	for _, f := range sum.Failures {
		p.FailureBlock(f)
	}
}

func (p *Printer) cell(bad bool, s string) string {
	if bad {
		return p.styleError(s)
	}
	return p.styleDim(s)
}

// EventPrinter adapts Printer to executor.Sink so the engine can stream
// live progress through it.
type EventPrinter struct {
	Printer   *Printer
	Verbosity int
}

// Emit implements executor.Sink.
func (ep *EventPrinter) Emit(ev executor.Event) {
	switch ev.Kind {
	case executor.EventPlayStart:
		ep.Printer.PlayHeading(ev.Play)
	case executor.EventTaskResult:
		if ev.Status == modules.StatusSkipped && ep.Verbosity < 1 {
			return
		}
		ep.Printer.TaskLine(ev.Host, ev.Task, ev.Status, ev.Message)
	case executor.EventHostUnreachable:
		ep.Printer.TaskLine(ev.Host, "", modules.StatusUnreachable, ev.Message)
	}
}
