package newtest

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/newtron-network/newtval/pkg/checks"
	"github.com/newtron-network/newtval/pkg/cli"
)

// ProgressReporter receives lifecycle callbacks during a suite run.
type ProgressReporter interface {
	SuiteStart(suite *Suite)
	CaseStart(name string, index, total int)
	PhaseEnd(name string, result *PhaseResult)
	CaseEnd(result *CaseResult, index, total int)
	SuiteEnd(results []*CaseResult, duration time.Duration)
}

// ConsoleProgress is an append-only terminal progress reporter.
// It never uses ANSI cursor rewriting, so output is safe for pipes, CI,
// and scrollback buffers.
type ConsoleProgress struct {
	W       io.Writer
	Verbose bool

	dotWidth int
}

// NewConsoleProgress creates a ConsoleProgress writing to stdout.
func NewConsoleProgress(verbose bool) *ConsoleProgress {
	return &ConsoleProgress{
		W:       os.Stdout,
		Verbose: verbose,
	}
}

func (p *ConsoleProgress) SuiteStart(suite *Suite) {
	if len(suite.Cases) == 0 {
		return
	}

	maxName := 0
	for _, c := range suite.Cases {
		if len(c.Name) > maxName {
			maxName = len(c.Name)
		}
	}
	p.dotWidth = maxName + 6

	fmt.Fprintf(p.W, "\nnewtval: suite %s, %d cases\n\n", suite.Name, len(suite.Cases))

	fmt.Fprintf(p.W, "  %-4s  %-*s  %s\n", "#", p.dotWidth-6, "CASE", "DESCRIPTION")
	for i, c := range suite.Cases {
		fmt.Fprintf(p.W, "  %-4d  %-*s  %s\n", i+1, p.dotWidth-6, c.Name, cli.Dim(checks.Describe(c.Name)))
	}
	fmt.Fprintln(p.W)
}

func (p *ConsoleProgress) CaseStart(name string, index, total int) {
	if p.Verbose {
		fmt.Fprintf(p.W, "  [%d/%d]  %s\n", index+1, total, name)
	}
}

func (p *ConsoleProgress) PhaseEnd(name string, result *PhaseResult) {
	if !p.Verbose {
		return
	}

	label := string(result.Phase)
	if result.Iteration > 0 {
		label = fmt.Sprintf("[iter %d] %s", result.Iteration, label)
	}
	fmt.Fprintf(p.W, "          %s %s  (%s)\n", cli.DotPad(label, p.dotWidth), p.colorStatus(result.Status), p.formatDuration(result.Duration))
	if result.Status != StatusPassed && result.Message != "" {
		fmt.Fprintf(p.W, "               %s\n", cli.Dim(result.Message))
	}
}

func (p *ConsoleProgress) CaseEnd(result *CaseResult, index, total int) {
	tag := fmt.Sprintf("[%d/%d]", index+1, total)

	if p.Verbose {
		if result.InfraError != nil {
			fmt.Fprintf(p.W, "          %s\n", cli.Dim(result.InfraError.Error()))
		}
		fmt.Fprintf(p.W, "          %s  (%s)\n\n", p.colorStatus(result.Status), p.formatDuration(result.Duration))
		return
	}

	padded := cli.DotPad(result.Name, p.dotWidth)

	switch result.Status {
	case StatusSkipped:
		fmt.Fprintf(p.W, "  %-7s %s %s\n", tag, padded, cli.Yellow("SKIP"))
	case StatusPassed:
		fmt.Fprintf(p.W, "  %-7s %s %s  (%s)\n", tag, padded, cli.Green("PASS"), p.formatDuration(result.Duration))
	case StatusFailed:
		fmt.Fprintf(p.W, "  %-7s %s %s  (%s)\n", tag, padded, cli.Red("FAIL"), p.formatDuration(result.Duration))
	case StatusError:
		fmt.Fprintf(p.W, "  %-7s %s %s  (%s)\n", tag, padded, cli.Red("ERROR"), p.formatDuration(result.Duration))
	}
}

func (p *ConsoleProgress) SuiteEnd(results []*CaseResult, duration time.Duration) {
	passed, failed, skipped, errored := countStatuses(results)

	fmt.Fprintf(p.W, "\n---\n")
	fmt.Fprintf(p.W, "newtval: %d cases", len(results))

	parts := []string{}
	if passed > 0 {
		parts = append(parts, cli.Green(fmt.Sprintf("%d passed", passed)))
	}
	if failed > 0 {
		parts = append(parts, cli.Red(fmt.Sprintf("%d failed", failed)))
	}
	if errored > 0 {
		parts = append(parts, cli.Red(fmt.Sprintf("%d errored", errored)))
	}
	if skipped > 0 {
		parts = append(parts, cli.Yellow(fmt.Sprintf("%d skipped", skipped)))
	}
	if len(parts) > 0 {
		fmt.Fprintf(p.W, ": %s", strings.Join(parts, ", "))
	}
	fmt.Fprintf(p.W, "  (%s)\n", p.formatDuration(duration))

	if failed+errored > 0 {
		fmt.Fprintf(p.W, "\n  FAILED:\n")
		for i, r := range results {
			if r.Status != StatusFailed && r.Status != StatusError {
				continue
			}
			fmt.Fprintf(p.W, "    [%d]  %s\n", i+1, r.Name)
			if r.InfraError != nil {
				fmt.Fprintf(p.W, "         infrastructure: %s\n", r.InfraError)
				continue
			}
			if ph := r.failingPhase(); ph != nil {
				fmt.Fprintf(p.W, "         %s: %s\n", ph.Phase, ph.Message)
			} else if r.Message != "" {
				fmt.Fprintf(p.W, "         %s\n", r.Message)
			}
		}
	}

	if skipped > 0 {
		fmt.Fprintf(p.W, "\n  SKIPPED:\n")
		for i, r := range results {
			if r.Status != StatusSkipped {
				continue
			}
			reason := r.SkipReason
			if reason == "" {
				reason = "skipped"
			}
			padded := cli.DotPad(r.Name, p.dotWidth)
			fmt.Fprintf(p.W, "    [%d]  %s %s\n", i+1, padded, reason)
		}
	}

	fmt.Fprintln(p.W)
}

func countStatuses(results []*CaseResult) (passed, failed, skipped, errored int) {
	for _, r := range results {
		switch r.Status {
		case StatusPassed:
			passed++
		case StatusFailed:
			failed++
		case StatusSkipped:
			skipped++
		case StatusError:
			errored++
		}
	}
	return passed, failed, skipped, errored
}

func (p *ConsoleProgress) colorStatus(s Status) string {
	return cli.Status(string(s))
}

func (p *ConsoleProgress) formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	if s == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}

// StateReporter wraps a ProgressReporter and persists run state after each
// case completes. This backs the status command.
type StateReporter struct {
	Inner ProgressReporter
	State *RunState
}

func (r *StateReporter) SuiteStart(suite *Suite) {
	r.State.Cases = make([]CaseState, len(suite.Cases))
	for i, c := range suite.Cases {
		r.State.Cases[i] = CaseState{Name: c.Name}
	}
	r.save()
	r.Inner.SuiteStart(suite)
}

func (r *StateReporter) CaseStart(name string, index, total int) {
	r.Inner.CaseStart(name, index, total)
}

func (r *StateReporter) PhaseEnd(name string, result *PhaseResult) {
	r.Inner.PhaseEnd(name, result)
}

func (r *StateReporter) CaseEnd(result *CaseResult, index, total int) {
	if index < len(r.State.Cases) {
		r.State.Cases[index].Status = string(result.Status)
		r.State.Cases[index].Duration = result.Duration.Round(time.Second).String()
		r.State.Cases[index].Message = result.Message
	}
	r.save()
	r.Inner.CaseEnd(result, index, total)
}

func (r *StateReporter) SuiteEnd(results []*CaseResult, duration time.Duration) {
	r.State.Status = SuiteStatusComplete
	r.save()
	r.Inner.SuiteEnd(results, duration)
}

func (r *StateReporter) save() {
	if err := SaveRunState(r.State); err != nil {
		fmt.Fprintf(os.Stderr, "newtval: %v\n", err)
	}
}
