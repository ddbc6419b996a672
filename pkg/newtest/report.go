package newtest

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DateTimeFormat is the timestamp format used in reports and status output.
const DateTimeFormat = "2006-01-02 15:04:05"

// Status represents the outcome of a phase or case.
type Status string

const (
	StatusPassed  Status = "PASS"
	StatusFailed  Status = "FAIL"
	StatusSkipped Status = "SKIP"
	StatusError   Status = "ERROR"
)

// Phase names one phase of a case.
type Phase string

const (
	PhasePrecondition Phase = "precondition"
	PhaseSetup        Phase = "setup"
	PhaseRun          Phase = "run"
	PhaseTeardown     Phase = "teardown"
)

// CaseResult holds the result of a single case execution.
type CaseResult struct {
	Name       string
	Status     Status
	Duration   time.Duration
	Message    string // run summary, or the error that decided the status
	SkipReason string // set when Status==StatusSkipped
	Phases     []PhaseResult
	InfraError error // set when the testbed could not be reached

	Repeat          int // total iterations requested (0 = no repeat)
	FailedIteration int // which iteration failed (0 = none; only set when Repeat > 1)
}

// PhaseResult holds the result of one phase.
type PhaseResult struct {
	Phase     Phase
	Status    Status
	Duration  time.Duration
	Message   string
	Iteration int // 1-based iteration number (0 = no repeat)
}

// failingPhase returns the first phase that did not pass.
func (r *CaseResult) failingPhase() *PhaseResult {
	for i := range r.Phases {
		if r.Phases[i].Status != StatusPassed {
			return &r.Phases[i]
		}
	}
	return nil
}

// ReportGenerator produces test reports from case results.
type ReportGenerator struct {
	Suite   string
	Testbed string
	Results []*CaseResult
	// Generated stamps the markdown title; zero means now.
	Generated time.Time
}

// WriteMarkdown writes a markdown report to the given path.
func (g *ReportGenerator) WriteMarkdown(path string) error {
	return writeFile(path, g.writeMarkdown)
}

func (g *ReportGenerator) writeMarkdown(w io.Writer) error {
	generated := g.Generated
	if generated.IsZero() {
		generated = time.Now()
	}
	fmt.Fprintf(w, "# newtval report: %s (%s)\n\n", g.Suite, generated.Format(DateTimeFormat))
	if g.Testbed != "" {
		fmt.Fprintf(w, "Testbed: %s\n\n", g.Testbed)
	}

	fmt.Fprintln(w, "| Case | Result | Duration | Note |")
	fmt.Fprintln(w, "|------|--------|----------|------|")
	for _, r := range g.Results {
		note := r.Message
		if r.Status == StatusSkipped {
			note = r.SkipReason
		}
		if r.Repeat > 1 && r.FailedIteration > 0 {
			note = fmt.Sprintf("failed on iteration %d/%d", r.FailedIteration, r.Repeat)
		} else if r.Repeat > 1 && r.Status == StatusPassed {
			note = fmt.Sprintf("%d iterations", r.Repeat)
		}
		fmt.Fprintf(w, "| %s | %s | %s | %s |\n",
			r.Name, r.Status, r.Duration.Round(time.Second), markdownCell(note))
	}

	hasFailures := false
	for _, r := range g.Results {
		if r.Status != StatusFailed && r.Status != StatusError {
			continue
		}
		if !hasFailures {
			fmt.Fprintf(w, "\n## Failures\n\n")
			hasFailures = true
		}
		fmt.Fprintf(w, "### %s\n", r.Name)
		if r.InfraError != nil {
			fmt.Fprintf(w, "infrastructure: %s\n\n", r.InfraError)
			continue
		}
		for _, p := range r.Phases {
			if p.Status == StatusFailed || p.Status == StatusError {
				fmt.Fprintf(w, "Phase %s (%s): %s\n\n", p.Phase, p.Status, p.Message)
			}
		}
	}
	return nil
}

func markdownCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}

// WriteJUnit writes a JUnit XML report for CI integration. The suite is one
// testsuite and each case one testcase.
func (g *ReportGenerator) WriteJUnit(path string) error {
	return writeFile(path, g.writeJUnit)
}

func (g *ReportGenerator) writeJUnit(w io.Writer) error {
	suite := junitTestSuite{Name: g.Suite}

	for _, r := range g.Results {
		suite.Tests++
		suite.Time += r.Duration.Seconds()
		tc := junitTestCase{
			Name:      r.Name,
			ClassName: g.Suite,
			Time:      r.Duration.Seconds(),
			SystemOut: phaseLog(r),
		}
		failType := ""
		if p := r.failingPhase(); p != nil {
			failType = string(p.Phase)
		}
		if r.InfraError != nil {
			failType = "infrastructure"
		}

		switch r.Status {
		case StatusFailed:
			suite.Failures++
			tc.Failure = &junitFailure{Message: r.Message, Type: failType}
		case StatusSkipped:
			suite.Skipped++
			tc.Skipped = &junitSkipped{Message: r.SkipReason}
		case StatusError:
			suite.Errors++
			tc.Error = &junitError{Message: r.Message, Type: failType}
		}
		suite.Cases = append(suite.Cases, tc)
	}

	data, err := xml.MarshalIndent(junitTestSuites{Suites: []junitTestSuite{suite}}, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(append([]byte(xml.Header), data...))
	return err
}

// phaseLog renders the phases of a case, one per line.
func phaseLog(r *CaseResult) string {
	var b strings.Builder
	for _, p := range r.Phases {
		if p.Iteration > 0 {
			fmt.Fprintf(&b, "[iter %d] ", p.Iteration)
		}
		fmt.Fprintf(&b, "%s %s (%s)", p.Phase, p.Status, p.Duration.Round(time.Millisecond))
		if p.Message != "" {
			fmt.Fprintf(&b, ": %s", p.Message)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func writeFile(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// statusVerb returns a past-tense verb for a status, used in skip reasons.
func statusVerb(s Status) string {
	switch s {
	case StatusFailed:
		return "failed"
	case StatusError:
		return "errored"
	case StatusSkipped:
		return "was skipped"
	default:
		return string(s)
	}
}

// JUnit XML types

type junitTestSuites struct {
	XMLName xml.Name         `xml:"testsuites"`
	Suites  []junitTestSuite `xml:"testsuite"`
}

type junitTestSuite struct {
	Name     string          `xml:"name,attr"`
	Tests    int             `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Errors   int             `xml:"errors,attr"`
	Skipped  int             `xml:"skipped,attr"`
	Time     float64         `xml:"time,attr"`
	Cases    []junitTestCase `xml:"testcase"`
}

type junitTestCase struct {
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *junitFailure `xml:"failure,omitempty"`
	Skipped   *junitSkipped `xml:"skipped,omitempty"`
	Error     *junitError   `xml:"error,omitempty"`
	SystemOut string        `xml:"system-out,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
}

type junitSkipped struct {
	Message string `xml:"message,attr"`
}

type junitError struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
}
