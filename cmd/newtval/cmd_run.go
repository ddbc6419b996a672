package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtval/pkg/audit"
	"github.com/newtron-network/newtval/pkg/newtest"
	"github.com/newtron-network/newtval/pkg/util"
)

type runOptions struct {
	cases     []string
	dut       string
	junitPath string
	reportDir string
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run [suite]",
		Short: "Run a suite of validation cases",
		Long: `Run the cases of a suite file against the testbed, in order.

A case is skipped when its precondition does not hold or a case it requires
did not pass. Teardown always runs once setup started, also on Ctrl+C.

Exit status: 0 all passed or skipped, 1 a case failed, 2 a case errored or
the testbed was unreachable.

  newtval run nightly                        # suites/nightly.yaml
  newtval run ./dualtor.yaml --junit out.xml
  newtval run --case transceiver-lpmode --dut upper-tor`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := runSuite(args, opts)
			if err != nil {
				return err
			}
			if code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&opts.cases, "case", "c", nil, "run these cases instead of a suite file")
	cmd.Flags().StringVar(&opts.dut, "dut", "", "DUT for single-DUT cases (default: random)")
	cmd.Flags().StringVar(&opts.junitPath, "junit", "", "JUnit XML output path")
	cmd.Flags().StringVar(&opts.reportDir, "report-dir", "", "markdown report directory (default from settings)")

	return cmd
}

// runSuite runs the suite and returns the process exit code. Connections
// and the run lock are released before it returns.
func runSuite(args []string, opts runOptions) (int, error) {
	suite, suiteFile, err := loadRunSuite(args, opts.cases)
	if err != nil {
		return 0, err
	}
	dut := opts.dut
	if dut == "" {
		dut = userSettings.DefaultDUT
	}
	if dut != "" {
		for i := range suite.Cases {
			if suite.Cases[i].Params.DUT == "" {
				suite.Cases[i].Params.DUT = dut
			}
		}
	}
	tb, err := loadTestbed(suite)
	if err != nil {
		return 0, err
	}

	state := &newtest.RunState{
		Suite:     suite.Name,
		SuiteFile: suiteFile,
		Testbed:   tb.Name,
		Status:    newtest.SuiteStatusRunning,
		Started:   time.Now(),
	}
	if err := newtest.AcquireLock(state); err != nil {
		return 0, err
	}
	defer func() {
		if state.Status == newtest.SuiteStatusRunning {
			state.Status = newtest.SuiteStatusAborted
		}
		if err := newtest.ReleaseLock(state); err != nil {
			util.Logger.Warnf("Releasing run lock: %v", err)
		}
	}()

	journal, err := audit.NewFileLogger(newtest.JournalPath(suite.Name), audit.RotationConfig{
		MaxSize:    10 << 20,
		MaxBackups: 5,
	})
	if err != nil {
		util.Logger.Warnf("Change journal disabled: %v", err)
	} else {
		audit.SetDefaultLogger(journal)
		defer func() {
			audit.SetDefaultLogger(nil)
			journal.Close()
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	fmt.Fprintf(os.Stderr, "newtval: connecting to testbed %s...\n", tb.Name)
	var results []*newtest.CaseResult
	conns, err := newtest.Connect(ctx, tb)
	if err != nil {
		fmt.Fprintf(os.Stderr, "newtval: %v\n", err)
		results = newtest.InfraResults(suite, err)
		state.Status = newtest.SuiteStatusAborted
	} else {
		defer conns.Close()
		runner := newtest.NewRunner(conns.Env(tb))
		runner.Progress = &newtest.StateReporter{
			Inner: newtest.NewConsoleProgress(verbose),
			State: state,
		}
		results, err = runner.Run(ctx, suite)
		if err != nil {
			fmt.Fprintf(os.Stderr, "newtval: run interrupted: %v\n", err)
		}
	}

	gen := &newtest.ReportGenerator{Suite: suite.Name, Testbed: tb.Name, Results: results}
	reportDir := opts.reportDir
	if reportDir == "" {
		reportDir = userSettings.GetReportDir()
	}
	mdPath := filepath.Join(reportDir, suite.Name+".md")
	if err := gen.WriteMarkdown(mdPath); err != nil {
		util.Logger.Warnf("Writing report %s: %v", mdPath, err)
	}
	if opts.junitPath != "" {
		if err := gen.WriteJUnit(opts.junitPath); err != nil {
			util.Logger.Warnf("Writing JUnit report %s: %v", opts.junitPath, err)
		}
	}
	return exitCode(results), nil
}

// loadRunSuite builds the suite from --case names or a suite argument.
func loadRunSuite(args, cases []string) (*newtest.Suite, string, error) {
	if len(cases) > 0 {
		if len(args) > 0 {
			return nil, "", fmt.Errorf("give either a suite or --case, not both")
		}
		s, err := newtest.SuiteFromNames("adhoc", cases...)
		return s, "", err
	}
	if len(args) == 0 {
		return nil, "", fmt.Errorf("specify a suite or --case <name>; see: newtval list")
	}
	path, err := resolveSuitePath(args[0])
	if err != nil {
		return nil, "", err
	}
	s, err := newtest.LoadSuite(path)
	return s, path, err
}

// exitCode maps results to the process exit status: 2 when any case
// errored, 1 when any failed, 0 otherwise.
func exitCode(results []*newtest.CaseResult) int {
	code := 0
	for _, r := range results {
		switch r.Status {
		case newtest.StatusError:
			return 2
		case newtest.StatusFailed:
			code = 1
		}
	}
	return code
}
