package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtval/pkg/cli"
	"github.com/newtron-network/newtval/pkg/newtest"
)

func newStatusCmd() *cobra.Command {
	var (
		jsonOutput  bool
		suiteFilter string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the last run of each suite",
		Long: `Show the state of running and completed suite runs, from
~/.newtval/runs/<suite>/state.json.

  newtval status                  # all suites
  newtval status --suite dualtor  # suites whose name contains "dualtor"
  newtval status --json           # machine-readable output`,
		RunE: func(cmd *cobra.Command, args []string) error {
			suites, err := newtest.ListSuiteStates()
			if err != nil {
				return err
			}

			if suiteFilter != "" {
				lower := strings.ToLower(suiteFilter)
				var matched []string
				for _, s := range suites {
					if strings.Contains(strings.ToLower(s), lower) {
						matched = append(matched, s)
					}
				}
				if len(matched) == 0 {
					return fmt.Errorf("no suite matching %q", suiteFilter)
				}
				suites = matched
			}

			var states []*newtest.RunState
			for _, suite := range suites {
				state, err := newtest.LoadRunState(suite)
				if err != nil {
					return err
				}
				if state != nil {
					states = append(states, state)
				}
			}

			if jsonOutput {
				if states == nil {
					states = []*newtest.RunState{}
				}
				return json.NewEncoder(os.Stdout).Encode(states)
			}
			if len(states) == 0 {
				fmt.Println("no suite runs recorded")
				return nil
			}
			for i, state := range states {
				if i > 0 {
					fmt.Println()
				}
				printSuiteStatus(state)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "JSON output")
	cmd.Flags().StringVarP(&suiteFilter, "suite", "s", "", "show only suites whose name contains this string")

	return cmd
}

func printSuiteStatus(state *newtest.RunState) {
	fmt.Printf("newtval: %s\n", cli.Bold(state.Suite))
	fmt.Printf("  testbed:   %s\n", state.Testbed)

	status := string(state.Status)
	if state.PID != 0 && state.Status == newtest.SuiteStatusRunning {
		status = fmt.Sprintf("%s (pid %d)", status, state.PID)
	}
	fmt.Printf("  status:    %s\n", status)
	if !state.Started.IsZero() {
		fmt.Printf("  started:   %s (%s ago)\n", state.Started.Format(newtest.DateTimeFormat),
			time.Since(state.Started).Round(time.Second))
	}
	fmt.Println()

	t := cli.NewTable("#", "CASE", "STATUS", "DURATION", "NOTE").WithPrefix("  ")
	for i, c := range state.Cases {
		status := c.Status
		if status == "" {
			status = "pending"
		}
		t.Row(fmt.Sprint(i+1), c.Name, cli.Status(status), c.Duration, c.Message)
	}
	t.Flush()
}
