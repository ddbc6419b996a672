package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtval/pkg/audit"
	"github.com/newtron-network/newtval/pkg/cli"
	"github.com/newtron-network/newtval/pkg/newtest"
)

func newChangesCmd() *cobra.Command {
	var (
		filter     audit.Filter
		since      time.Duration
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "changes <suite>",
		Short: "Show the changes a suite made to devices",
		Long: `Show the device changes journaled by runs of a suite: ACL tables,
mux modes, neighbor deletes, config reloads and PTF services.

After an interrupted run, the journal shows what teardown may not have
restored.

  newtval changes nightly
  newtval changes nightly --case tunnel-memory-leak --failed
  newtval changes nightly --since 2h --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := newtest.JournalPath(args[0])
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("no change journal for suite %s", args[0])
			}
			journal, err := audit.NewFileLogger(path, audit.RotationConfig{})
			if err != nil {
				return err
			}
			defer journal.Close()

			if since > 0 {
				filter.StartTime = time.Now().Add(-since)
			}
			events, err := journal.Query(filter)
			if err != nil {
				return err
			}

			if jsonOutput {
				if events == nil {
					events = []*audit.Event{}
				}
				return json.NewEncoder(os.Stdout).Encode(events)
			}
			if len(events) == 0 {
				fmt.Println("no changes recorded")
				return nil
			}

			t := cli.NewTable("TIME", "CASE", "DEVICE", "OPERATION", "DETAIL", "RESULT")
			for _, e := range events {
				result := cli.Green("ok")
				if !e.Success {
					result = cli.Red(e.Error)
				}
				t.Row(e.Timestamp.Format(newtest.DateTimeFormat), e.Case, e.Device, e.Operation, e.Detail, result)
			}
			t.Flush()
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.Case, "case", "", "only changes made by this case")
	cmd.Flags().StringVar(&filter.Device, "device", "", "only changes on this device")
	cmd.Flags().StringVar(&filter.Operation, "op", "", "only this operation (e.g. mux.set)")
	cmd.Flags().BoolVar(&filter.FailureOnly, "failed", false, "only changes that failed")
	cmd.Flags().IntVar(&filter.Limit, "limit", 0, "show at most this many changes")
	cmd.Flags().DurationVar(&since, "since", 0, "only changes newer than this")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "JSON output")

	return cmd
}
