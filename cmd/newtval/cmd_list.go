package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtval/pkg/checks"
	"github.com/newtron-network/newtval/pkg/cli"
	"github.com/newtron-network/newtval/pkg/newtest"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [suite]",
		Short: "List registered cases, or the cases of a suite",
		Long: `Without an argument, list every registered validation case.
With a suite, list its cases in run order with their params.

  newtval list
  newtval list nightly`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				t := cli.NewTable("CASE", "TOPOLOGY", "DESCRIPTION")
				for _, name := range checks.Names() {
					c, err := checks.Lookup(name)
					if err != nil {
						return err
					}
					t.Row(name, strings.Join(c.Topologies, ","), c.Description)
				}
				t.Flush()
				return nil
			}

			path, err := resolveSuitePath(args[0])
			if err != nil {
				return err
			}
			suite, err := newtest.LoadSuite(path)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", cli.Bold(suite.Name), path)
			if suite.Description != "" {
				fmt.Printf("  %s\n", suite.Description)
			}
			if suite.Testbed != "" {
				fmt.Printf("  testbed: %s\n", suite.Testbed)
			}
			fmt.Println()

			t := cli.NewTable("#", "CASE", "REQUIRES", "REPEAT", "PARAMS").WithPrefix("  ")
			for i, c := range suite.Cases {
				repeat := ""
				if c.Repeat > 1 {
					repeat = strconv.Itoa(c.Repeat)
				}
				t.Row(strconv.Itoa(i+1), c.Name, strings.Join(c.Requires, ","), repeat, formatParams(c.Params))
			}
			t.Flush()
			return nil
		},
	}
}

func formatParams(p checks.Params) string {
	var parts []string
	if p.DUT != "" {
		parts = append(parts, "dut="+p.DUT)
	}
	if p.Pause > 0 {
		parts = append(parts, "pause="+p.Pause.String())
	}
	if p.PacketCount > 0 {
		parts = append(parts, fmt.Sprintf("packet_count=%d", p.PacketCount))
	}
	if p.TransactionID > 0 {
		parts = append(parts, fmt.Sprintf("transaction_id=%d", p.TransactionID))
	}
	if p.MemThreshold > 0 {
		parts = append(parts, fmt.Sprintf("mem_threshold=%g", p.MemThreshold))
	}
	if p.UpstreamDst != "" {
		parts = append(parts, "upstream_dst="+p.UpstreamDst)
	}
	return strings.Join(parts, " ")
}
