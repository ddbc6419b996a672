package main

import (
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtval/pkg/cli"
	"github.com/newtron-network/newtval/pkg/ptf"
)

func newPortsCmd() *cobra.Command {
	var hostOnly bool

	cmd := &cobra.Command{
		Use:   "ports [dut]",
		Short: "Show the DUT interface to PTF port map",
		Long: `Show which PTF port each DUT interface is wired to.

With --host, only the enabled host-facing ports of the topology are shown.

  newtval ports upper-tor
  newtval ports upper-tor --host`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tb, err := loadTestbed(nil)
			if err != nil {
				return err
			}
			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			dut, err := requireDUT(tb, name)
			if err != nil {
				return err
			}

			var indices []int
			if hostOnly {
				if indices, err = tb.PTFIndicesFor(dut.Name); err != nil {
					return err
				}
			} else {
				for _, idx := range dut.PTFIndices {
					indices = append(indices, idx)
				}
			}
			sort.Ints(indices)

			t := cli.NewTable("PTF PORT", "PTF INTERFACE", "DUT INTERFACE")
			for _, idx := range indices {
				intf, _ := dut.InterfaceForPTFIndex(idx)
				t.Row(strconv.Itoa(idx), ptf.Interface(idx), intf)
			}
			t.Flush()
			return nil
		},
	}

	cmd.Flags().BoolVar(&hostOnly, "host", false, "only host-facing ports of the topology")
	return cmd
}
