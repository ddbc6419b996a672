// Newtval - SONiC device validation
//
// Runs validation cases against a dual-ToR or T0 testbed and drives switch
// consoles:
//
//	newtval list                              # registered cases
//	newtval run nightly                       # run a suite by name
//	newtval run --case tunnel-memory-leak     # run one case ad hoc
//	newtval status                            # last run of each suite
//	newtval ports upper-tor                   # DUT interface to PTF port map
//	newtval console upper-tor                 # interactive console session
//	newtval changes nightly                   # device changes made by a suite
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtval/pkg/settings"
	"github.com/newtron-network/newtval/pkg/util"
	"github.com/newtron-network/newtval/pkg/version"
)

var (
	// Global option flags
	testbedPath string
	logLevel    string
	logJSON     bool
	verbose     bool

	// Global state
	userSettings *settings.Settings
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "newtval",
	Short:             "SONiC device validation",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `Newtval runs validation cases against SONiC switches on a testbed and
drives their consoles.

A testbed file lists the DUTs, their console lines and the PTF host. A suite
file lists the cases to run, with per-case params.

  newtval run <suite> [--testbed tb.yaml]`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		userSettings, err = settings.Load()
		if err != nil {
			util.Logger.Warnf("Could not load settings: %v", err)
			userSettings = &settings.Settings{}
		}

		level := logLevel
		if verbose && !cmd.Flags().Changed("log-level") {
			level = "debug"
		}
		if err := util.SetLogLevel(level); err != nil {
			return err
		}
		if logJSON {
			util.SetJSONFormat()
		}
		util.Logger.WithFields(version.Fields()).Debug("newtval starting")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&testbedPath, "testbed", "t", "", "Testbed file (default from settings or suite)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Log in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(
		newRunCmd(),
		newListCmd(),
		newStatusCmd(),
		newPortsCmd(),
		newConsoleCmd(),
		newChangesCmd(),
		settingsCmd,
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				if version.Version == "dev" {
					fmt.Println("newtval dev build (set version info with -ldflags, see pkg/version)")
				} else {
					fmt.Printf("newtval %s\n", version.Info())
				}
			},
		},
	)
}
