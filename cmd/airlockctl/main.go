// Command airlockctl inspects colony runs: the SQLite index, the compressed
// airlock event logs and the tick logs, and can send operator commands to a
// running server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev" // set via ldflags at build time

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "airlockctl",
		Short: "Inspect and drive colony airlock traffic",
		Long: `airlockctl reads what a colony server recorded (index database, airlock
event logs, tick logs), verifies tick logs by deterministic replay and sends
operator commands to a running server.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.AddCommand(
		newEventsCmd(),
		newOutcomesCmd(),
		newRunsCmd(),
		newLogsCmd(),
		newReplayCmd(),
		newSendCmd(),
		newTuningCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
