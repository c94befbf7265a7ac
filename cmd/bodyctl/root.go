package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "bodyctl",
	Short: "Robot body controller",
	Long: `bodyctl runs the safety-critical body controller of a two-wheeled robot.

The body drives the motors, watches the cliff, distance and battery sensors
and renders the status light. A remote "brain" sends JSON commands over BLE
or a websocket and must send a heartbeat at least every 3 seconds.

Commands:
  run      start the control loop
  monitor  connect to a body as a brain, with a terminal UI`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "bodyctl", version)
	},
}

func init() {
	rootCmd.AddCommand(runCmd, monitorCmd, versionCmd)
}
