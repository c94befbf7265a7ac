// bodyctl runs the robot body controller and talks to it.
//
//	bodyctl run --link ws --board sim --dashboard
//	bodyctl monitor --url ws://robot.local:8765/ws/brain
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
