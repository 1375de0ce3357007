// Command applimitd runs the app-usage time-limit monitor as a standalone
// HTTP service (SPEC_FULL.md §4.13).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "applimitd",
		Short: "App-usage time-limit monitor daemon",
		Long:  "applimitd runs the in-process usage-time-limit engine behind an HTTP/websocket API, with optional SQLite audit logging and Redis fan-out.",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults applied for anything unset)")

	root.AddCommand(newServeCommand(&configPath))
	root.AddCommand(newMigrateCommand(&configPath))
	return root
}
