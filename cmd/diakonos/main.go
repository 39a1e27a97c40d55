// Command diakonos is the control-plane client: it translates subcommands
// into requests against a running diakonosd over its control socket,
// auto-starting the daemon first if it isn't already up.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "diakonos",
	Short:   "Control client for the diakonosd process supervisor",
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("yaml", false, "output in YAML format")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
