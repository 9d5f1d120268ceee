package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kbusd",
	Short: "kbusd - in-memory message bus daemon",
	Long: `kbusd runs a kbus broker: endpoints bind to hierarchical names as
listeners or repliers, and every message is routed to each matching
binding with single-replier delivery for requests.

A kbusd can be bridged to another over TCP or gRPC so that messages and
requests flow between the two buses.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), versionString())
	},
}

func versionString() string {
	return fmt.Sprintf("kbusd version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
}

func init() {
	rootCmd.SetVersionTemplate(versionString())

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(versionCmd)
}
