package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "hive",
	Short: "Multi-agent task coordination",
	Long: `Hive coordinates capability-matched agents over a shared task pool.

Tasks carry priorities, dependency edges, and deadlines. A scheduler
assigns each pending task to the least-loaded agent holding every
required capability, agents execute through pluggable backends, and
results flow back over an in-process message bus.

With no workload file, 'hive run' starts the built-in three-agent
research demo.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}
