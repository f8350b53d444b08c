package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aristath/hive/internal/workload"
)

var validateCmd = &cobra.Command{
	Use:   "validate <workload.yaml>",
	Short: "Validate a workload file without running it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := workload.ParseFile(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d agents, %d tasks\n", args[0], len(w.Agents), len(w.Tasks))
		return nil
	},
}
