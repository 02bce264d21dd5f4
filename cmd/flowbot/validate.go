package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Proton-105/flowbot/internal/flow"
)

var validateCmd = &cobra.Command{
	Use:   "validate <graph.yaml>...",
	Short: "Compile flow graphs and report configuration errors",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var failed int
		for _, path := range args {
			if err := validateGraph(path); err != nil {
				failed++
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d graphs invalid", failed, len(args))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateGraph(path string) error {
	doc, err := flow.LoadFile(path)
	if err != nil {
		return err
	}
	_, err = flow.Compile(doc)
	return err
}
