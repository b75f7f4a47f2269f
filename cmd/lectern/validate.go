package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teilomillet/lectern/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.LoadFile(configFile)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Configuration is valid")
		fmt.Fprintf(out, "  llm:        %s %s %s\n", c.LLM.Backend, c.LLM.Provider, c.LLM.Model)
		fmt.Fprintf(out, "  markers:    %s %s\n", c.Generation.OpenMarker, c.Generation.CloseMarker)
		fmt.Fprintf(out, "  iterations: %d\n", c.Generation.Continuation.MaxIterations)
		fmt.Fprintf(out, "  audit:      %s\n", c.Audit.Backend)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and exit",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "lectern %s\n", Version)
	},
}
