package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dubber/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check external tools, directories and OpenAI access",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			if ctx.configPath != "" {
				fmt.Fprintf(out, "Config: %s\n\n", ctx.configPath)
			}
			for _, line := range renderSectionHeader("Environment", colorize) {
				fmt.Fprintln(out, line)
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			for _, line := range checkLines(results, colorize) {
				fmt.Fprintln(out, line)
			}
			for _, result := range results {
				if !result.Passed {
					return fmt.Errorf("doctor: %s check failed", result.Name)
				}
			}
			return nil
		},
	}
}
