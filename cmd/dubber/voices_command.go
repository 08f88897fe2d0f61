package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dubber/internal/voice"
)

func newVoicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "voices",
		Short:       "List the available text-to-speech voices",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := make([][]string, 0, len(voice.All()))
			for _, v := range voice.All() {
				def := ""
				if v == voice.Default {
					def = "default"
				}
				rows = append(rows, []string{v.String(), v.Description(), def})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Voice", "Description", ""}, rows, nil))
			return nil
		},
	}
}
