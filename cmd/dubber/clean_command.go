package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"dubber/internal/cleanup"
	"dubber/internal/fileutil"
	"dubber/internal/history"
)

func newCleanCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration
	var historyOlderThan time.Duration
	var list bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove run directories left behind by kept or interrupted runs",
		Long: "Clean removes run-* directories under the work root. Directories whose lock\n" +
			"is held by a running dub are always skipped.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if list {
				dirs, err := cleanup.ListRunDirs(cfg.Paths.WorkDir)
				if err != nil {
					return err
				}
				printRunDirs(out, dirs)
				return nil
			}

			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			result := cleanup.CleanStale(cmd.Context(), cfg.Paths.WorkDir, olderThan, logger)
			fmt.Fprintf(out, "Removed %d run director%s\n", len(result.Removed), plural(len(result.Removed), "y", "ies"))
			for _, path := range result.Removed {
				fmt.Fprintf(out, "  %s\n", path)
			}
			if len(result.Live) > 0 {
				fmt.Fprintf(out, "Skipped %d live run director%s\n", len(result.Live), plural(len(result.Live), "y", "ies"))
			}
			for _, failure := range result.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "  failed to remove %s: %v\n", failure.Path, failure.Error)
			}

			if historyOlderThan > 0 && cfg.History.Enabled {
				store, err := history.Open(cfg.HistoryPath())
				if err != nil {
					return err
				}
				defer store.Close()
				pruned, err := store.Prune(cmd.Context(), time.Now().Add(-historyOlderThan))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Pruned %d history record%s\n", pruned, plural(int(pruned), "", "s"))
			}

			if len(result.Errors) > 0 {
				return fmt.Errorf("clean: %d director%s could not be removed", len(result.Errors), plural(len(result.Errors), "y", "ies"))
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Only remove run directories last modified before this age (e.g. 24h)")
	cmd.Flags().DurationVar(&historyOlderThan, "history-older-than", 0, "Also prune finished history records older than this age")
	cmd.Flags().BoolVar(&list, "list", false, "List run directories without removing anything")
	return cmd
}

func printRunDirs(w io.Writer, dirs []cleanup.DirInfo) {
	if len(dirs) == 0 {
		fmt.Fprintln(w, "No run directories")
		return
	}
	rows := make([][]string, 0, len(dirs))
	for _, dir := range dirs {
		rows = append(rows, []string{
			dir.RunID,
			formatTimestamp(dir.ModTime),
			fileutil.HumanSize(dir.Size),
			yesNo(dir.Live),
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Run", "Modified", "Size", "Live"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
	))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
