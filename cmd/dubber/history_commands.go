package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"dubber/internal/fileutil"
	"dubber/internal/history"
)

const defaultHistoryLimit = 20

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded dubbing runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withHistory(func(store *history.Store) error {
				runs, err := store.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs recorded")
					return nil
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Run", "Started", "Status", "Voice", "Input", "Output", "Duration"},
					historyRows(runs),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", defaultHistoryLimit, "Maximum number of runs to show")

	cmd.AddCommand(newHistoryShowCommand(ctx))
	return cmd
}

func newHistoryShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run and its stages (an unambiguous id prefix is enough)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withHistory(func(store *history.Store) error {
				run, stages, err := store.Get(cmd.Context(), args[0])
				if err != nil {
					if errors.Is(err, history.ErrRunNotFound) {
						return fmt.Errorf("no run matches %q", args[0])
					}
					return err
				}
				printRunDetail(cmd.OutOrStdout(), run, stages)
				return nil
			})
		},
	}
}

func (c *commandContext) withHistory(fn func(*history.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	if !cfg.History.Enabled {
		return errors.New("run history is disabled (set history.enabled = true)")
	}
	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func historyRows(runs []history.Run) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		status := string(run.Status)
		if run.FailedStage != "" {
			status += " (" + run.FailedStage + ")"
		}
		rows = append(rows, []string{
			shortID(run.ID),
			formatTimestamp(run.StartedAt),
			status,
			run.Voice,
			truncate(run.Input, 40),
			truncate(run.OutputPath, 40),
			formatDuration(run.Duration()),
		})
	}
	return rows
}

func printRunDetail(w io.Writer, run history.Run, stages []history.Stage) {
	fields := [][2]string{
		{"Run", run.ID},
		{"Status", string(run.Status)},
		{"Input", fmt.Sprintf("%s (%s)", run.Input, run.InputKind)},
		{"Voice", run.Voice},
		{"Output", run.OutputPath},
		{"Work dir", run.WorkDir},
		{"Started", formatTimestamp(run.StartedAt)},
		{"Finished", formatTimestamp(run.FinishedAt)},
		{"Duration", formatDuration(run.Duration())},
	}
	if run.TranscriptChars > 0 {
		fields = append(fields, [2]string{"Transcript", strconv.Itoa(run.TranscriptChars) + " characters"})
	}
	if run.OutputBytes > 0 {
		fields = append(fields, [2]string{"Output size", fileutil.HumanSize(run.OutputBytes)})
	}
	if run.FailedStage != "" {
		fields = append(fields, [2]string{"Failed stage", run.FailedStage})
	}
	if run.ErrorMessage != "" {
		fields = append(fields, [2]string{"Error", run.ErrorMessage})
	}
	for _, field := range fields {
		fmt.Fprintf(w, "%-13s %s\n", field[0]+":", field[1])
	}
	if len(stages) == 0 {
		return
	}
	fmt.Fprintln(w)
	rows := make([][]string, 0, len(stages))
	for _, stage := range stages {
		rows = append(rows, []string{stage.Name, string(stage.Status), formatDuration(stage.Duration), stage.ErrorMessage})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Stage", "Status", "Duration", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
	))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}
