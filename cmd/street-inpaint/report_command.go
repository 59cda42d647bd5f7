package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/menta2k/street-inpaint/internal/journal"
	"github.com/menta2k/street-inpaint/internal/utils"
)

func newReportCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var status string

	cmd := &cobra.Command{
		Use:   "report [run-id|latest]",
		Short: "Show recorded runs, or the per-file outcomes of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := cfg.JournalPath()
			if !utils.FileExists(path) {
				return fmt.Errorf("no journal at %s; run street-inpaint first", path)
			}
			store, err := journal.Open(path)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				runs, err := store.Runs(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs recorded")
					return nil
				}
				fmt.Fprintln(out, renderRuns(runs))
				return nil
			}

			runID := args[0]
			if runID == "latest" {
				latest, err := store.LatestRun(cmd.Context())
				if errors.Is(err, journal.ErrNoRuns) {
					fmt.Fprintln(out, "No runs recorded")
					return nil
				}
				if err != nil {
					return err
				}
				runID = latest.ID
			}
			items, err := store.Items(cmd.Context(), runID, strings.ToLower(strings.TrimSpace(status)))
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Run %s: %d item(s)\n", runID, len(items))
			if len(items) > 0 {
				fmt.Fprintln(out, renderItems(items))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list")
	cmd.Flags().StringVar(&status, "status", "", "Only show items with this status (processed, skipped, copied, failed)")
	return cmd
}

func renderRuns(runs []journal.RunRecord) string {
	headers := []string{"Run", "Started", "Status", "Processed", "Masked", "Skipped", "Copied", "Failed", "Elapsed"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		elapsed := "-"
		if !r.FinishedAt.IsZero() {
			elapsed = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		rows = append(rows, []string{
			r.ID,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Status,
			strconv.Itoa(r.Processed),
			strconv.Itoa(r.Masked),
			strconv.Itoa(r.Skipped),
			strconv.Itoa(r.Copied),
			strconv.Itoa(r.Failed),
			elapsed,
		})
	}
	return renderTable(headers, rows, aligns)
}

func renderItems(items []journal.ItemRow) string {
	headers := []string{"Location", "File", "Kind", "Status", "Masked", "Failed Steps", "Duration", "Error"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft}
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, []string{
			it.Location,
			it.Name,
			it.Kind,
			it.Status,
			yesNo(it.Masked),
			strconv.Itoa(it.FailedSteps),
			it.Duration.Round(time.Millisecond).String(),
			truncate(it.Error, 60),
		})
	}
	return renderTable(headers, rows, aligns)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
