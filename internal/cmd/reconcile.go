package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/indexwarden/internal/observability"
	"github.com/3leaps/indexwarden/pkg/reconcile"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one reconciliation cycle and exit",
	Long: `Run a single reconciliation cycle against the configured model store and
job tracker, print what happened to each indexer with an active batch build,
and exit.

Indexers whose builds are still running are reported as pending; nothing is
written for them. The command exits non-zero when any commit failed.

Examples:
  indexwarden reconcile
  indexwarden reconcile --include 'orders-*' --json`,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.Flags().Bool("json", false, "Output as JSON")
	reconcileCmd.Flags().StringSlice("include", nil, "Only reconcile indexers matching these patterns (overrides reconcile.include)")
}

// cycleOutput is the JSON shape printed by `reconcile --json`.
type cycleOutput struct {
	reconcile.CycleReport
	Errors []string `json:"errors,omitempty"`
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	extra := map[string]any{}
	if cmd.Flags().Changed("include") {
		include, _ := cmd.Flags().GetStringSlice("include")
		extra["reconcile"] = map[string]any{"include": include}
	}
	cfg, err := loadConfig(cmd, extra)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	logger := observability.CLILogger
	store, err := openModelStore(ctx, cfg.Store)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Cannot open indexer model store", err)
	}
	defer func() { _ = store.Close() }()

	source, err := newJobSource(ctx, cfg.Tracker, logger)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Cannot create job tracker", err)
	}

	sched, err := newScheduler(cfg, store, source, logger, nil)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Cannot create reconciler", err)
	}

	report := sched.RunCycle(ctx)
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(cycleOutput{CycleReport: report, Errors: report.Errors()}); err != nil {
			return err
		}
	} else {
		printCycleReport(os.Stdout, report)
	}

	if report.Err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Reconciliation cycle had failures", report.Err)
	}
	return nil
}

func printCycleReport(out io.Writer, report reconcile.CycleReport) {
	if len(report.Indexers) == 0 {
		_, _ = fmt.Fprintf(out, "No active batch builds (%d indexers scanned)\n", report.Scanned)
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "INDEXER\tSTATUS\tJOBS\tSUCCESS\tDETAIL")
	for _, ir := range report.Indexers {
		success := "-"
		if ir.Success != nil {
			success = strconv.FormatBool(*ir.Success)
		}
		detail := "-"
		switch {
		case ir.Error != "":
			detail = ir.Error
		case ir.UnreachableJob != "":
			detail = "tracker unreachable for " + ir.UnreachableJob
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", ir.Name, ir.Status, ir.Jobs, success, detail)
	}
	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\nscanned=%d active=%d committed=%d raced=%d pending=%d failed=%d duration=%s\n",
		report.Scanned, report.Active, report.Committed, report.Raced, report.Pending, report.Failed, report.Duration)
}
