package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/indexwarden/pkg/jobregistry"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage the local job registry",
	Long: `Inspect and update job records in the local job registry.

The registry is the job tracker used when tracker.kind is "registry". Batch
jobs (or the wrappers that launch them) report their state here and the
reconciler reads it back:

  <tracker.registry.root>/<job_id>/job.json

Examples:
  indexwarden jobs list --indexer idx1
  indexwarden jobs report job_1 --indexer idx1 --state running
  indexwarden jobs report job_1 --state success`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered jobs",
	RunE:  runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job_id>",
	Short: "Show status for a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsReportCmd = &cobra.Command{
	Use:   "report <job_id>",
	Short: "Record a job state in the registry",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsReport,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsReportCmd)

	jobsListCmd.Flags().Bool("json", false, "Output as JSON")
	jobsListCmd.Flags().String("indexer", "", "Only jobs launched for this indexer")
	jobsStatusCmd.Flags().Bool("json", false, "Output as JSON")
	jobsReportCmd.Flags().String("indexer", "", "Indexer the job belongs to")
	jobsReportCmd.Flags().String("state", "", "Job state: queued, running, stopping, stopped, success, partial, failed (required)")
	jobsReportCmd.Flags().String("message", "", "Free-form status message")
	_ = jobsReportCmd.MarkFlagRequired("state")
}

func jobRegistry(cmd *cobra.Command) (*jobregistry.Store, error) {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	return jobregistry.NewStore(cfg.Tracker.Registry.Root), nil
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	indexer, _ := cmd.Flags().GetString("indexer")

	store, err := jobRegistry(cmd)
	if err != nil {
		return err
	}

	var jobs []jobregistry.JobRecord
	if indexer != "" {
		jobs, err = store.ListForIndexer(indexer)
	} else {
		jobs, err = store.List()
	}
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Cannot read job registry", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(jobs)
	}
	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No jobs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "JOB ID\tINDEXER\tSTATE\tTRACKER\tSTARTED\tENDED\tMESSAGE")
	for _, j := range jobs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			j.JobID,
			orDash(j.Indexer),
			j.State,
			jobregistry.TrackerState(j.State),
			formatOptionalTime(j.StartedAt),
			formatOptionalTime(j.EndedAt),
			orDash(j.Message),
		)
	}
	return nil
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	jobID := strings.TrimSpace(args[0])
	if jobID == "" {
		return exitError(foundry.ExitInvalidArgument, "Invalid job id", fmt.Errorf("job_id is required"))
	}

	store, err := jobRegistry(cmd)
	if err != nil {
		return err
	}
	rec, err := store.Get(jobID)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return exitError(foundry.ExitFileNotFound, "Unknown job", err)
		}
		return exitError(foundry.ExitFileReadError, "Cannot read job record", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	_, _ = fmt.Fprintf(os.Stdout, "job_id=%s\n", rec.JobID)
	if rec.Indexer != "" {
		_, _ = fmt.Fprintf(os.Stdout, "indexer=%s\n", rec.Indexer)
	}
	_, _ = fmt.Fprintf(os.Stdout, "state=%s\n", rec.State)
	_, _ = fmt.Fprintf(os.Stdout, "tracker_state=%s\n", jobregistry.TrackerState(rec.State))
	if rec.Locator != "" {
		_, _ = fmt.Fprintf(os.Stdout, "locator=%s\n", rec.Locator)
	}
	if rec.StartedAt != nil {
		_, _ = fmt.Fprintf(os.Stdout, "started_at=%s\n", rec.StartedAt.UTC().Format(time.RFC3339))
	}
	if rec.EndedAt != nil {
		_, _ = fmt.Fprintf(os.Stdout, "ended_at=%s\n", rec.EndedAt.UTC().Format(time.RFC3339))
	}
	if rec.Message != "" {
		_, _ = fmt.Fprintf(os.Stdout, "message=%s\n", rec.Message)
	}
	return nil
}

func runJobsReport(cmd *cobra.Command, args []string) error {
	jobID := strings.TrimSpace(args[0])
	indexer, _ := cmd.Flags().GetString("indexer")
	rawState, _ := cmd.Flags().GetString("state")
	message, _ := cmd.Flags().GetString("message")

	state, ok := jobregistry.ParseJobState(strings.ToLower(strings.TrimSpace(rawState)))
	if !ok {
		return exitError(foundry.ExitInvalidArgument, "Invalid job state", fmt.Errorf("unknown state %q", rawState))
	}

	store, err := jobRegistry(cmd)
	if err != nil {
		return err
	}
	rec, err := store.Report(jobID, indexer, state, message, time.Now().UTC())
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Cannot write job record", err)
	}
	_, _ = fmt.Fprintf(os.Stdout, "job_id=%s state=%s tracker_state=%s\n", rec.JobID, rec.State, jobregistry.TrackerState(rec.State))
	return nil
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
