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

	"github.com/3leaps/indexwarden/internal/server/handlers"
	"github.com/3leaps/indexwarden/pkg/indexermodel"
)

var indexerCmd = &cobra.Command{
	Use:   "indexer",
	Short: "Inspect and seed indexer records",
}

var indexerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexers in the model store",
	RunE:  runIndexerList,
}

var indexerShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show one indexer record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runIndexerShow,
}

var indexerImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Create or replace indexers from a YAML definitions file",
	Long: `Create or replace indexer records from a YAML definitions file.

Records are written unconditionally, replacing any existing record with the
same name. This seeds the model store; it does not submit jobs.

File format:
  indexers:
    - name: idx1
      connection_type: solr
      active_batch_build:
        submit_time: 2026-01-19T12:00:00Z
        jobs:
          job_1: http://tracker:19888/jobs/job_1

Examples:
  indexwarden indexer import -f indexers.yaml`,
	RunE: runIndexerImport,
}

var indexerDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete an indexer record",
	Args:  cobra.ExactArgs(1),
	RunE:  runIndexerDelete,
}

func init() {
	rootCmd.AddCommand(indexerCmd)
	indexerCmd.AddCommand(indexerListCmd)
	indexerCmd.AddCommand(indexerShowCmd)
	indexerCmd.AddCommand(indexerImportCmd)
	indexerCmd.AddCommand(indexerDeleteCmd)

	indexerListCmd.Flags().Bool("json", false, "Output as JSON")
	indexerImportCmd.Flags().StringP("file", "f", "", "Definitions file (required)")
	_ = indexerImportCmd.MarkFlagRequired("file")
}

func openStoreFromFlags(cmd *cobra.Command) (*storeHandle, error) {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	store, err := openModelStore(cmd.Context(), cfg.Store)
	if err != nil {
		return nil, exitError(foundry.ExitExternalServiceUnavailable, "Cannot open indexer model store", err)
	}
	return store, nil
}

func runIndexerList(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	store, err := openStoreFromFlags(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	records, err := store.List(cmd.Context())
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Cannot list indexers", err)
	}

	if jsonOutput {
		views := make([]handlers.IndexerView, 0, len(records))
		for _, r := range records {
			views = append(views, handlers.NewIndexerView(r, false))
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}

	if len(records) == 0 {
		_, _ = fmt.Fprintln(os.Stderr, "No indexers found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "NAME\tVERSION\tLIFECYCLE\tBATCH\tACTIVE JOBS\tSUBMITTED\tLAST BUILD")
	for _, r := range records {
		activeJobs, submitted := "-", "-"
		if b := r.ActiveBatchBuild; b != nil {
			activeJobs = strings.Join(b.JobIDs(), ",")
			submitted = b.SubmitTime.UTC().Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			r.Name, r.Version, r.LifecycleState, r.BatchIndexingState,
			activeJobs, submitted, describeLastBuild(r.LastBatchBuild))
	}
	return nil
}

func describeLastBuild(b *indexermodel.BatchBuildInfo) string {
	if b == nil || b.Success == nil {
		return "-"
	}
	outcome := "failed"
	if *b.Success {
		outcome = "succeeded"
	}
	if b.EndTime != nil {
		return outcome + " " + b.EndTime.UTC().Format(time.RFC3339)
	}
	return outcome
}

func runIndexerShow(cmd *cobra.Command, args []string) error {
	name := strings.TrimSpace(args[0])
	store, err := openStoreFromFlags(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	rec, err := store.GetFresh(cmd.Context(), name)
	if err != nil {
		if indexermodel.IsNotFound(err) {
			return exitError(foundry.ExitInvalidArgument, "Unknown indexer", err)
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "Cannot read indexer", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(handlers.NewIndexerView(rec, true))
}

func runIndexerImport(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("file")
	records, err := indexermodel.LoadDefinitions(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return exitError(foundry.ExitFileNotFound, "Definitions file not found", err)
		}
		return exitError(foundry.ExitInvalidArgument, "Invalid definitions file", err)
	}

	store, err := openStoreFromFlags(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	for _, r := range records {
		saved, err := store.Put(cmd.Context(), r)
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Cannot write indexer "+r.Name, err)
		}
		_, _ = fmt.Fprintf(os.Stdout, "imported %s (version %d)\n", saved.Name, saved.Version)
	}
	return nil
}

func runIndexerDelete(cmd *cobra.Command, args []string) error {
	name := strings.TrimSpace(args[0])
	store, err := openStoreFromFlags(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.Delete(cmd.Context(), name); err != nil {
		if indexermodel.IsNotFound(err) {
			return exitError(foundry.ExitInvalidArgument, "Unknown indexer", err)
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "Cannot delete indexer", err)
	}
	_, _ = fmt.Fprintf(os.Stdout, "deleted %s\n", name)
	return nil
}
