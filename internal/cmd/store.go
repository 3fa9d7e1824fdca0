package cmd

import (
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/indexwarden/pkg/indexstore"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the indexer model store",
}

var storeInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or migrate the indexer model store",
	Long: `Create the indexer model database if needed and bring its schema up to
date. Safe to run repeatedly.

Examples:
  indexwarden store init
  INDEXWARDEN_STORE_PATH=/var/lib/indexwarden/indexers.db indexwarden store init`,
	RunE: runStoreInit,
}

var storeLocksCmd = &cobra.Command{
	Use:   "locks",
	Short: "List indexer locks currently held",
	RunE:  runStoreLocks,
}

func init() {
	rootCmd.AddCommand(storeCmd)
	storeCmd.AddCommand(storeInitCmd)
	storeCmd.AddCommand(storeLocksCmd)
}

func runStoreInit(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	if cfg.Store.Driver == "memory" {
		return exitError(foundry.ExitInvalidArgument, "Nothing to initialize",
			fmt.Errorf("store.driver is memory"))
	}

	store, err := openModelStore(ctx, cfg.Store)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Cannot initialize indexer model store", err)
	}
	defer func() { _ = store.Close() }()

	version, err := indexstore.ReadSchemaVersion(ctx, store.db)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Cannot read schema version", err)
	}

	location := cfg.Store.Path
	if cfg.Store.URL != "" {
		location = cfg.Store.URL
	}
	_, _ = fmt.Fprintf(os.Stdout, "store=%s\nschema_version=%d\n", location, version)
	return nil
}

func runStoreLocks(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	store, err := openModelStore(ctx, cfg.Store)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Cannot open indexer model store", err)
	}
	defer func() { _ = store.Close() }()

	sqlStore, ok := store.modelStore.(*indexstore.Store)
	if !ok {
		return exitError(foundry.ExitInvalidArgument, "Lock listing needs a sqlite store",
			fmt.Errorf("store.driver is %s", cfg.Store.Driver))
	}

	held, err := sqlStore.HeldLocks(ctx)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Cannot list locks", err)
	}
	if len(held) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No locks held")
		return nil
	}
	for _, name := range held {
		_, _ = fmt.Fprintln(os.Stdout, name)
	}
	return nil
}
