// Package cmd implements the indexwarden command line.
package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/3leaps/indexwarden/internal/config"
	"github.com/3leaps/indexwarden/internal/observability"
)

var (
	cfgFile  string
	verbose  bool
	logLevel string
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata injected by the linker.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var rootCmd = &cobra.Command{
	Use:   "indexwarden",
	Short: "Reconcile batch index builds into the indexer model",
	Long: `indexwarden watches the batch build jobs launched for each indexer and,
once every job of a build has finished, records the outcome in the shared
indexer model exactly once.

Configuration is read from defaults, an optional YAML file (--config,
./indexwarden.yaml or the user config dir), INDEXWARDEN_* environment
variables and command flags, in increasing order of precedence.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		observability.InitCLILogger("indexwarden", verbose)
		config.SetConfigFile(cfgFile)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose CLI output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Service log level (debug, info, warn, error)")
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		observability.CLILogger.Error(err.Error())
	}
	return err
}

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.Message, e.Err, e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &ExitError{Code: code, Message: message, Err: err}
}

// ExitCode returns the exit code carried by err, or 1.
func ExitCode(err error) int {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}

// loadConfig loads configuration with flag overrides applied on top.
func loadConfig(cmd *cobra.Command, extra map[string]any) (*config.Config, error) {
	overrides := map[string]any{}
	if logLevel != "" {
		overrides["logging"] = map[string]any{"level": logLevel}
	}
	for k, v := range extra {
		overrides[k] = v
	}
	return config.Load(cmd.Context(), overrides)
}
