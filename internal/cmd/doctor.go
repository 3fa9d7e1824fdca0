package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/indexwarden/internal/config"
	"github.com/3leaps/indexwarden/internal/observability"
	"github.com/3leaps/indexwarden/pkg/indexstore"
	"github.com/3leaps/indexwarden/pkg/tracker"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Check that configuration loads, the indexer model store is reachable and
migrated, and the configured job tracker can be constructed.

Examples:
  indexwarden doctor
  indexwarden doctor --config /etc/indexwarden.yaml`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

// doctorCheck is one numbered diagnostic line.
type doctorCheck struct {
	name string
	run  func(ctx context.Context) (string, error)
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	log := observability.CLILogger

	log.Info("=== indexwarden doctor ===")

	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		log.Error("[1/1] Checking configuration... ❌", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Configuration is invalid", err)
	}

	checks := []doctorCheck{
		{name: "configuration", run: func(context.Context) (string, error) {
			return fmt.Sprintf("tracker=%s store=%s", cfg.Tracker.Kind, cfg.Store.Driver), nil
		}},
		{name: "model store", run: func(ctx context.Context) (string, error) {
			return checkStore(ctx, cfg.Store)
		}},
		{name: "job tracker", run: func(ctx context.Context) (string, error) {
			if _, err := newTracker(ctx, cfg.Tracker); err != nil {
				return "", err
			}
			return cfg.Tracker.Kind, nil
		}},
	}
	switch kind, _ := tracker.ParseKind(cfg.Tracker.Kind); kind {
	case tracker.KindS3:
		checks = append(checks, doctorCheck{name: "AWS credentials", run: func(ctx context.Context) (string, error) {
			return checkAWSCredentials(ctx, cfg.Tracker.S3.Profile)
		}})
		if cfg.Tracker.S3.Region == "" && cfg.Tracker.S3.Endpoint == "" {
			checks = append(checks, doctorCheck{name: "AWS region", run: func(ctx context.Context) (string, error) {
				return resolveAWSRegion(ctx, cfg.Tracker.S3.Profile)
			}})
		}
	case tracker.KindRegistry:
		checks = append(checks, doctorCheck{name: "job registry", run: func(context.Context) (string, error) {
			return checkRegistryRoot(cfg.Tracker.Registry.Root)
		}})
	}

	failed := 0
	for i, c := range checks {
		detail, err := c.run(ctx)
		if err != nil {
			failed++
			log.Error(fmt.Sprintf("[%d/%d] Checking %s... ❌", i+1, len(checks), c.name), zap.Error(err))
			continue
		}
		log.Info(fmt.Sprintf("[%d/%d] Checking %s... ✅ %s", i+1, len(checks), c.name, detail))
	}

	if failed > 0 {
		log.Warn("⚠️  Some checks failed. Review the output above for details.")
		return exitError(foundry.ExitExternalServiceUnavailable, "Diagnostics failed", fmt.Errorf("%d of %d checks failed", failed, len(checks)))
	}
	log.Info("✅ All checks passed!")
	return nil
}

func checkStore(ctx context.Context, cfg config.StoreConfig) (string, error) {
	store, err := openModelStore(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer func() { _ = store.Close() }()

	if store.db == nil {
		return "memory", nil
	}
	version, err := indexstore.ReadSchemaVersion(ctx, store.db)
	if err != nil {
		return "", err
	}
	records, err := store.List(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("schema v%d, %d indexers", version, len(records)), nil
}

func checkAWSCredentials(ctx context.Context, profile string) (string, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("load AWS config: %w", err)
	}
	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return "", fmt.Errorf("retrieve credentials: %w", err)
	}
	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	return fmt.Sprintf("%s via %s", maskAccessKey(creds.AccessKeyID), source), nil
}

// resolveAWSRegion reports the region the SDK will use, falling back to the
// EC2 instance metadata service when neither env nor profile sets one.
func resolveAWSRegion(ctx context.Context, profile string) (string, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("load AWS config: %w", err)
	}
	if cfg.Region != "" {
		return cfg.Region + " (environment/profile)", nil
	}

	imdsCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	out, err := imds.NewFromConfig(cfg).GetRegion(imdsCtx, &imds.GetRegionInput{})
	if err != nil || out.Region == "" {
		return "us-east-1 (default, instance metadata unavailable)", nil
	}
	return out.Region + " (instance metadata)", nil
}

func checkRegistryRoot(root string) (string, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return root + " (not created yet)", nil
		}
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", root)
	}
	return root, nil
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
