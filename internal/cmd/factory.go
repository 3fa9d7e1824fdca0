package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/3leaps/indexwarden/internal/config"
	"github.com/3leaps/indexwarden/pkg/indexermodel"
	"github.com/3leaps/indexwarden/pkg/indexstore"
	"github.com/3leaps/indexwarden/pkg/jobregistry"
	"github.com/3leaps/indexwarden/pkg/jobstatus"
	"github.com/3leaps/indexwarden/pkg/tracker"
	"github.com/3leaps/indexwarden/pkg/tracker/httptracker"
	"github.com/3leaps/indexwarden/pkg/tracker/s3tracker"
)

// modelStore is the full store surface the CLI needs.
type modelStore interface {
	indexermodel.Store
	indexermodel.Admin
}

// storeHandle owns an opened model store.
type storeHandle struct {
	modelStore
	db *sql.DB
}

// Close releases the database, if any.
func (h *storeHandle) Close() error {
	if h.db == nil {
		return nil
	}
	return h.db.Close()
}

// CheckHealth pings the database.
func (h *storeHandle) CheckHealth(ctx context.Context) error {
	if h.db == nil {
		return nil
	}
	return h.db.PingContext(ctx)
}

// openModelStore opens and migrates the configured store.
func openModelStore(ctx context.Context, cfg config.StoreConfig) (*storeHandle, error) {
	if cfg.Driver == "memory" {
		return &storeHandle{modelStore: indexermodel.NewMemoryStore(cfg.LockTimeout)}, nil
	}

	db, err := indexstore.Open(ctx, indexstore.Config{
		Path:        cfg.Path,
		URL:         cfg.URL,
		AuthToken:   cfg.AuthToken,
		BusyTimeout: cfg.LockTimeout,
	})
	if err != nil {
		return nil, err
	}
	if err := indexstore.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate model store: %w", err)
	}

	store := indexstore.NewStore(db, indexstore.Options{
		LockTimeout:             cfg.LockTimeout,
		LockLease:               cfg.LockLease,
		UnlockVisibilityTimeout: cfg.UnlockVisibilityTimeout,
	})
	return &storeHandle{modelStore: store, db: db}, nil
}

// newTracker builds the configured job tracking backend.
func newTracker(ctx context.Context, cfg config.TrackerConfig) (jobstatus.Tracker, error) {
	kind, err := tracker.ParseKind(cfg.Kind)
	if err != nil {
		return nil, err
	}

	switch kind {
	case tracker.KindHTTP:
		c, err := httptracker.New(httptracker.Config{
			BaseURL:   cfg.HTTP.BaseURL,
			RateLimit: cfg.HTTP.RateLimit,
			Burst:     cfg.HTTP.Burst,
			Client:    &http.Client{Timeout: cfg.Timeout},
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case tracker.KindS3:
		t, err := s3tracker.New(ctx, s3tracker.Config{
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			Region:         cfg.S3.Region,
			Endpoint:       cfg.S3.Endpoint,
			Profile:        cfg.S3.Profile,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return jobregistry.NewTracker(jobregistry.NewStore(cfg.Registry.Root)), nil
	}
}

// newJobSource wraps the configured tracker as a job status source.
func newJobSource(ctx context.Context, cfg config.TrackerConfig, logger *zap.Logger) (jobstatus.Source, error) {
	t, err := newTracker(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s tracker: %w", cfg.Kind, err)
	}
	return jobstatus.NewTrackerSource(t, cfg.Timeout, logger), nil
}
