package indexstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/efritz/glock"

	"github.com/3leaps/indexwarden/pkg/indexermodel"
)

// Defaults for Options fields left at zero.
const (
	DefaultLockLease               = 30 * time.Second
	DefaultUnlockVisibilityTimeout = 2 * time.Second
)

const lockPollInterval = 25 * time.Millisecond

// Options tunes a SQL-backed Store.
type Options struct {
	// LockTimeout bounds how long Lock waits on a contended lock.
	LockTimeout time.Duration

	// LockLease is how long a lock stays valid without release. An expired
	// lease can be reclaimed by another locker.
	LockLease time.Duration

	// UnlockVisibilityTimeout bounds how long Unlock waits for the release to
	// become observable when asked to.
	UnlockVisibilityTimeout time.Duration

	// Clock defaults to the real clock.
	Clock glock.Clock
}

// Store implements the indexer model on SQLite or libsql.
type Store struct {
	db   *sql.DB
	opts Options
}

var (
	_ indexermodel.Store = (*Store)(nil)
	_ indexermodel.Admin = (*Store)(nil)
)

// NewStore wraps an open, migrated database.
func NewStore(db *sql.DB, opts Options) *Store {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = indexermodel.DefaultLockTimeout
	}
	if opts.LockLease <= 0 {
		opts.LockLease = DefaultLockLease
	}
	if opts.UnlockVisibilityTimeout <= 0 {
		opts.UnlockVisibilityTimeout = DefaultUnlockVisibilityTimeout
	}
	if opts.Clock == nil {
		opts.Clock = glock.NewRealClock()
	}
	return &Store{db: db, opts: opts}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

const indexerColumns = `name, version, lifecycle_state, batch_indexing_state, incremental_indexing_state,
	subscription_id, configuration, connection_type, connection_params, batch_index_args,
	active_batch_build, last_batch_build`

func (s *Store) List(ctx context.Context) ([]indexermodel.IndexerRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+indexerColumns+` FROM indexers ORDER BY name`)
	if err != nil {
		return nil, unavailable("List", "", err)
	}
	defer func() { _ = rows.Close() }()

	var out []indexermodel.IndexerRecord
	for rows.Next() {
		r, err := scanIndexer(rows)
		if err != nil {
			return nil, &indexermodel.StoreError{Op: "List", Err: err}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("List", "", err)
	}
	return out, nil
}

func (s *Store) GetFresh(ctx context.Context, name string) (indexermodel.IndexerRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+indexerColumns+` FROM indexers WHERE name=?`, name)
	r, err := scanIndexer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return indexermodel.IndexerRecord{}, &indexermodel.StoreError{Op: "GetFresh", Indexer: name, Err: indexermodel.ErrNotFound}
		}
		return indexermodel.IndexerRecord{}, unavailable("GetFresh", name, err)
	}
	return r, nil
}

func (s *Store) Update(ctx context.Context, record indexermodel.IndexerRecord) error {
	cols, err := encodeIndexer(record)
	if err != nil {
		return &indexermodel.StoreError{Op: "Update", Indexer: record.Name, Err: err}
	}

	res, err := s.db.ExecContext(ctx, `UPDATE indexers SET
			version=version+1,
			lifecycle_state=?, batch_indexing_state=?, incremental_indexing_state=?,
			subscription_id=?, configuration=?, connection_type=?, connection_params=?,
			batch_index_args=?, active_batch_build=?, last_batch_build=?, updated_at=?
		WHERE name=? AND version=?`,
		cols.lifecycle, cols.batch, cols.incremental,
		cols.subscriptionID, cols.configuration, cols.connectionType, cols.connectionParams,
		cols.batchIndexArgs, cols.activeBuild, cols.lastBuild, s.now(),
		record.Name, record.Version,
	)
	if err != nil {
		return unavailable("Update", record.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("Update", record.Name, err)
	}
	if n == 1 {
		return nil
	}

	var stored int64
	err = s.db.QueryRowContext(ctx, `SELECT version FROM indexers WHERE name=?`, record.Name).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return &indexermodel.StoreError{Op: "Update", Indexer: record.Name, Err: indexermodel.ErrNotFound}
	}
	if err != nil {
		return unavailable("Update", record.Name, err)
	}
	return &indexermodel.StoreError{
		Op:      "Update",
		Indexer: record.Name,
		Err:     fmt.Errorf("%w: have %d, stored %d", indexermodel.ErrConflict, record.Version, stored),
	}
}

func (s *Store) Put(ctx context.Context, record indexermodel.IndexerRecord) (indexermodel.IndexerRecord, error) {
	name := strings.TrimSpace(record.Name)
	if name == "" {
		return indexermodel.IndexerRecord{}, &indexermodel.StoreError{Op: "Put", Err: errors.New("indexer name is required")}
	}
	next := indexermodel.Normalize(record.Clone())
	next.Name = name

	cols, err := encodeIndexer(next)
	if err != nil {
		return indexermodel.IndexerRecord{}, &indexermodel.StoreError{Op: "Put", Indexer: name, Err: err}
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO indexers (`+indexerColumns+`, updated_at)
		VALUES (?, 1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			version=indexers.version+1,
			lifecycle_state=excluded.lifecycle_state,
			batch_indexing_state=excluded.batch_indexing_state,
			incremental_indexing_state=excluded.incremental_indexing_state,
			subscription_id=excluded.subscription_id,
			configuration=excluded.configuration,
			connection_type=excluded.connection_type,
			connection_params=excluded.connection_params,
			batch_index_args=excluded.batch_index_args,
			active_batch_build=excluded.active_batch_build,
			last_batch_build=excluded.last_batch_build,
			updated_at=excluded.updated_at`,
		name, cols.lifecycle, cols.batch, cols.incremental,
		cols.subscriptionID, cols.configuration, cols.connectionType, cols.connectionParams,
		cols.batchIndexArgs, cols.activeBuild, cols.lastBuild, s.now(),
	)
	if err != nil {
		return indexermodel.IndexerRecord{}, unavailable("Put", name, err)
	}
	return s.GetFresh(ctx, name)
}

func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM indexers WHERE name=?`, name)
	if err != nil {
		return unavailable("Delete", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("Delete", name, err)
	}
	if n == 0 {
		return &indexermodel.StoreError{Op: "Delete", Indexer: name, Err: indexermodel.ErrNotFound}
	}
	return nil
}

func (s *Store) now() string {
	return s.opts.Clock.Now().UTC().Format(time.RFC3339Nano)
}

func unavailable(op, name string, err error) error {
	return &indexermodel.StoreError{Op: op, Indexer: name, Err: fmt.Errorf("%w: %w", indexermodel.ErrStoreUnavailable, err)}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIndexer(row scanner) (indexermodel.IndexerRecord, error) {
	var (
		r                indexermodel.IndexerRecord
		lifecycle        string
		batch            string
		incremental      string
		subscriptionID   sql.NullString
		connectionType   sql.NullString
		connectionParams sql.NullString
		batchIndexArgs   sql.NullString
		activeBuild      sql.NullString
		lastBuild        sql.NullString
	)
	if err := row.Scan(
		&r.Name, &r.Version, &lifecycle, &batch, &incremental,
		&subscriptionID, &r.Configuration, &connectionType, &connectionParams, &batchIndexArgs,
		&activeBuild, &lastBuild,
	); err != nil {
		return indexermodel.IndexerRecord{}, err
	}

	r.LifecycleState = indexermodel.LifecycleState(lifecycle)
	r.BatchIndexingState = indexermodel.BatchIndexingState(batch)
	r.IncrementalIndexingState = indexermodel.IncrementalIndexingState(incremental)
	r.SubscriptionID = subscriptionID.String
	r.ConnectionType = connectionType.String
	if len(r.Configuration) == 0 {
		r.Configuration = nil
	}

	if err := decodeJSON(connectionParams, &r.ConnectionParams); err != nil {
		return r, fmt.Errorf("decode connection_params for %s: %w", r.Name, err)
	}
	if err := decodeJSON(batchIndexArgs, &r.BatchIndexArgs); err != nil {
		return r, fmt.Errorf("decode batch_index_args for %s: %w", r.Name, err)
	}
	if err := decodeJSON(activeBuild, &r.ActiveBatchBuild); err != nil {
		return r, fmt.Errorf("decode active_batch_build for %s: %w", r.Name, err)
	}
	if err := decodeJSON(lastBuild, &r.LastBatchBuild); err != nil {
		return r, fmt.Errorf("decode last_batch_build for %s: %w", r.Name, err)
	}
	return r, nil
}

func decodeJSON(col sql.NullString, dst any) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), dst)
}

type indexerColumnsRow struct {
	lifecycle        string
	batch            string
	incremental      string
	subscriptionID   string
	configuration    []byte
	connectionType   string
	connectionParams string
	batchIndexArgs   string
	activeBuild      string
	lastBuild        string
}

func encodeIndexer(r indexermodel.IndexerRecord) (indexerColumnsRow, error) {
	row := indexerColumnsRow{
		lifecycle:      string(r.LifecycleState),
		batch:          string(r.BatchIndexingState),
		incremental:    string(r.IncrementalIndexingState),
		subscriptionID: r.SubscriptionID,
		configuration:  r.Configuration,
		connectionType: r.ConnectionType,
	}

	var err error
	if len(r.ConnectionParams) > 0 {
		if row.connectionParams, err = encodeJSON(r.ConnectionParams); err != nil {
			return row, fmt.Errorf("encode connection_params: %w", err)
		}
	}
	if len(r.BatchIndexArgs) > 0 {
		if row.batchIndexArgs, err = encodeJSON(r.BatchIndexArgs); err != nil {
			return row, fmt.Errorf("encode batch_index_args: %w", err)
		}
	}
	if r.ActiveBatchBuild != nil {
		if row.activeBuild, err = encodeJSON(r.ActiveBatchBuild); err != nil {
			return row, fmt.Errorf("encode active_batch_build: %w", err)
		}
	}
	if r.LastBatchBuild != nil {
		if row.lastBuild, err = encodeJSON(r.LastBatchBuild); err != nil {
			return row, fmt.Errorf("encode last_batch_build: %w", err)
		}
	}
	return row, nil
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
