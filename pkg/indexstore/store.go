package indexstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/3leaps/indexwarden/pkg/indexermodel"
)

// Config locates the indexer model database.
type Config struct {
	// Path is a local database file, a file: DSN, or ":memory:".
	Path string

	// URL is a remote libsql/Turso URL, e.g. libsql://models.turso.io.
	// It takes precedence over Path.
	URL string

	// AuthToken is added to remote URLs as authToken unless already present.
	AuthToken string

	// BusyTimeout is how long SQLite waits on a locked database file before
	// failing. Callers normally pass the model lock timeout. Defaults to
	// indexermodel.DefaultLockTimeout.
	BusyTimeout time.Duration
}

type targetKind int

const (
	targetMemory targetKind = iota
	targetFile
	targetRemote
)

// target is a resolved model store location.
type target struct {
	kind targetKind
	dsn  string
	// file is the local database file for targetFile.
	file string
}

// String hides credentials from log and error output.
func (t target) String() string {
	switch t.kind {
	case targetMemory:
		return "in-memory model store"
	case targetFile:
		return t.file
	default:
		u, err := url.Parse(t.dsn)
		if err != nil {
			return "remote model store"
		}
		return u.Scheme + "://" + u.Host
	}
}

func resolveTarget(cfg Config) (target, error) {
	if u := strings.TrimSpace(cfg.URL); u != "" {
		dsn, err := withAuthToken(u, cfg.AuthToken)
		if err != nil {
			return target{}, err
		}
		return target{kind: targetRemote, dsn: dsn}, nil
	}

	path := strings.TrimSpace(cfg.Path)
	switch {
	case path == "":
		return target{}, errors.New("model store path or url is required")
	case path == ":memory:" || path == "file::memory:":
		return target{kind: targetMemory, dsn: ":memory:"}, nil
	case strings.HasPrefix(path, "libsql:"):
		return target{kind: targetRemote, dsn: path}, nil
	case strings.HasPrefix(path, "file:"):
		file, err := fileFromDSN(path)
		if err != nil {
			return target{}, err
		}
		return target{kind: targetFile, dsn: path, file: file}, nil
	default:
		file := filepath.Clean(path)
		return target{kind: targetFile, dsn: "file:" + file, file: file}, nil
	}
}

func withAuthToken(dsn string, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return dsn, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid model store url: %w", err)
	}
	query := parsed.Query()
	if query.Get("authToken") == "" {
		query.Set("authToken", token)
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

func fileFromDSN(dsn string) (string, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid model store path: %w", err)
	}
	if parsed.Path != "" {
		return strings.TrimPrefix(parsed.Path, "//"), nil
	}
	return strings.TrimPrefix(parsed.Opaque, "//"), nil
}

// Open opens (creating if needed) the indexer model database described by
// cfg. Connection failures wrap indexermodel.ErrStoreUnavailable.
//
// The database is not migrated; call Migrate before use.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = indexermodel.DefaultLockTimeout
	}

	t, err := resolveTarget(cfg)
	if err != nil {
		return nil, err
	}
	if t.kind == targetRemote && !remoteSupported {
		return nil, fmt.Errorf("%s: remote libsql model stores require a cgo build", t)
	}
	if t.kind == targetFile {
		if err := ensureStoreDir(t.file); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(driverName, t.dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", t, err)
	}
	if t.kind == targetMemory {
		// Each connection to :memory: is its own database; keep exactly one
		// alive for the life of the store.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w: %w", t, indexermodel.ErrStoreUnavailable, err)
	}
	if t.kind == targetFile {
		if err := tuneLocalFile(ctx, db, cfg.BusyTimeout); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure %s: %w", t, err)
		}
	}
	return db, nil
}

// tuneLocalFile keeps one connection, enables WAL and sets busy_timeout to
// busy.
func tuneLocalFile(ctx context.Context, db *sql.DB, busy time.Duration) error {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	var applied int
	stmt := fmt.Sprintf("PRAGMA busy_timeout=%d", busy.Milliseconds())
	if err := db.QueryRowContext(ctx, stmt).Scan(&applied); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	return nil
}

func ensureStoreDir(file string) error {
	dir := filepath.Dir(filepath.Clean(file))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}
	// #nosec G301 -- data directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create model store directory: %w", err)
	}
	return nil
}
