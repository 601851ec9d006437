// Package db is the backing-store handle used for fixture cleanup and the
// provider-role patch. Statements are written with '?' placeholders and
// rebound for the configured dialect.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/gofrs/flock"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/kuitang/uifixture/internal/errs"
	"github.com/kuitang/uifixture/internal/obs"
)

// Supported database/sql driver names.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "pgx"
	DriverSQLite   = SQLiteDriverName
)

const (
	// MaxOpenConns bounds the shared handle. Cleanup traffic is light.
	MaxOpenConns = 4
	MaxIdleConns = 2

	lockRetryDelay = 50 * time.Millisecond
)

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name is safe to splice into SQL as a table
// or column name.
func ValidIdentifier(name string) bool {
	return identRE.MatchString(name)
}

// Options configures a Store.
type Options struct {
	// LockPath, when set, names a file locked for the duration of every
	// Batch so flushes from separate test processes do not interleave.
	LockPath string
}

// Store wraps a *sql.DB and serializes batches on it.
type Store struct {
	db     *sql.DB
	driver string
	mu     sync.Mutex
	lock   *flock.Flock
}

// Open connects to the backing store and verifies the connection.
func Open(ctx context.Context, driver, dsn string, opts Options) (*Store, error) {
	var (
		sqlDB *sql.DB
		err   error
	)
	switch driver {
	case DriverMySQL:
		cfg, perr := mysql.ParseDSN(dsn)
		if perr != nil {
			return nil, errs.Wrap(errs.InvalidArgument, "parse mysql dsn", perr)
		}
		cfg.ParseTime = true
		sqlDB, err = sql.Open(DriverMySQL, cfg.FormatDSN())
	case DriverPostgres:
		cfg, perr := pgx.ParseConfig(dsn)
		if perr != nil {
			return nil, errs.Wrap(errs.InvalidArgument, "parse postgres dsn", perr)
		}
		sqlDB = stdlib.OpenDB(*cfg)
	case DriverSQLite:
		sqlDB, err = sql.Open(DriverSQLite, appendSQLiteParams(dsn, sqliteCommonParams()))
	default:
		return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("unsupported database driver %q", driver))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	sqlDB.SetMaxOpenConns(MaxOpenConns)
	sqlDB.SetMaxIdleConns(MaxIdleConns)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}
	obs.From(ctx).Info("backing store connected", "pkg", "db", "driver", driver, "cross_process_lock", opts.LockPath != "")
	return New(sqlDB, driver, opts), nil
}

// New wraps an existing handle.
func New(sqlDB *sql.DB, driver string, opts Options) *Store {
	s := &Store{db: sqlDB, driver: driver}
	if opts.LockPath != "" {
		s.lock = flock.New(opts.LockPath)
	}
	return s
}

// DB returns the underlying sql.DB for direct access when needed
func (s *Store) DB() *sql.DB {
	return s.db
}

// Driver returns the database/sql driver name.
func (s *Store) Driver() string {
	return s.driver
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Rebind rewrites '?' placeholders for the store's dialect.
func (s *Store) Rebind(query string) string {
	if s.driver == DriverPostgres {
		return rebindDollar(query)
	}
	return query
}

// Tx is a transaction opened by Batch.
type Tx struct {
	tx    *sql.Tx
	store *Store
}

// Exec runs a statement and returns the number of affected rows.
func (t *Tx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, t.store.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// QueryRow runs a single-row query.
func (t *Tx) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.store.Rebind(query), args...)
}

// Batch runs fn in one transaction while holding the store's exclusive
// lock (and the cross-process file lock when configured). The transaction
// commits only if fn returns nil.
func (s *Store) Batch(ctx context.Context, fn func(tx *Tx) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lock != nil {
		locked, lerr := s.lock.TryLockContext(ctx, lockRetryDelay)
		if lerr != nil {
			return fmt.Errorf("acquire cleanup lock %s: %w", s.lock.Path(), lerr)
		}
		if !locked {
			return fmt.Errorf("acquire cleanup lock %s: not acquired", s.lock.Path())
		}
		defer func() {
			if uerr := s.lock.Unlock(); uerr != nil && err == nil {
				err = fmt.Errorf("release cleanup lock: %w", uerr)
			}
		}()
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	if err := fn(&Tx{tx: sqlTx, store: s}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback batch: %w", rbErr))
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// LookupID returns idColumn of the row in table whose matchColumn equals value.
func (s *Store) LookupID(ctx context.Context, table, idColumn, matchColumn string, value any) (int64, error) {
	for _, name := range []string{table, idColumn, matchColumn} {
		if !ValidIdentifier(name) {
			return 0, errs.New(errs.InvalidArgument, fmt.Sprintf("invalid identifier %q", name))
		}
	}
	query := s.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", idColumn, table, matchColumn))
	var id int64
	if err := s.db.QueryRowContext(ctx, query, value).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, errs.New(errs.NotFound, fmt.Sprintf("no %s row with %s = %v", table, matchColumn, value))
		}
		return 0, fmt.Errorf("lookup %s.%s: %w", table, idColumn, err)
	}
	return id, nil
}
