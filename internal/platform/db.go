// Package platform owns the single serialized connection to Lunaricorn's
// relational store. Unlike the teacher's pooled pgxpool.Pool, spec §4.1
// mandates exactly one connection per process, serialized by a mutex — so
// this adapter wraps a bare *pgx.Conn instead of a pool.
package platform

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

// FetchMode selects how Execute collects results.
type FetchMode int

const (
	// FetchNone runs the statement and discards any result set.
	FetchNone FetchMode = iota
	// FetchOne hands the single resulting row to the scan callback.
	FetchOne
	// FetchAll hands the result rows to the scanAll callback.
	FetchAll
	// FetchCount returns the number of rows affected by an INSERT/UPDATE/DELETE.
	FetchCount
)

const (
	connectTimeout   = 10 * time.Second
	statementTimeout = 30 * time.Second
	appName          = "lunaricorn"
)

// DB is the process-wide persistence adapter: one live connection, one
// mutex, reconnect-on-demand. Construct with Open and share the pointer;
// never copy it.
type DB struct {
	connString string
	logger     *slog.Logger

	mu   sync.Mutex
	conn *pgx.Conn
}

// Open connects to the relational store and returns a ready adapter.
// connString should already encode host/port/user/password/dbname; Open
// appends the connect timeout, statement timeout, and application name
// required by spec §4.1.
func Open(ctx context.Context, connString string, logger *slog.Logger) (*DB, error) {
	cfg, err := pgx.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	cfg.ConnectTimeout = connectTimeout
	cfg.RuntimeParams["application_name"] = appName
	cfg.RuntimeParams["statement_timeout"] = fmt.Sprintf("%d", statementTimeout.Milliseconds())

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &DB{
		connString: connString,
		logger:     logger,
		conn:       conn,
	}, nil
}

// Close releases the underlying connection.
func (d *DB) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	return d.conn.Close(ctx)
}

// Validate pings the connection and reconnects once if it is closed.
func (d *DB) Validate(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.validateLocked(ctx)
}

// validateLocked must be called with mu held.
func (d *DB) validateLocked(ctx context.Context) error {
	if d.conn != nil && !d.conn.IsClosed() {
		if err := d.conn.Ping(ctx); err == nil {
			return nil
		}
	}
	return d.reconnectLocked(ctx)
}

func (d *DB) reconnectLocked(ctx context.Context) error {
	d.logger.Warn("database connection closed, reconnecting")
	if d.conn != nil {
		_ = d.conn.Close(ctx)
	}
	cfg, err := pgx.ParseConfig(d.connString)
	if err != nil {
		return fmt.Errorf("parsing connection string on reconnect: %w", err)
	}
	cfg.ConnectTimeout = connectTimeout
	cfg.RuntimeParams["application_name"] = appName
	cfg.RuntimeParams["statement_timeout"] = fmt.Sprintf("%d", statementTimeout.Milliseconds())

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("reconnecting to database: %w", err)
	}
	d.conn = conn
	return nil
}

// Row is the subset of pgx.Row Execute exposes to a FetchOne scan callback.
type Row = pgx.Row

// Rows is the subset of pgx.Rows Execute exposes to a FetchAll scan callback.
type Rows = pgx.Rows

// Execute runs query as a short-lived transaction: it commits on success and
// rolls back if scan (or the statement itself) returns an error. It holds
// the adapter's mutex for its entire duration, so at most one statement is
// ever in flight per process. On a closed connection it reconnects once and
// retries the statement; if the reconnect fails it returns the original
// error wrapped with the reconnect failure, and if the retry fails it
// returns the retry's error.
func (d *DB) Execute(ctx context.Context, query string, args []any, mode FetchMode, scan func(Row) error, scanAll func(Rows) error) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rowsAffected, err := d.executeOnceLocked(ctx, query, args, mode, scan, scanAll)
	if err == nil {
		return rowsAffected, nil
	}
	if d.conn == nil || !d.conn.IsClosed() {
		// Connection is still alive: this is a permanent (validation,
		// constraint, syntax) failure, not a transient one. Never retried.
		return 0, err
	}

	d.logger.Warn("statement failed on closed connection, reconnecting", "error", err)
	if rErr := d.reconnectLocked(ctx); rErr != nil {
		return 0, fmt.Errorf("statement failed (%w), reconnect failed: %v", err, rErr)
	}
	rowsAffected, retryErr := d.executeOnceLocked(ctx, query, args, mode, scan, scanAll)
	if retryErr != nil {
		return 0, retryErr
	}
	return rowsAffected, nil
}

func (d *DB) executeOnceLocked(ctx context.Context, query string, args []any, mode FetchMode, scan func(Row) error, scanAll func(Rows) error) (int64, error) {
	tx, err := d.conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}

	rowsAffected, err := runInTx(ctx, tx, query, args, mode, scan, scanAll)
	if err != nil {
		_ = tx.Rollback(ctx)
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return rowsAffected, nil
}

func runInTx(ctx context.Context, tx pgx.Tx, query string, args []any, mode FetchMode, scan func(Row) error, scanAll func(Rows) error) (int64, error) {
	switch mode {
	case FetchOne:
		row := tx.QueryRow(ctx, query, args...)
		if err := scan(row); err != nil {
			return 0, err
		}
		return 1, nil
	case FetchAll:
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("querying: %w", err)
		}
		defer rows.Close()
		if err := scanAll(rows); err != nil {
			return 0, err
		}
		return 0, rows.Err()
	case FetchCount:
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("executing: %w", err)
		}
		return tag.RowsAffected(), nil
	default:
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("executing: %w", err)
		}
		return 0, nil
	}
}

// Install applies the migration files under migrationsDir to the database
// this adapter is connected to. It is the hook each subsystem (cluster,
// signaling, orb) calls at process start with its own migrations
// subdirectory; golang-migrate's file source makes repeated calls a no-op
// once the schema is current, satisfying spec §4.1's idempotent-install
// requirement.
func (d *DB) Install(ctx context.Context, migrationsDir string) error {
	_ = ctx
	return RunMigrations(d.connString, migrationsDir)
}

// Exec is a convenience wrapper around Execute for statements with no result
// set the caller cares about.
func (d *DB) Exec(ctx context.Context, query string, args ...any) error {
	_, err := d.Execute(ctx, query, args, FetchNone, nil, nil)
	return err
}

// ExecCount runs a statement and returns the number of rows affected.
func (d *DB) ExecCount(ctx context.Context, query string, args ...any) (int64, error) {
	return d.Execute(ctx, query, args, FetchCount, nil, nil)
}

// QueryRow runs query and hands the single resulting row to scan.
func (d *DB) QueryRow(ctx context.Context, query string, args []any, scan func(Row) error) error {
	_, err := d.Execute(ctx, query, args, FetchOne, scan, nil)
	return err
}

// Query runs query and hands every resulting row to scanAll.
func (d *DB) Query(ctx context.Context, query string, args []any, scanAll func(Rows) error) error {
	_, err := d.Execute(ctx, query, args, FetchAll, nil, scanAll)
	return err
}
