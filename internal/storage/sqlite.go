package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 2

// upgrades move a database from the keyed version to the next one.
var upgrades = map[int]string{
	// Version 1 numbered records per key. Seed the shared sequence past every
	// version already handed out so no key sees a repeat.
	1: `CREATE TABLE IF NOT EXISTS version_seq (
	        id    INTEGER PRIMARY KEY CHECK (id = 1),
	        value INTEGER NOT NULL
	    );
	    INSERT OR REPLACE INTO version_seq (id, value) VALUES (1, (
	        SELECT MAX(v) FROM (
	            SELECT 0 AS v
	            UNION ALL SELECT COALESCE(MAX(version), 0) FROM images
	            UNION ALL SELECT COALESCE(MAX(version), 0) FROM jobs
	            UNION ALL SELECT COALESCE(MAX(version), 0) FROM resolution
	            UNION ALL SELECT COALESCE(MAX(version), 0) FROM locks
	        )
	    ));`,
}

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// SQLite persists every class in its own table of a single database file.
type SQLite struct {
	db   *sql.DB
	path string
	opts options
}

// OpenSQLite initializes or connects to the state database at path.
func OpenSQLite(path string, opts ...Option) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &SQLite{db: db, path: path, opts: buildOptions(opts)}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLite) Name() string { return "sqlite" }

// Path returns the database file location.
func (s *SQLite) Path() string { return s.path }

func (s *SQLite) Bucket(class Class) Bucket {
	return &sqliteBucket{store: s, table: string(class)}
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version == schemaVersion {
		return nil
	}
	if version > schemaVersion || upgrades[version] == "" {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to reset state)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return s.upgradeSchema(ctx, version)
}

func (s *SQLite) upgradeSchema(ctx context.Context, from int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upgrade tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for version := from; version < schemaVersion; version++ {
		stmt, ok := upgrades[version]
		if !ok {
			return fmt.Errorf("%w: no upgrade from version %d", ErrSchemaMismatch, version)
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("upgrade schema from version %d: %w", version, err)
		}
	}
	if _, err := tx.ExecContext(ctx, "UPDATE schema_version SET version = ?", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema upgrade: %w", err)
	}
	return nil
}

func (s *SQLite) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

type sqliteBucket struct {
	store *SQLite
	table string
}

// write runs fn in a transaction together with the bump of the shared
// version sequence, so the version fn stores is unique across the database.
func (b *sqliteBucket) write(ctx context.Context, fn func(tx *sql.Tx, version int64) error) error {
	return retryOnBusy(ctx, func() error {
		tx, err := b.store.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		var version int64
		if err := tx.QueryRowContext(ctx,
			`UPDATE version_seq SET value = value + 1 WHERE id = 1 RETURNING value`,
		).Scan(&version); err != nil {
			return fmt.Errorf("next version: %w", err)
		}
		if err := fn(tx, version); err != nil {
			return err
		}
		return tx.Commit()
	})
}

const recordColumns = "key, value, version, created_at, updated_at, expires_at"

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v).UTC()
}

func nonNil(value []byte) []byte {
	if value == nil {
		return []byte{}
	}
	return value
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (Record, error) {
	var (
		rec                         Record
		created, updated, expiresAt int64
	)
	if err := scanner.Scan(&rec.Key, &rec.Value, &rec.Version, &created, &updated, &expiresAt); err != nil {
		return Record{}, err
	}
	rec.CreatedAt = fromNanos(created)
	rec.UpdatedAt = fromNanos(updated)
	rec.ExpiresAt = fromNanos(expiresAt)
	return rec, nil
}

func (b *sqliteBucket) Get(ctx context.Context, key string) (Record, error) {
	ctx = ensureContext(ctx)
	var rec Record
	err := retryOnBusy(ctx, func() error {
		row := b.store.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM `+b.table+` WHERE key = ?`, key)
		var scanErr error
		rec, scanErr = scanRecord(row)
		return scanErr
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get %s/%s: %w", b.table, key, err)
	}
	return rec, nil
}

func (b *sqliteBucket) Put(ctx context.Context, key string, value []byte, ttl time.Duration) (Record, error) {
	ctx = ensureContext(ctx)
	now := b.store.opts.now().UTC()
	expires := expiry(now, ttl)
	var rec Record
	err := b.write(ctx, func(tx *sql.Tx, version int64) error {
		row := tx.QueryRowContext(ctx,
			`INSERT INTO `+b.table+` (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?)
             ON CONFLICT(key) DO UPDATE SET
                 value = excluded.value,
                 version = excluded.version,
                 updated_at = excluded.updated_at,
                 expires_at = excluded.expires_at
             RETURNING `+recordColumns,
			key, nonNil(value), version, toNanos(now), toNanos(now), toNanos(expires),
		)
		var scanErr error
		rec, scanErr = scanRecord(row)
		return scanErr
	})
	if err != nil {
		return Record{}, fmt.Errorf("put %s/%s: %w", b.table, key, err)
	}
	return rec, nil
}

func (b *sqliteBucket) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (Record, bool, error) {
	ctx = ensureContext(ctx)
	now := b.store.opts.now().UTC()
	expires := expiry(now, ttl)
	var (
		affected int64
		assigned int64
	)
	err := b.write(ctx, func(tx *sql.Tx, version int64) error {
		res, execErr := tx.ExecContext(ctx,
			`INSERT INTO `+b.table+` (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?)
             ON CONFLICT(key) DO NOTHING`,
			key, nonNil(value), version, toNanos(now), toNanos(now), toNanos(expires),
		)
		if execErr != nil {
			return execErr
		}
		assigned = version
		affected, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("put-if-absent %s/%s: %w", b.table, key, err)
	}
	if affected == 1 {
		return Record{Key: key, Value: append([]byte(nil), value...), Version: assigned, CreatedAt: now, UpdatedAt: now, ExpiresAt: expires}, true, nil
	}
	existing, err := b.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		// Deleted between the insert attempt and the read; try once more.
		return b.PutIfAbsent(ctx, key, value, ttl)
	}
	return existing, false, err
}

func (b *sqliteBucket) CompareAndSwap(ctx context.Context, key string, version int64, value []byte, ttl time.Duration) (Record, error) {
	ctx = ensureContext(ctx)
	now := b.store.opts.now().UTC()
	expires := expiry(now, ttl)
	var rec Record
	err := b.write(ctx, func(tx *sql.Tx, next int64) error {
		row := tx.QueryRowContext(ctx,
			`UPDATE `+b.table+`
             SET value = ?, version = ?, updated_at = ?, expires_at = ?
             WHERE key = ? AND version = ?
             RETURNING `+recordColumns,
			nonNil(value), next, toNanos(now), toNanos(expires), key, version,
		)
		var scanErr error
		rec, scanErr = scanRecord(row)
		return scanErr
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrVersionMismatch
	}
	if err != nil {
		return Record{}, fmt.Errorf("compare-and-swap %s/%s: %w", b.table, key, err)
	}
	return rec, nil
}

func (b *sqliteBucket) CompareAndDelete(ctx context.Context, key string, version int64) (bool, error) {
	ctx = ensureContext(ctx)
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, execErr := b.store.db.ExecContext(ctx, `DELETE FROM `+b.table+` WHERE key = ? AND version = ?`, key, version)
		if execErr != nil {
			return execErr
		}
		affected, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return false, fmt.Errorf("compare-and-delete %s/%s: %w", b.table, key, err)
	}
	return affected == 1, nil
}

func (b *sqliteBucket) Delete(ctx context.Context, key string) error {
	ctx = ensureContext(ctx)
	err := retryOnBusy(ctx, func() error {
		_, execErr := b.store.db.ExecContext(ctx, `DELETE FROM `+b.table+` WHERE key = ?`, key)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", b.table, key, err)
	}
	return nil
}

// Scan pages through the table by key. Each page is fully read and the rows
// closed before fn runs, so fn may write to the same table.
func (b *sqliteBucket) Scan(ctx context.Context, opts ScanOptions, fn func(Record) error) error {
	ctx = ensureContext(ctx)
	size := pageSize(opts)
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := b.scanPage(ctx, opts.Prefix, after, size)
		if err != nil {
			return err
		}
		for _, rec := range page {
			if err := fn(rec); err != nil {
				return err
			}
		}
		if len(page) < size {
			return nil
		}
		after = page[len(page)-1].Key
	}
}

func (b *sqliteBucket) scanPage(ctx context.Context, prefix, after string, limit int) ([]Record, error) {
	var page []Record
	err := retryOnBusy(ctx, func() error {
		page = page[:0]
		rows, err := b.store.db.QueryContext(ctx,
			`SELECT `+recordColumns+` FROM `+b.table+`
             WHERE key > ? AND instr(key, ?) = 1
             ORDER BY key LIMIT ?`,
			after, prefix, limit,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				return err
			}
			page = append(page, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", b.table, err)
	}
	return page, nil
}
