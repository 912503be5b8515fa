// Package sqlite provides the durable SQLite storage.Backend.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	stdSync "sync"
	"time"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
	"github.com/c0deZ3R0/go-offline-kit/logging"
	"github.com/c0deZ3R0/go-offline-kit/record"
	"github.com/c0deZ3R0/go-offline-kit/storage"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// Operation constants for consistent error reporting
const (
	opOpen     = "sqlite.Open"
	opPut      = "sqlite.Put"
	opGet      = "sqlite.Get"
	opGetAll   = "sqlite.GetAll"
	opDelete   = "sqlite.Delete"
	opClear    = "sqlite.Clear"
	opCount    = "sqlite.Count"
	opEnqueue  = "sqlite.Enqueue"
	opList     = "sqlite.List"
	opRemove   = "sqlite.Remove"
	opClearOps = "sqlite.ClearOperations"
	opClearAll = "sqlite.ClearAll"

	component = "storage/sqlite"
)

// Config holds configuration options for the SQLite backend.
//
// DefaultConfig enables WAL and a busy timeout so the engine's concurrent
// collection work does not trip over SQLITE_BUSY.
type Config struct {
	// DataSourceName is a file path or go-sqlite3 DSN. ":memory:" gives a
	// private in-memory database pinned to a single connection.
	DataSourceName string

	// EnableWAL appends _journal_mode=WAL to the DSN.
	EnableWAL bool

	// BusyTimeout is how long a writer waits for a lock. Default: 5s.
	BusyTimeout time.Duration

	// Logger receives lifecycle messages. Defaults to the package logger.
	Logger *slog.Logger

	// Connection pool settings.
	// Defaults: MaxOpen=25, MaxIdle=5, Lifetime=1h, IdleTime=5m
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func (c *Config) inMemory() bool {
	return c.DataSourceName == ":memory:" || strings.Contains(c.DataSourceName, "mode=memory")
}

// setDefaults applies default values to the config
func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = logging.WithComponent(logging.Component("sqlite-store")).Logger
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = 5 * time.Second
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.inMemory() {
		// every new connection would see a fresh empty database
		c.EnableWAL = false
		c.MaxOpenConns = 1
		c.MaxIdleConns = 1
		c.ConnMaxLifetime = -1
		c.ConnMaxIdleTime = -1
	}
}

func (c *Config) dsn() string {
	dsn := c.DataSourceName
	add := func(param string) {
		key, _, _ := strings.Cut(param, "=")
		if strings.Contains(dsn, key+"=") {
			return
		}
		if strings.Contains(dsn, "?") {
			dsn += "&" + param
		} else {
			dsn += "?" + param
		}
	}
	if c.EnableWAL {
		add("_journal_mode=WAL")
	}
	add(fmt.Sprintf("_busy_timeout=%d", c.BusyTimeout.Milliseconds()))
	return dsn
}

// DefaultConfig returns a Config with WAL enabled and the default pool settings.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// NewWithDataSource is a convenience constructor
func NewWithDataSource(dataSourceName string) (*Store, error) {
	return New(DefaultConfig(dataSourceName))
}

// Store implements storage.Backend on SQLite.
type Store struct {
	db     *sql.DB
	mu     stdSync.RWMutex
	closed bool
	logger *slog.Logger
}

// Compile-time check to ensure Store satisfies the Backend interface
var _ storage.Backend = (*Store)(nil)

// New opens the database described by config and creates the schema.
func New(config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	config.setDefaults()

	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}

	logger := config.Logger
	logger.Info("Opening SQLite database",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL),
	)

	db, err := sql.Open("sqlite3", config.dsn())
	if err != nil {
		return nil, syncErrors.WrapPersistence(err, opOpen, component)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, syncErrors.WrapPersistence(fmt.Errorf("failed to connect to sqlite database: %w", err), opOpen, component)
	}

	store := &Store{db: db, logger: logger}
	if err := store.setupSchema(); err != nil {
		db.Close()
		return nil, syncErrors.WrapPersistence(fmt.Errorf("failed to setup database schema: %w", err), opOpen, component)
	}

	logger.Debug("SQLite backend initialized",
		slog.Int("max_open_conns", config.MaxOpenConns),
	)
	return store, nil
}

func (s *Store) setupSchema() error {
	query := `
    CREATE TABLE IF NOT EXISTS records (
        collection  TEXT NOT NULL,
        id          TEXT NOT NULL,
        rev         TEXT NOT NULL DEFAULT '',
        doc         TEXT NOT NULL,
        updated_at  INTEGER NOT NULL,
        PRIMARY KEY (collection, id)
    );
    CREATE TABLE IF NOT EXISTS pending_operations (
        seq              INTEGER PRIMARY KEY AUTOINCREMENT,
        collection       TEXT NOT NULL,
        record_id        TEXT NOT NULL DEFAULT '',
        method           TEXT NOT NULL,
        url              TEXT NOT NULL,
        header           TEXT NOT NULL DEFAULT '{}',
        body             BLOB,
        enqueued_at      INTEGER NOT NULL,
        idempotency_key  TEXT NOT NULL DEFAULT ''
    );
    `
	_, err := s.db.Exec(query)
	return err
}

// begin checks the closed flag and context before handing work to the database.
func (s *Store) begin(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return syncErrors.WrapPersistence(storage.ErrClosed, op, component)
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) (err error) {
	if err := s.begin(ctx, op); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncErrors.WrapPersistence(err, op, component)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return syncErrors.WrapPersistence(err, op, component)
	}
	if err = tx.Commit(); err != nil {
		return syncErrors.WrapPersistence(err, op, component)
	}
	return nil
}

const upsertRecord = `
    INSERT INTO records (collection, id, rev, doc, updated_at) VALUES (?, ?, ?, ?, ?)
    ON CONFLICT(collection, id) DO UPDATE SET
        rev = excluded.rev, doc = excluded.doc, updated_at = excluded.updated_at`

func encodeFields(fields map[string]any) (string, error) {
	if fields == nil {
		return "{}", nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode record fields: %w", err)
	}
	return string(data), nil
}

func decodeFields(doc string) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(doc), &fields); err != nil {
		return nil, fmt.Errorf("decode record fields: %w", err)
	}
	return fields, nil
}

func putTx(ctx context.Context, tx *sql.Tx, c record.Collection, rec record.Record, mode storage.PutMode) error {
	if mode == storage.PutMerge {
		var rev, doc string
		err := tx.QueryRowContext(ctx,
			`SELECT rev, doc FROM records WHERE collection = ? AND id = ?`, string(c), rec.ID).Scan(&rev, &doc)
		switch {
		case err == sql.ErrNoRows:
		case err != nil:
			return err
		default:
			fields, err := decodeFields(doc)
			if err != nil {
				return err
			}
			existing := record.Record{ID: rec.ID, Rev: record.Revision(rev), Fields: fields}
			rec = existing.Merge(rec)
		}
	}
	doc, err := encodeFields(rec.Fields)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, upsertRecord, string(c), rec.ID, string(rec.Rev), doc, time.Now().UnixNano())
	return err
}

// Put stores rec under (c, rec.ID).
func (s *Store) Put(ctx context.Context, c record.Collection, rec record.Record, mode storage.PutMode) error {
	return s.withTx(ctx, opPut, func(tx *sql.Tx) error {
		return putTx(ctx, tx, c, rec, mode)
	})
}

// PutMany replaces every record in recs inside one transaction.
func (s *Store) PutMany(ctx context.Context, c record.Collection, recs []record.Record) error {
	if len(recs) == 0 {
		return s.begin(ctx, opPut)
	}
	return s.withTx(ctx, opPut, func(tx *sql.Tx) error {
		for _, rec := range recs {
			if err := putTx(ctx, tx, c, rec, storage.PutReplace); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Get(ctx context.Context, c record.Collection, id string) (record.Record, bool, error) {
	if err := s.begin(ctx, opGet); err != nil {
		return record.Record{}, false, err
	}
	var rev, doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT rev, doc FROM records WHERE collection = ? AND id = ?`, string(c), id).Scan(&rev, &doc)
	if err == sql.ErrNoRows {
		return record.Record{}, false, nil
	}
	if err != nil {
		return record.Record{}, false, syncErrors.WrapPersistence(err, opGet, component)
	}
	fields, err := decodeFields(doc)
	if err != nil {
		return record.Record{}, false, syncErrors.WrapPersistence(err, opGet, component)
	}
	return record.Record{ID: id, Rev: record.Revision(rev), Collection: c, Fields: fields}, true, nil
}

func (s *Store) GetAll(ctx context.Context, c record.Collection) ([]record.Record, error) {
	if err := s.begin(ctx, opGetAll); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, rev, doc FROM records WHERE collection = ? ORDER BY id ASC`, string(c))
	if err != nil {
		return nil, syncErrors.WrapPersistence(err, opGetAll, component)
	}
	defer rows.Close()

	out := []record.Record{}
	for rows.Next() {
		var id, rev, doc string
		if err := rows.Scan(&id, &rev, &doc); err != nil {
			return nil, syncErrors.WrapPersistence(err, opGetAll, component)
		}
		fields, err := decodeFields(doc)
		if err != nil {
			return nil, syncErrors.WrapPersistence(err, opGetAll, component)
		}
		out = append(out, record.Record{ID: id, Rev: record.Revision(rev), Collection: c, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, syncErrors.WrapPersistence(err, opGetAll, component)
	}
	return out, nil
}

func (s *Store) exec(ctx context.Context, op, query string, args ...any) error {
	if err := s.begin(ctx, op); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return syncErrors.WrapPersistence(err, op, component)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, c record.Collection, id string) error {
	return s.exec(ctx, opDelete, `DELETE FROM records WHERE collection = ? AND id = ?`, string(c), id)
}

func (s *Store) Clear(ctx context.Context, c record.Collection) error {
	return s.exec(ctx, opClear, `DELETE FROM records WHERE collection = ?`, string(c))
}

func (s *Store) count(ctx context.Context, op, query string, args ...any) (int, error) {
	if err := s.begin(ctx, op); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, syncErrors.WrapPersistence(err, op, component)
	}
	return n, nil
}

func (s *Store) Count(ctx context.Context, c record.Collection) (int, error) {
	return s.count(ctx, opCount, `SELECT COUNT(*) FROM records WHERE collection = ?`, string(c))
}

// Enqueue appends op to the operation log and returns its sequence number.
func (s *Store) Enqueue(ctx context.Context, op record.PendingOperation) (int64, error) {
	if err := s.begin(ctx, opEnqueue); err != nil {
		return 0, err
	}
	header, err := json.Marshal(op.Header)
	if err != nil {
		return 0, syncErrors.WrapPersistence(err, opEnqueue, component)
	}
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO pending_operations (collection, record_id, method, url, header, body, enqueued_at, idempotency_key)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(op.Collection), op.RecordID, op.Method, op.URL, string(header), op.Body,
		op.EnqueuedAt.UnixNano(), op.IdempotencyKey)
	if err != nil {
		return 0, syncErrors.WrapPersistence(err, opEnqueue, component)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, syncErrors.WrapPersistence(err, opEnqueue, component)
	}
	return seq, nil
}

// List returns every pending operation in sequence order.
func (s *Store) List(ctx context.Context) ([]record.PendingOperation, error) {
	if err := s.begin(ctx, opList); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT seq, collection, record_id, method, url, header, body, enqueued_at, idempotency_key
        FROM pending_operations ORDER BY seq ASC`)
	if err != nil {
		return nil, syncErrors.WrapPersistence(err, opList, component)
	}
	defer rows.Close()

	var out []record.PendingOperation
	for rows.Next() {
		var (
			op         record.PendingOperation
			collection string
			header     string
			enqueuedAt int64
		)
		if err := rows.Scan(&op.Seq, &collection, &op.RecordID, &op.Method, &op.URL,
			&header, &op.Body, &enqueuedAt, &op.IdempotencyKey); err != nil {
			return nil, syncErrors.WrapPersistence(err, opList, component)
		}
		op.Collection = record.Collection(collection)
		op.EnqueuedAt = time.Unix(0, enqueuedAt).UTC()
		if err := json.Unmarshal([]byte(header), &op.Header); err != nil {
			return nil, syncErrors.WrapPersistence(fmt.Errorf("decode header of op %d: %w", op.Seq, err), opList, component)
		}
		out = append(out, op)
	}
	if err := rows.Err(); err != nil {
		return nil, syncErrors.WrapPersistence(err, opList, component)
	}
	return out, nil
}

func (s *Store) Remove(ctx context.Context, seq int64) error {
	return s.exec(ctx, opRemove, `DELETE FROM pending_operations WHERE seq = ?`, seq)
}

func (s *Store) Len(ctx context.Context) (int, error) {
	return s.count(ctx, opList, `SELECT COUNT(*) FROM pending_operations`)
}

func (s *Store) ClearOperations(ctx context.Context) error {
	return s.exec(ctx, opClearOps, `DELETE FROM pending_operations`)
}

// ClearAll empties records and pending operations in one transaction.
func (s *Store) ClearAll(ctx context.Context) error {
	return s.withTx(ctx, opClearAll, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM pending_operations`)
		return err
	})
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Stats returns database statistics for monitoring
func (s *Store) Stats() sql.DBStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return sql.DBStats{}
	}
	return s.db.Stats()
}
