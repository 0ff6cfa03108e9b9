package db

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema (dataset table + example_id index)
const currentSchemaVersion = 1

// engine owns the single SQLite connection behind a store handle and the
// raw row operations on the dataset table. One engine per open handle;
// independent read-only handles get independent engines.
type engine struct {
	db       *sql.DB
	readOnly bool
}

// stagedEntry is one (data_id, example_id, payload) triple, either buffered
// in memory or being committed.
type stagedEntry struct {
	dataID    int64
	exampleID string
	payload   []byte
}

// openEngine opens the SQLite connection and applies the connection-level
// configuration. Schema work is separate so open can distinguish creating
// a new file from validating an existing one.
//
// The connection is configured with:
//   - WAL mode for concurrent readers during writes (write handles only)
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
func openEngine(path string, readOnly bool) (*engine, error) {
	dsn := path
	if readOnly {
		// mode=ro makes SQLite itself reject writes; the code-level guard
		// in insertBatch exists on top of it.
		dsn = "file:" + path + "?mode=ro&_busy_timeout=5000"
	}

	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := sqldb.Ping(); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if readOnly {
		// Independent read connections take snapshot reads without
		// coordination, so a small pool lets point lookups proceed while a
		// cursor holds another connection open.
		sqldb.SetMaxOpenConns(4)
		sqldb.SetMaxIdleConns(4)
	} else {
		// SQLite supports one writer at a time; a single connection also
		// keeps cursor reads off a connection with an open write
		// transaction.
		sqldb.SetMaxOpenConns(1)
		sqldb.SetMaxIdleConns(1)
	}

	if !readOnly {
		pragmas := []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
			"PRAGMA busy_timeout = 5000",
		}
		for _, pragma := range pragmas {
			if _, err := sqldb.Exec(pragma); err != nil {
				sqldb.Close()
				return nil, fmt.Errorf("execute %q: %w", pragma, err)
			}
		}
	}

	return &engine{db: sqldb, readOnly: readOnly}, nil
}

func (e *engine) close() error {
	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db = nil
	return err
}

// initSchema creates the dataset table and stamps the schema version and
// codec tag. Only called for files created by this open.
func (e *engine) initSchema(ctx context.Context, codecTag int32) error {
	if _, err := e.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	if _, err := e.db.ExecContext(ctx,
		fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return e.setCodecTag(ctx, codecTag)
}

// validateSchema checks an existing file: the dataset table must exist with
// the expected columns, and the schema version must not be newer than this
// library understands.
func (e *engine) validateSchema(ctx context.Context) error {
	var name string
	err := e.db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name='dataset'",
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: no dataset table", ErrSchemaMismatch)
	}
	if err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}

	rows, err := e.db.QueryContext(ctx, "PRAGMA table_info(dataset)")
	if err != nil {
		return fmt.Errorf("inspect columns: %w", err)
	}
	defer rows.Close()

	want := map[string]string{
		"data_id":    "INTEGER",
		"example_id": "TEXT",
		"data":       "BLOB",
	}
	seen := 0
	for rows.Next() {
		var (
			cid        int
			colName    string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &defaultVal, &pk); err != nil {
			return fmt.Errorf("scan column info: %w", err)
		}
		wantType, ok := want[colName]
		if !ok || colType != wantType {
			return fmt.Errorf("%w: unexpected column %s %s", ErrSchemaMismatch, colName, colType)
		}
		if colName == "data_id" && pk != 1 {
			return fmt.Errorf("%w: data_id is not the primary key", ErrSchemaMismatch)
		}
		seen++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("inspect columns: %w", err)
	}
	if seen != len(want) {
		return fmt.Errorf("%w: expected %d columns, found %d", ErrSchemaMismatch, len(want), seen)
	}

	var version int
	if err := e.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("%w: schema version %d is newer than supported %d",
			ErrSchemaMismatch, version, currentSchemaVersion)
	}
	return nil
}

// codecTag reads the persisted codec identifier. 0 means the file predates
// codec tagging.
func (e *engine) codecTag(ctx context.Context) (int32, error) {
	var tag int32
	if err := e.db.QueryRowContext(ctx, "PRAGMA application_id").Scan(&tag); err != nil {
		return 0, fmt.Errorf("get application_id: %w", err)
	}
	return tag, nil
}

func (e *engine) setCodecTag(ctx context.Context, tag int32) error {
	if _, err := e.db.ExecContext(ctx,
		fmt.Sprintf("PRAGMA application_id = %d", tag)); err != nil {
		return fmt.Errorf("set application_id: %w", err)
	}
	return nil
}

// insertBatch commits the staged entries as one transaction. The batch is
// all-or-nothing: any key collision rolls back every row and surfaces
// ErrDuplicateKey naming the colliding entry.
func (e *engine) insertBatch(ctx context.Context, entries []stagedEntry) error {
	if e.readOnly {
		return ErrReadOnly
	}
	if len(entries) == 0 {
		return nil
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert batch: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO dataset (data_id, example_id, data) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("insert batch: prepare: %w", err)
	}
	defer stmt.Close()

	for _, entry := range entries {
		if _, err := stmt.ExecContext(ctx, entry.dataID, entry.exampleID, entry.payload); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: data_id=%d example_id=%q",
					ErrDuplicateKey, entry.dataID, entry.exampleID)
			}
			return fmt.Errorf("insert batch: data_id=%d: %w", entry.dataID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert batch: commit: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite unique or primary-key
// constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func (e *engine) getByID(ctx context.Context, dataID int64) ([]byte, error) {
	var payload []byte
	err := e.db.QueryRowContext(ctx,
		"SELECT data FROM dataset WHERE data_id = ?", dataID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: data_id=%d", ErrNotFound, dataID)
	}
	if err != nil {
		return nil, fmt.Errorf("get data_id=%d: %w", dataID, err)
	}
	return payload, nil
}

func (e *engine) getByKey(ctx context.Context, exampleID string) ([]byte, error) {
	var payload []byte
	err := e.db.QueryRowContext(ctx,
		"SELECT data FROM dataset WHERE example_id = ?", exampleID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: example_id=%q", ErrNotFound, exampleID)
	}
	if err != nil {
		return nil, fmt.Errorf("get example_id=%q: %w", exampleID, err)
	}
	return payload, nil
}

func (e *engine) hasID(ctx context.Context, dataID int64) (bool, error) {
	var one int
	err := e.db.QueryRowContext(ctx,
		"SELECT 1 FROM dataset WHERE data_id = ?", dataID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check data_id=%d: %w", dataID, err)
	}
	return true, nil
}

func (e *engine) hasKey(ctx context.Context, exampleID string) (bool, error) {
	var one int
	err := e.db.QueryRowContext(ctx,
		"SELECT 1 FROM dataset WHERE example_id = ?", exampleID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check example_id=%q: %w", exampleID, err)
	}
	return true, nil
}

func (e *engine) count(ctx context.Context) (int64, error) {
	var n int64
	if err := e.db.QueryRowContext(ctx,
		"SELECT COUNT(data_id) FROM dataset").Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// iterate returns a cursor over all rows in ascending data_id order. The
// ORDER BY is explicit: implicit rowid order is not part of the contract.
func (e *engine) iterate(ctx context.Context) (*sql.Rows, error) {
	rows, err := e.db.QueryContext(ctx,
		"SELECT data_id, example_id, data FROM dataset ORDER BY data_id ASC")
	if err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return rows, nil
}

// iterateKeys returns a cursor over (data_id, example_id) pairs only,
// skipping payload reads entirely.
func (e *engine) iterateKeys(ctx context.Context) (*sql.Rows, error) {
	rows, err := e.db.QueryContext(ctx,
		"SELECT data_id, example_id FROM dataset ORDER BY data_id ASC")
	if err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return rows, nil
}
