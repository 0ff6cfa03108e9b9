package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/perchlab/datasetdb/codec"
	"github.com/perchlab/datasetdb/value"
)

// DB is a handle to a dataset store: an append-only, dual-indexed
// key-value store over a single SQLite file. Entries carry a writer-assigned
// integer data id and a caller-supplied string example id, both unique for
// the lifetime of the store; committed entries are immutable.
//
// A handle is either read-only or read-write, fixed at open time. Many
// independent read-only handles may be open against the same path across
// processes; at most one writer may be open at a time.
//
// Close must run on every exit path:
//
//	store, err := db.Open(path, db.ModeWrite)
//	if err != nil { ... }
//	defer store.Close()
type DB struct {
	mu sync.Mutex

	path  string
	mode  Mode
	codec codec.Codec
	log   *zap.Logger

	eng    *engine
	buf    *writeBuffer
	lock   *writerLock
	closed bool
}

// Open opens the store at path. In write mode the file and schema are
// created when absent and the writer lock is taken (ErrAlreadyLocked when
// another live writer holds it). In read mode the file must already exist.
// Existing files are validated against the expected schema
// (ErrSchemaMismatch) and the persisted codec tag (ErrCodecMismatch).
func Open(path string, mode Mode, opts ...Option) (*DB, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	info, statErr := os.Stat(path)
	exists := statErr == nil && info.Size() > 0
	if mode == ModeRead && statErr != nil {
		return nil, fmt.Errorf("open read-only store: %w", statErr)
	}

	var lock *writerLock
	if mode == ModeWrite {
		var err error
		lock, err = acquireWriterLock(path)
		if err != nil {
			return nil, err
		}
	}

	eng, err := openEngine(path, mode == ModeRead)
	if err != nil {
		if lock != nil {
			lock.release()
		}
		return nil, err
	}

	ctx := context.Background()
	if exists {
		err = validateExisting(ctx, eng, cfg.codec, mode)
	} else {
		err = eng.initSchema(ctx, cfg.codec.Tag())
	}
	if err != nil {
		eng.close()
		if lock != nil {
			lock.release()
		}
		return nil, err
	}

	store := &DB{
		path:  path,
		mode:  mode,
		codec: cfg.codec,
		log:   cfg.logger,
		eng:   eng,
		lock:  lock,
	}
	if mode == ModeWrite {
		store.buf = newWriteBuffer(cfg.batchSize)
	}

	store.log.Debug("store opened",
		zap.String("path", path),
		zap.Stringer("mode", mode),
		zap.String("codec", cfg.codec.Name()),
	)
	return store, nil
}

// validateExisting checks schema and codec tag of a pre-existing file.
// Files written before codec tagging carry tag 0; they are accepted as-is
// and stamped on a write-mode open.
func validateExisting(ctx context.Context, eng *engine, c codec.Codec, mode Mode) error {
	if err := eng.validateSchema(ctx); err != nil {
		return err
	}
	tag, err := eng.codecTag(ctx)
	if err != nil {
		return err
	}
	switch {
	case tag == 0:
		if mode == ModeWrite {
			return eng.setCodecTag(ctx, c.Tag())
		}
		return nil
	case tag != c.Tag():
		return fmt.Errorf("%w: file was written with codec tag %d, opened with %q (tag %d)",
			ErrCodecMismatch, tag, c.Name(), c.Tag())
	default:
		return nil
	}
}

// Len returns the number of entries, counting staged-but-unflushed entries
// on a write handle so the reported length matches immediate reads through
// the same handle.
func (d *DB) Len(ctx context.Context) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrClosed
	}

	n, err := d.eng.count(ctx)
	if err != nil {
		return 0, err
	}
	if d.buf != nil {
		n += int64(d.buf.len())
	}
	return n, nil
}

// Get returns the decoded value for a data id, checking the write buffer
// before the engine. Fails with ErrNotFound for absent ids.
func (d *DB) Get(ctx context.Context, dataID int64) (value.Value, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}

	if d.buf != nil {
		if payload, ok := d.buf.getByID(dataID); ok {
			return d.decode(dataID, payload)
		}
	}
	payload, err := d.eng.getByID(ctx, dataID)
	if err != nil {
		return nil, err
	}
	return d.decode(dataID, payload)
}

// GetKey returns the decoded value for an example id. Fails with
// ErrNotFound for absent ids.
func (d *DB) GetKey(ctx context.Context, exampleID string) (value.Value, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}

	if d.buf != nil {
		if payload, ok := d.buf.getByKey(exampleID); ok {
			return d.decodeKey(exampleID, payload)
		}
	}
	payload, err := d.eng.getByKey(ctx, exampleID)
	if err != nil {
		return nil, err
	}
	return d.decodeKey(exampleID, payload)
}

// Has reports whether a data id exists, staged or committed.
func (d *DB) Has(ctx context.Context, dataID int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false, ErrClosed
	}
	if d.buf != nil && d.buf.hasID(dataID) {
		return true, nil
	}
	return d.eng.hasID(ctx, dataID)
}

// HasKey reports whether an example id exists, staged or committed.
func (d *DB) HasKey(ctx context.Context, exampleID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false, ErrClosed
	}
	if d.buf != nil && d.buf.hasKey(exampleID) {
		return true, nil
	}
	return d.eng.hasKey(ctx, exampleID)
}

// Set encodes and stages an entry. Valid only in write mode. Fails with
// ErrDuplicateKey when either key is already taken (staged or committed)
// and ErrReadOnly on a read handle. The buffer flushes automatically once
// it reaches the configured batch size.
func (d *DB) Set(ctx context.Context, dataID int64, exampleID string, v value.Value) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.mode != ModeWrite {
		return ErrReadOnly
	}
	if dataID < 0 {
		return fmt.Errorf("negative data_id %d", dataID)
	}

	payload, err := d.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("encode data_id=%d: %w", dataID, err)
	}

	if d.buf.hasID(dataID) {
		return fmt.Errorf("%w: data_id=%d already staged", ErrDuplicateKey, dataID)
	}
	if d.buf.hasKey(exampleID) {
		return fmt.Errorf("%w: example_id=%q already staged", ErrDuplicateKey, exampleID)
	}
	if taken, err := d.eng.hasID(ctx, dataID); err != nil {
		return err
	} else if taken {
		return fmt.Errorf("%w: data_id=%d already committed", ErrDuplicateKey, dataID)
	}
	if taken, err := d.eng.hasKey(ctx, exampleID); err != nil {
		return err
	} else if taken {
		return fmt.Errorf("%w: example_id=%q already committed", ErrDuplicateKey, exampleID)
	}

	if full := d.buf.stage(stagedEntry{dataID: dataID, exampleID: exampleID, payload: payload}); full {
		return d.flushLocked(ctx)
	}
	return nil
}

// Flush commits all staged entries in one batch transaction. A no-op on a
// read handle or an empty buffer.
func (d *DB) Flush(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	return d.flushLocked(ctx)
}

func (d *DB) flushLocked(ctx context.Context) error {
	if d.buf == nil || d.buf.len() == 0 {
		return nil
	}

	entries := d.buf.beginFlush()
	if err := d.eng.insertBatch(ctx, entries); err != nil {
		d.buf.abortFlush()
		return err
	}
	d.log.Debug("flushed batch",
		zap.String("path", d.path),
		zap.Int("entries", len(entries)),
	)
	d.buf.endFlush()
	return nil
}

// Iterate returns a lazy cursor over all entries in ascending data_id
// order. On a write handle the buffer is flushed first so the cursor
// observes everything written through this handle.
//
// A write handle holds a single connection, so its point reads (Get,
// GetKey, Has, Len) block until an open cursor is closed. Read handles
// pool connections and serve point reads during iteration.
func (d *DB) Iterate(ctx context.Context) (*Iterator, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	if err := d.flushLocked(ctx); err != nil {
		return nil, err
	}

	rows, err := d.eng.iterate(ctx)
	if err != nil {
		return nil, err
	}
	return &Iterator{rows: rows, codec: d.codec}, nil
}

// Keys returns a lazy cursor over (data_id, example_id) pairs in ascending
// data_id order, without decoding payloads.
func (d *DB) Keys(ctx context.Context) (*KeyIterator, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	if err := d.flushLocked(ctx); err != nil {
		return nil, err
	}

	rows, err := d.eng.iterateKeys(ctx)
	if err != nil {
		return nil, err
	}
	return &KeyIterator{rows: rows}, nil
}

// Codec returns the codec this handle decodes with.
func (d *DB) Codec() codec.Codec { return d.codec }

// Mode returns the handle's open mode.
func (d *DB) Mode() Mode { return d.mode }

// Path returns the store's file path.
func (d *DB) Path() string { return d.path }

// Close flushes any staged entries, releases the connection, and drops the
// writer lock. Idempotent: a second call is a no-op.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}

	var errs []error
	if err := d.flushLocked(context.Background()); err != nil {
		errs = append(errs, err)
	}
	if err := d.eng.close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	if d.lock != nil {
		if err := d.lock.release(); err != nil {
			errs = append(errs, err)
		}
	}
	d.closed = true

	d.log.Debug("store closed", zap.String("path", d.path))
	return errors.Join(errs...)
}

func (d *DB) decode(dataID int64, payload []byte) (value.Value, error) {
	v, err := d.codec.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("decode data_id=%d: %w", dataID, err)
	}
	return v, nil
}

func (d *DB) decodeKey(exampleID string, payload []byte) (value.Value, error) {
	v, err := d.codec.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("decode example_id=%q: %w", exampleID, err)
	}
	return v, nil
}
