package db

import (
	"database/sql"
	"fmt"

	"github.com/perchlab/datasetdb/codec"
	"github.com/perchlab/datasetdb/value"
)

// Entry is one decoded record yielded by iteration.
type Entry struct {
	DataID    int64
	ExampleID string
	Value     value.Value
}

// Iterator is a lazy cursor over a store's entries in ascending data_id
// order. Usage follows the sql.Rows pattern:
//
//	it, err := store.Iterate(ctx)
//	if err != nil { ... }
//	defer it.Close()
//	for it.Next() {
//		entry := it.Entry()
//		...
//	}
//	if err := it.Err(); err != nil { ... }
//
// A fresh Iterate call re-scans from the start.
type Iterator struct {
	rows  *sql.Rows
	codec codec.Codec
	cur   Entry
	err   error
}

// Next advances to the next entry, decoding its payload. It returns false
// at the end of the scan or on the first error; check Err afterwards.
func (it *Iterator) Next() bool {
	if it.err != nil || !it.rows.Next() {
		return false
	}

	var payload []byte
	if err := it.rows.Scan(&it.cur.DataID, &it.cur.ExampleID, &payload); err != nil {
		it.err = fmt.Errorf("scan entry: %w", err)
		return false
	}

	v, err := it.codec.Decode(payload)
	if err != nil {
		it.err = fmt.Errorf("decode data_id=%d: %w", it.cur.DataID, err)
		return false
	}
	it.cur.Value = v
	return true
}

// Entry returns the entry produced by the last successful Next.
func (it *Iterator) Entry() Entry {
	return it.cur
}

// Err returns the first error hit during iteration, including the cursor's
// own error state.
func (it *Iterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.rows.Err()
}

// Close releases the cursor. Safe to call after exhaustion.
func (it *Iterator) Close() error {
	return it.rows.Close()
}

// Key is one (data_id, example_id) pair yielded by key iteration.
type Key struct {
	DataID    int64
	ExampleID string
}

// KeyIterator is a lazy cursor over (data_id, example_id) pairs in
// ascending data_id order, never touching payloads.
type KeyIterator struct {
	rows *sql.Rows
	cur  Key
	err  error
}

// Next advances to the next key pair.
func (it *KeyIterator) Next() bool {
	if it.err != nil || !it.rows.Next() {
		return false
	}
	if err := it.rows.Scan(&it.cur.DataID, &it.cur.ExampleID); err != nil {
		it.err = fmt.Errorf("scan key: %w", err)
		return false
	}
	return true
}

// Key returns the pair produced by the last successful Next.
func (it *KeyIterator) Key() Key {
	return it.cur
}

// Err returns the first error hit during iteration.
func (it *KeyIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.rows.Err()
}

// Close releases the cursor.
func (it *KeyIterator) Close() error {
	return it.rows.Close()
}
