// Package db implements the embedded instance store: a persistent,
// append-only, dual-indexed key-value store over a single SQLite file,
// built for training-loop consumption of normalized datasets.
//
// Every entry is a (data_id, example_id, payload) triple. data_id is the
// writer-assigned insertion index, example_id the dataset-specific string
// identifier ("pretraining_150"); payloads are produced by a pluggable
// codec fixed per store. Writes accumulate in a batched buffer and commit
// as single transactions; reads resolve by either key or scan lazily in
// data_id order.
//
// # Concurrency model
//
// A handle performs no internal parallelism. Multi-worker training reads
// the same file through independent read-only handles, one per process,
// with no coordination beyond SQLite's own locking. Exactly one write
// handle may exist per path, enforced by a sidecar lock file.
//
// # Durability
//
// The write connection runs in WAL mode with synchronous=NORMAL. A flush
// commits the whole buffer or nothing; close always performs a final
// flush, so no staged entry is lost on a clean shutdown.
package db
