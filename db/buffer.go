package db

import "fmt"

// bufferState tracks the write buffer's position in its
// idle -> staging -> flushing -> idle cycle. The transition into flushing
// is explicit so tests can target the threshold directly instead of
// treating it as a side effect of Set.
type bufferState int

const (
	bufferIdle bufferState = iota
	bufferStaging
	bufferFlushing
)

func (s bufferState) String() string {
	switch s {
	case bufferIdle:
		return "idle"
	case bufferStaging:
		return "staging"
	case bufferFlushing:
		return "flushing"
	default:
		return fmt.Sprintf("bufferState(%d)", int(s))
	}
}

// writeBuffer accumulates staged entries until the batch threshold, and
// indexes them by both keys so a single writer handle can reject duplicates
// and serve reads of its own unflushed entries. Owned exclusively by the
// write-mode handle; no other handle ever observes staged entries.
type writeBuffer struct {
	limit   int
	state   bufferState
	entries []stagedEntry
	byID    map[int64]int
	byKey   map[string]int
}

func newWriteBuffer(limit int) *writeBuffer {
	return &writeBuffer{
		limit: limit,
		state: bufferIdle,
		byID:  make(map[int64]int),
		byKey: make(map[string]int),
	}
}

func (b *writeBuffer) len() int { return len(b.entries) }

// hasID reports whether a staged entry already claims the data id.
func (b *writeBuffer) hasID(dataID int64) bool {
	_, ok := b.byID[dataID]
	return ok
}

// hasKey reports whether a staged entry already claims the example id.
func (b *writeBuffer) hasKey(exampleID string) bool {
	_, ok := b.byKey[exampleID]
	return ok
}

// getByID returns the staged payload for a data id, if present.
func (b *writeBuffer) getByID(dataID int64) ([]byte, bool) {
	i, ok := b.byID[dataID]
	if !ok {
		return nil, false
	}
	return b.entries[i].payload, true
}

// getByKey returns the staged payload for an example id, if present.
func (b *writeBuffer) getByKey(exampleID string) ([]byte, bool) {
	i, ok := b.byKey[exampleID]
	if !ok {
		return nil, false
	}
	return b.entries[i].payload, true
}

// stage appends an entry and reports whether the batch threshold was
// reached, i.e. whether the caller must flush now. Key collisions against
// staged entries are the caller's responsibility to check first.
func (b *writeBuffer) stage(entry stagedEntry) bool {
	b.state = bufferStaging
	b.byID[entry.dataID] = len(b.entries)
	b.byKey[entry.exampleID] = len(b.entries)
	b.entries = append(b.entries, entry)
	return len(b.entries) >= b.limit
}

// beginFlush hands the staged entries to the caller and moves to the
// flushing state. The caller commits them and then calls either endFlush
// or abortFlush.
func (b *writeBuffer) beginFlush() []stagedEntry {
	b.state = bufferFlushing
	return b.entries
}

// endFlush clears the queue after a successful commit.
func (b *writeBuffer) endFlush() {
	b.entries = b.entries[:0]
	b.byID = make(map[int64]int)
	b.byKey = make(map[string]int)
	b.state = bufferIdle
}

// abortFlush keeps the staged entries after a failed commit so nothing is
// silently dropped; the caller decides whether to retry or surface the
// error.
func (b *writeBuffer) abortFlush() {
	b.state = bufferStaging
}
