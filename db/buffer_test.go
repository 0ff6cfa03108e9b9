package db

import (
	"testing"
)

func entry(id int64, key string) stagedEntry {
	return stagedEntry{dataID: id, exampleID: key, payload: []byte{byte(id)}}
}

func TestBuffer_StageReportsThreshold(t *testing.T) {
	b := newWriteBuffer(3)

	if full := b.stage(entry(0, "a")); full {
		t.Error("buffer reported full at 1/3")
	}
	if full := b.stage(entry(1, "b")); full {
		t.Error("buffer reported full at 2/3")
	}
	if full := b.stage(entry(2, "c")); !full {
		t.Error("buffer did not report full at 3/3")
	}
	if b.len() != 3 {
		t.Errorf("len() = %d, want 3", b.len())
	}
}

func TestBuffer_Lookups(t *testing.T) {
	b := newWriteBuffer(10)
	b.stage(stagedEntry{dataID: 7, exampleID: "pretraining_7", payload: []byte("payload")})

	if !b.hasID(7) || b.hasID(8) {
		t.Error("hasID gave wrong answers")
	}
	if !b.hasKey("pretraining_7") || b.hasKey("pretraining_8") {
		t.Error("hasKey gave wrong answers")
	}

	payload, ok := b.getByID(7)
	if !ok || string(payload) != "payload" {
		t.Errorf("getByID(7) = %q, %t", payload, ok)
	}
	payload, ok = b.getByKey("pretraining_7")
	if !ok || string(payload) != "payload" {
		t.Errorf("getByKey() = %q, %t", payload, ok)
	}
	if _, ok := b.getByID(8); ok {
		t.Error("getByID(8) found a missing entry")
	}
}

func TestBuffer_StateCycle(t *testing.T) {
	b := newWriteBuffer(10)
	if b.state != bufferIdle {
		t.Errorf("initial state = %v, want idle", b.state)
	}

	b.stage(entry(0, "a"))
	if b.state != bufferStaging {
		t.Errorf("state after stage = %v, want staging", b.state)
	}

	entries := b.beginFlush()
	if b.state != bufferFlushing {
		t.Errorf("state during flush = %v, want flushing", b.state)
	}
	if len(entries) != 1 {
		t.Fatalf("beginFlush returned %d entries, want 1", len(entries))
	}

	b.endFlush()
	if b.state != bufferIdle {
		t.Errorf("state after endFlush = %v, want idle", b.state)
	}
	if b.len() != 0 || b.hasID(0) || b.hasKey("a") {
		t.Error("endFlush did not clear the buffer")
	}
}

func TestBuffer_AbortFlushKeepsEntries(t *testing.T) {
	b := newWriteBuffer(10)
	b.stage(entry(0, "a"))
	b.stage(entry(1, "b"))

	b.beginFlush()
	b.abortFlush()

	if b.state != bufferStaging {
		t.Errorf("state after abortFlush = %v, want staging", b.state)
	}
	if b.len() != 2 {
		t.Errorf("len() after abortFlush = %d, want 2", b.len())
	}
	if !b.hasID(0) || !b.hasID(1) {
		t.Error("abortFlush dropped staged entries")
	}
}

func TestBufferStateString(t *testing.T) {
	cases := map[bufferState]string{
		bufferIdle:     "idle",
		bufferStaging:  "staging",
		bufferFlushing: "flushing",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(state), got, want)
		}
	}
}
