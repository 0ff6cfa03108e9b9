package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestEngine(t *testing.T) *engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	eng, err := openEngine(path, false)
	if err != nil {
		t.Fatalf("openEngine() failed: %v", err)
	}
	t.Cleanup(func() { eng.close() })
	if err := eng.initSchema(context.Background(), 1); err != nil {
		t.Fatalf("initSchema() failed: %v", err)
	}
	return eng
}

func TestEngine_InitAndValidateSchema(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	if err := eng.validateSchema(ctx); err != nil {
		t.Errorf("validateSchema() on fresh schema failed: %v", err)
	}

	tag, err := eng.codecTag(ctx)
	if err != nil {
		t.Fatalf("codecTag() failed: %v", err)
	}
	if tag != 1 {
		t.Errorf("codecTag() = %d, want 1", tag)
	}
}

func TestEngine_ValidateSchemaMissingTable(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")
	eng, err := openEngine(path, false)
	if err != nil {
		t.Fatalf("openEngine() failed: %v", err)
	}
	defer eng.close()

	// Create an unrelated table so the file is a valid database without the
	// expected schema.
	if _, err := eng.db.ExecContext(ctx, "CREATE TABLE other (id INTEGER)"); err != nil {
		t.Fatal(err)
	}

	if err := eng.validateSchema(ctx); !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("validateSchema() error = %v, want ErrSchemaMismatch", err)
	}
}

func TestEngine_ValidateSchemaWrongColumns(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")
	eng, err := openEngine(path, false)
	if err != nil {
		t.Fatalf("openEngine() failed: %v", err)
	}
	defer eng.close()

	if _, err := eng.db.ExecContext(ctx,
		"CREATE TABLE dataset (data_id INTEGER PRIMARY KEY, payload BLOB)"); err != nil {
		t.Fatal(err)
	}

	if err := eng.validateSchema(ctx); !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("validateSchema() error = %v, want ErrSchemaMismatch", err)
	}
}

func TestEngine_ValidateSchemaNewerVersion(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	if _, err := eng.db.ExecContext(ctx, "PRAGMA user_version = 99"); err != nil {
		t.Fatal(err)
	}

	if err := eng.validateSchema(ctx); !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("validateSchema() error = %v, want ErrSchemaMismatch", err)
	}
}

func TestEngine_InsertBatchAtomic(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	if err := eng.insertBatch(ctx, []stagedEntry{
		{dataID: 0, exampleID: "a", payload: []byte("x")},
	}); err != nil {
		t.Fatalf("insertBatch() failed: %v", err)
	}

	// Second batch collides on its last entry; the whole batch must roll
	// back, including the non-colliding rows before it.
	err := eng.insertBatch(ctx, []stagedEntry{
		{dataID: 1, exampleID: "b", payload: []byte("x")},
		{dataID: 2, exampleID: "c", payload: []byte("x")},
		{dataID: 0, exampleID: "d", payload: []byte("x")},
	})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("insertBatch() error = %v, want ErrDuplicateKey", err)
	}

	n, err := eng.count(ctx)
	if err != nil {
		t.Fatalf("count() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("count() after failed batch = %d, want 1", n)
	}
}

func TestEngine_InsertBatchExampleIDCollision(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	err := eng.insertBatch(ctx, []stagedEntry{
		{dataID: 0, exampleID: "same", payload: []byte("x")},
		{dataID: 1, exampleID: "same", payload: []byte("x")},
	})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("insertBatch() error = %v, want ErrDuplicateKey", err)
	}

	n, err := eng.count(ctx)
	if err != nil {
		t.Fatalf("count() failed: %v", err)
	}
	if n != 0 {
		t.Errorf("count() after failed batch = %d, want 0", n)
	}
}

func TestEngine_InsertBatchEmpty(t *testing.T) {
	eng := newTestEngine(t)
	if err := eng.insertBatch(context.Background(), nil); err != nil {
		t.Errorf("insertBatch(nil) failed: %v", err)
	}
}

func TestEngine_ReadOnlyRejectsInsert(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	rw, err := openEngine(path, false)
	if err != nil {
		t.Fatalf("openEngine(rw) failed: %v", err)
	}
	if err := rw.initSchema(ctx, 1); err != nil {
		t.Fatalf("initSchema() failed: %v", err)
	}
	rw.close()

	ro, err := openEngine(path, true)
	if err != nil {
		t.Fatalf("openEngine(ro) failed: %v", err)
	}
	defer ro.close()

	err = ro.insertBatch(ctx, []stagedEntry{
		{dataID: 0, exampleID: "a", payload: []byte("x")},
	})
	if !errors.Is(err, ErrReadOnly) {
		t.Errorf("insertBatch() on read-only engine error = %v, want ErrReadOnly", err)
	}
}

func TestEngine_GetAndHas(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	if err := eng.insertBatch(ctx, []stagedEntry{
		{dataID: 42, exampleID: "pretraining_42", payload: []byte("payload")},
	}); err != nil {
		t.Fatalf("insertBatch() failed: %v", err)
	}

	payload, err := eng.getByID(ctx, 42)
	if err != nil || string(payload) != "payload" {
		t.Errorf("getByID(42) = %q, %v", payload, err)
	}
	payload, err = eng.getByKey(ctx, "pretraining_42")
	if err != nil || string(payload) != "payload" {
		t.Errorf("getByKey() = %q, %v", payload, err)
	}

	if _, err := eng.getByID(ctx, 43); !errors.Is(err, ErrNotFound) {
		t.Errorf("getByID(43) error = %v, want ErrNotFound", err)
	}
	if _, err := eng.getByKey(ctx, "absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("getByKey(absent) error = %v, want ErrNotFound", err)
	}

	if ok, err := eng.hasID(ctx, 42); err != nil || !ok {
		t.Errorf("hasID(42) = %v, %v", ok, err)
	}
	if ok, err := eng.hasKey(ctx, "absent"); err != nil || ok {
		t.Errorf("hasKey(absent) = %v, %v", ok, err)
	}
}

func TestEngine_CodecTagRoundTrip(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	if err := eng.setCodecTag(ctx, 2); err != nil {
		t.Fatalf("setCodecTag() failed: %v", err)
	}
	tag, err := eng.codecTag(ctx)
	if err != nil {
		t.Fatalf("codecTag() failed: %v", err)
	}
	if tag != 2 {
		t.Errorf("codecTag() = %d, want 2", tag)
	}
}
