package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/pipeforge/archive"
	"github.com/GoCodeAlone/pipeforge/canon"
	"github.com/GoCodeAlone/pipeforge/datatype"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("test", filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWriteValueIdempotentAndLoadable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	schema := datatype.Schema{TypeName: "string"}
	h, err := canon.HashOf(map[string]any{"schema": schema, "payload": "hi"})
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	v := &archive.StoredValue{
		ID:        uuid.New(),
		Schema:    schema,
		Payload:   []byte("hi"),
		Size:      2,
		Hash:      h,
		Origin:    archive.StoredOrigin{Kind: "external", Label: "t"},
		CreatedAt: time.Now().UTC(),
	}

	if err := s.WriteValue(ctx, v); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.WriteValue(ctx, v); err != nil {
		t.Fatalf("second write should be a no-op, got: %v", err)
	}

	loaded, err := s.LoadValue(ctx, h)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(loaded.Payload) != "hi" {
		t.Fatalf("unexpected payload %q", loaded.Payload)
	}
}

func TestAliasVersioning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, id2 := uuid.New(), uuid.New()
	if err := s.WriteAlias(ctx, "alias1", id1); err != nil {
		t.Fatalf("write 1: %v", err)
	}
	if err := s.WriteAlias(ctx, "alias1", id2); err != nil {
		t.Fatalf("write 2: %v", err)
	}

	cur, ok, err := s.LookupAlias(ctx, "alias1")
	if err != nil || !ok || cur != id2 {
		t.Fatalf("expected current=id2, got %v ok=%v err=%v", cur, ok, err)
	}

	hist, err := s.AliasHistory(ctx, "alias1")
	if err != nil || len(hist) != 2 {
		t.Fatalf("expected 2 history entries, got %d (err=%v)", len(hist), err)
	}
}

func TestIncompatibleArchiveVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.db")
	s, err := Open("future", path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.db.Exec(`INSERT OR REPLACE INTO schema_migrations(version, applied_at) VALUES (?, ?)`, schemaVersion+1, time.Now().UTC().Format(time.RFC3339)); err != nil {
		t.Fatalf("seed future version: %v", err)
	}
	s.Close()

	_, err = Open("future", path)
	if err == nil {
		t.Fatalf("expected IncompatibleArchiveError reopening a newer-versioned archive")
	}
	if _, ok := err.(*archive.IncompatibleArchiveError); !ok {
		t.Fatalf("expected *archive.IncompatibleArchiveError, got %T: %v", err, err)
	}
}
