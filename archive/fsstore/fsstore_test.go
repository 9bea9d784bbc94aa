package fsstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/pipeforge/archive"
	"github.com/GoCodeAlone/pipeforge/canon"
	"github.com/GoCodeAlone/pipeforge/datatype"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("test", t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleValue(t *testing.T, payload string) *archive.StoredValue {
	t.Helper()
	schema := datatype.Schema{TypeName: "string"}
	h, err := canon.HashOf(map[string]any{"schema": schema, "payload": payload})
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return &archive.StoredValue{
		ID:        uuid.New(),
		Schema:    schema,
		Payload:   []byte(payload),
		Size:      len(payload),
		Hash:      h,
		Origin:    archive.StoredOrigin{Kind: "external", Label: "test"},
		CreatedAt: time.Now().UTC(),
	}
}

func TestWriteValueIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	v := sampleValue(t, "hello")

	if err := s.WriteValue(ctx, v); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := s.WriteValue(ctx, v); err != nil {
		t.Fatalf("second write (should be no-op): %v", err)
	}

	ok, err := s.Contains(ctx, v.Hash)
	if err != nil || !ok {
		t.Fatalf("Contains: %v %v", ok, err)
	}

	loaded, err := s.LoadValue(ctx, v.Hash)
	if err != nil {
		t.Fatalf("LoadValue: %v", err)
	}
	if string(loaded.Payload) != "hello" {
		t.Fatalf("unexpected payload: %s", loaded.Payload)
	}
}

func TestAliasHistoryIsAppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, id2 := uuid.New(), uuid.New()
	if err := s.WriteAlias(ctx, "my_table", id1); err != nil {
		t.Fatalf("write alias 1: %v", err)
	}
	if err := s.WriteAlias(ctx, "my_table", id2); err != nil {
		t.Fatalf("write alias 2: %v", err)
	}

	current, ok, err := s.LookupAlias(ctx, "my_table")
	if err != nil || !ok || current != id2 {
		t.Fatalf("expected current alias to be id2, got %v ok=%v err=%v", current, ok, err)
	}

	hist, err := s.AliasHistory(ctx, "my_table")
	if err != nil {
		t.Fatalf("AliasHistory: %v", err)
	}
	if len(hist) != 2 || hist[0].ValueID != id1 || hist[1].ValueID != id2 {
		t.Fatalf("expected two-entry history preserving old entries, got %+v", hist)
	}
}

func TestJobRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	jobHash, _ := canon.HashOf("job-1")
	manifestHash, _ := canon.HashOf("manifest-1")
	j := &archive.JobRecord{
		JobHash:      jobHash,
		ManifestHash: manifestHash,
		ModuleType:   "logic.and",
		Outputs:      map[string]canon.Digest{"y": manifestHash},
		StartedAt:    time.Now().UTC(),
		FinishedAt:   time.Now().UTC(),
		Status:       "succeeded",
	}
	if err := s.WriteJob(ctx, j); err != nil {
		t.Fatalf("WriteJob: %v", err)
	}

	got, err := s.LookupJob(ctx, jobHash)
	if err != nil {
		t.Fatalf("LookupJob: %v", err)
	}
	if got.ModuleType != "logic.and" {
		t.Fatalf("unexpected module type: %s", got.ModuleType)
	}

	if err := s.RetainJobComment(ctx, jobHash, "manual rerun"); err != nil {
		t.Fatalf("RetainJobComment: %v", err)
	}
	got2, err := s.LookupJob(ctx, jobHash)
	if err != nil {
		t.Fatalf("LookupJob after comment: %v", err)
	}
	if got2.Comment != "manual rerun" {
		t.Fatalf("expected retained comment, got %q", got2.Comment)
	}
}

func TestMissingValueIsErrNotFound(t *testing.T) {
	s := newTestStore(t)
	h, _ := canon.HashOf("nonexistent")
	if _, err := s.LoadValue(context.Background(), h); err != archive.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
