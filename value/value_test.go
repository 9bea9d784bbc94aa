package value

import (
	"testing"

	"github.com/GoCodeAlone/pipeforge/datatype"
)

func newTestValueRegistry() (*Registry, *datatype.Registry) {
	types := datatype.NewRegistry()
	datatype.RegisterBuiltins(types)
	return NewRegistry(types), types
}

func TestRegisterDeduplicatesByHash(t *testing.T) {
	r, _ := newTestValueRegistry()
	schema := datatype.Schema{TypeName: "string"}

	v1, err := r.Register(schema, "hello", External("a"))
	if err != nil {
		t.Fatalf("Register v1: %v", err)
	}
	v2, err := r.Register(schema, "hello", External("b"))
	if err != nil {
		t.Fatalf("Register v2: %v", err)
	}

	if v1 != v2 {
		t.Fatalf("expected identical payload+schema to dedupe to the same value, got distinct ids %s vs %s", v1.ID, v2.ID)
	}
	if !v1.Hash.Equal(v2.Hash) {
		t.Fatalf("expected equal hashes")
	}
}

func TestRegisterDifferentPayloadsDiffer(t *testing.T) {
	r, _ := newTestValueRegistry()
	schema := datatype.Schema{TypeName: "string"}

	v1, err := r.Register(schema, "hello", External("a"))
	if err != nil {
		t.Fatalf("Register v1: %v", err)
	}
	v2, err := r.Register(schema, "world", External("a"))
	if err != nil {
		t.Fatalf("Register v2: %v", err)
	}
	if v1.Hash.Equal(v2.Hash) {
		t.Fatalf("different payloads must not share a hash")
	}
}

func TestRegisterRejectsSchemaMismatch(t *testing.T) {
	r, _ := newTestValueRegistry()
	schema := datatype.Schema{TypeName: "string"}
	if _, err := r.Register(schema, 123, External("a")); err == nil {
		t.Fatalf("expected schema mismatch error")
	}
}

func TestGetByIDAndHash(t *testing.T) {
	r, _ := newTestValueRegistry()
	schema := datatype.Schema{TypeName: "boolean"}
	v, err := r.Register(schema, true, External("flag"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := r.Get(v.ID)
	if err != nil || got != v {
		t.Fatalf("Get by id mismatch: %v, %v", got, err)
	}

	gotByHash, err := r.GetByHash(v.Hash)
	if err != nil || gotByHash != v {
		t.Fatalf("Get by hash mismatch: %v, %v", gotByHash, err)
	}
}

func TestOpaquePayloadNeverDeduplicates(t *testing.T) {
	r, _ := newTestValueRegistry()
	schema := datatype.Schema{TypeName: "python_object"}

	v1, err := r.Register(schema, datatype.OpaquePayload{Value: 1}, External("a"))
	if err != nil {
		t.Fatalf("Register v1: %v", err)
	}
	v2, err := r.Register(schema, datatype.OpaquePayload{Value: 1}, External("a"))
	if err != nil {
		t.Fatalf("Register v2: %v", err)
	}
	if v1 == v2 {
		t.Fatalf("opaque payloads must never dedupe by content")
	}

	if _, err := r.EncodePayload(v1); err != datatype.ErrOpaqueNotPersistable {
		t.Fatalf("expected ErrOpaqueNotPersistable, got %v", err)
	}
}
