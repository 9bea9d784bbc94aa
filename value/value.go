// Package value implements the content-addressed value registry
// (component C): immutable, typed value objects with a stable identity
// derived from their schema and canonical payload encoding.
package value

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/pipeforge/canon"
	"github.com/GoCodeAlone/pipeforge/datatype"
)

// Status is a value's lifecycle state (spec.md §3).
type Status string

const (
	StatusSet    Status = "set"
	StatusNotSet Status = "not_set"
	StatusDefault Status = "default"
	StatusNone    Status = "none"
)

// OriginKind distinguishes a user-supplied value from one produced by a
// job.
type OriginKind string

const (
	OriginExternal OriginKind = "external"
	OriginJob      OriginKind = "job"
)

// Origin records lineage for a value: either an external label, or the
// job hash and output field name that produced it.
type Origin struct {
	Kind       OriginKind  `cbor:"kind"`
	Label      string      `cbor:"label,omitempty"`
	JobHash    canon.Digest `cbor:"job_hash,omitempty"`
	OutputName string      `cbor:"output_name,omitempty"`
}

// External builds an Origin for a user-supplied value.
func External(label string) Origin {
	return Origin{Kind: OriginExternal, Label: label}
}

// FromJob builds an Origin pointing at a job's named output.
func FromJob(jobHash canon.Digest, outputName string) Origin {
	return Origin{Kind: OriginJob, JobHash: jobHash, OutputName: outputName}
}

// Value is an immutable, content-addressed unit of data. Once
// constructed by the registry its payload and hash never change.
type Value struct {
	ID         uuid.UUID
	Schema     datatype.Schema
	Hash       canon.Digest
	Size       int
	DataConfig any
	Origin     Origin
	Status     Status
	CreatedAt  time.Time

	// Metadata holds optional attachments: extractor output plus any
	// caller-supplied annotations, keyed by well-known metadata names.
	Metadata map[string]any

	payload any
}

// Payload returns the value's in-memory payload. Opaque (python_object)
// payloads are returned as-is; callers that need a canonical byte form
// should ask the data-type registry to Encode it instead, which will
// surface datatype.ErrOpaqueNotPersistable if the type forbids it.
func (v *Value) Payload() any { return v.payload }

// Errors returned by the registry.
var (
	ErrUnknownValue      = fmt.Errorf("value: unknown value")
	ErrSchemaMismatch    = fmt.Errorf("value: payload does not satisfy schema")
	ErrOpaqueNotPersist  = fmt.Errorf("value: payload cannot be canonically encoded for persistence")
)

// Registry is the in-memory, process-lifetime value graph: it
// deduplicates values by content hash and provides stable id- and
// hash-based lookup. Guarded by a read-many/write-rare lock per the
// concurrency model (§5): registration is rare relative to lookups.
type Registry struct {
	types *datatype.Registry

	mu      sync.RWMutex
	byHash  map[string]*Value
	byID    map[uuid.UUID]*Value
}

// NewRegistry creates a Registry bound to the given data-type registry.
func NewRegistry(types *datatype.Registry) *Registry {
	return &Registry{
		types:  types,
		byHash: make(map[string]*Value),
		byID:   make(map[uuid.UUID]*Value),
	}
}

// Register computes the value's schema hash and canonical payload
// encoding, derives the value hash, and returns the existing value if
// one with an identical hash is already registered (deduplication),
// otherwise inserts and returns a new Value.
//
// If the payload's data type declares no canonical encoder (e.g.
// python_object), Register still succeeds and produces an in-memory-only
// value; its Hash is derived from the schema hash and a random nonce
// instead of payload bytes, since two opaque payloads can never be proven
// equal by content. Such a value raises datatype.ErrOpaqueNotPersistable
// the moment a store attempts to persist it (component D).
func (r *Registry) Register(schema datatype.Schema, payload any, origin Origin) (*Value, error) {
	typ, ok := r.types.Lookup(schema.TypeName)
	if !ok {
		return nil, fmt.Errorf("value: %w: unregistered type %q", ErrSchemaMismatch, schema.TypeName)
	}
	if err := typ.Validate(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}

	schemaHash, err := schema.Hash()
	if err != nil {
		return nil, fmt.Errorf("value: hash schema: %w", err)
	}

	encoded, encErr := typ.Encode(payload)
	var valueHash canon.Digest
	var size int
	if encErr != nil {
		// Opaque payload: still registered, but never deduplicated or
		// persistable by content. Identity derives from a fresh UUID
		// folded into the schema hash so it remains a stable, if unique,
		// value hash for the lifetime of the process.
		id := uuid.New()
		valueHash, err = canon.HashOf(map[string]any{
			"schema_hash": []byte(schemaHash),
			"opaque_id":   id.String(),
		})
		if err != nil {
			return nil, fmt.Errorf("value: hash opaque identity: %w", err)
		}
		size = 0
	} else {
		valueHash, err = canon.HashOf(map[string]any{
			"schema_hash": []byte(schemaHash),
			"payload":     encoded,
		})
		if err != nil {
			return nil, fmt.Errorf("value: hash payload: %w", err)
		}
		size = len(encoded)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byHash[valueHash.String()]; ok {
		return existing, nil
	}

	v := &Value{
		ID:         uuid.New(),
		Schema:     schema,
		Hash:       valueHash,
		Size:       size,
		DataConfig: schema.TypeConfig,
		Origin:     origin,
		Status:     StatusSet,
		CreatedAt:  time.Now().UTC(),
		Metadata:   typ.Properties(payload),
		payload:    payload,
	}
	r.byHash[valueHash.String()] = v
	r.byID[v.ID] = v
	return v, nil
}

// Get resolves a value by its id.
func (r *Registry) Get(id uuid.UUID) (*Value, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.byID[id]
	if !ok {
		return nil, ErrUnknownValue
	}
	return v, nil
}

// GetByHash resolves a value by its content hash.
func (r *Registry) GetByHash(h canon.Digest) (*Value, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.byHash[h.String()]
	if !ok {
		return nil, ErrUnknownValue
	}
	return v, nil
}

// Reconstruct builds a Value from fields already validated by an
// archive write (schema, hash, size, origin, ...) plus a payload
// decoded from that archive's stored bytes. It does not validate or
// re-hash anything; callers are expected to pass data straight from a
// StoredValue they trust. Intended for Registry.Adopt during archive
// hydration.
func Reconstruct(id uuid.UUID, schema datatype.Schema, hash canon.Digest, size int, dataConfig any, origin Origin, createdAt time.Time, metadata map[string]any, payload any) *Value {
	return &Value{
		ID:         id,
		Schema:     schema,
		Hash:       hash,
		Size:       size,
		DataConfig: dataConfig,
		Origin:     origin,
		Status:     StatusSet,
		CreatedAt:  createdAt,
		Metadata:   metadata,
		payload:    payload,
	}
}

// Adopt inserts a Value that was reconstructed from an archive (rather
// than freshly registered from a live payload) into the in-memory graph,
// without re-validating or re-encoding it. Used when the context loads a
// value back out of a store.
func (r *Registry) Adopt(v *Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byHash[v.Hash.String()]; ok {
		return
	}
	r.byHash[v.Hash.String()] = v
	r.byID[v.ID] = v
}

// EncodePayload canonically encodes a value's payload through its data
// type, surfacing datatype.ErrOpaqueNotPersistable for opaque types.
func (r *Registry) EncodePayload(v *Value) ([]byte, error) {
	typ, ok := r.types.Lookup(v.Schema.TypeName)
	if !ok {
		return nil, fmt.Errorf("value: %w: unregistered type %q", ErrSchemaMismatch, v.Schema.TypeName)
	}
	return typ.Encode(v.payload)
}
