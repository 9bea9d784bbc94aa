// Package archive declares the pluggable persistence contract (component
// D): an Archive is a read-only persistence boundary, a Store is an
// Archive that additionally accepts writes. Two concrete backends
// implement this contract: archive/fsstore (content-addressed
// filesystem) and archive/sqlstore (embedded modernc.org/sqlite file).
package archive

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/pipeforge/canon"
	"github.com/GoCodeAlone/pipeforge/datatype"
)

// Sentinel errors, matching the teacher's store/errors.go convention of
// small package-level sentinels checked with errors.Is.
var (
	ErrNotFound  = errors.New("archive: not found")
	ErrLocked    = errors.New("archive: locked by another writer")
	ErrDuplicate = errors.New("archive: duplicate entry")
)

// IncompatibleArchiveError is returned when an archive's on-disk schema
// version is newer than the binary's highest known migration.
type IncompatibleArchiveError struct {
	ArchiveID     string
	OnDiskVersion int
	MaxKnown      int
}

func (e *IncompatibleArchiveError) Error() string {
	return "archive: " + e.ArchiveID + " schema version is newer than this binary supports"
}

// StoredValue is the on-disk wire shape for a persisted value (§6):
// schema, type config, canonically encoded payload bytes, size, hash,
// and origin, each content-addressed by Hash.
type StoredValue struct {
	ID         uuid.UUID       `cbor:"id"`
	Schema     datatype.Schema `cbor:"schema"`
	DataConfig any             `cbor:"data_type_config,omitempty"`
	Payload    []byte          `cbor:"payload_bytes"`
	Size       int             `cbor:"size"`
	Hash       canon.Digest    `cbor:"value_hash"`
	Origin     StoredOrigin    `cbor:"origin"`
	Metadata   map[string]any  `cbor:"metadata,omitempty"`
	CreatedAt  time.Time       `cbor:"created_at"`
}

// StoredOrigin is the archive-layer mirror of value.Origin (kept
// independent of the value package's in-memory type so archive has no
// import-cycle dependency on it).
type StoredOrigin struct {
	Kind       string       `cbor:"kind"`
	Label      string       `cbor:"label,omitempty"`
	JobHash    canon.Digest `cbor:"job_hash,omitempty"`
	OutputName string       `cbor:"output_name,omitempty"`
}

// JobRecord is the on-disk wire shape for a job (§6).
type JobRecord struct {
	JobHash             canon.Digest            `cbor:"job_hash"`
	ManifestHash        canon.Digest            `cbor:"manifest_hash"`
	ModuleType          string                  `cbor:"module_type"`
	ModuleConfig        map[string]any          `cbor:"module_config_canonical"`
	Inputs              map[string]canon.Digest `cbor:"inputs"`
	Outputs             map[string]canon.Digest `cbor:"outputs"`
	StartedAt           time.Time               `cbor:"started_at"`
	FinishedAt          time.Time               `cbor:"finished_at"`
	RuntimeMilliseconds int64                   `cbor:"runtime_ms"`
	Comment             string                  `cbor:"comment"`
	Status              string                  `cbor:"status"`
}

// AliasHistoryEntry is one append-only record in an alias's history.
type AliasHistoryEntry struct {
	ValueID   uuid.UUID `cbor:"value_id"`
	UpdatedAt time.Time `cbor:"updated_at"`
}

// Archive is the minimum read surface every persistence backend exposes.
type Archive interface {
	ArchiveID() string
	Config() map[string]any

	Contains(ctx context.Context, h canon.Digest) (bool, error)
	LoadValue(ctx context.Context, h canon.Digest) (*StoredValue, error)
	IterValues(ctx context.Context) iter.Seq2[*StoredValue, error]
}

// AliasArchive is implemented by archives that also serve alias lookups.
type AliasArchive interface {
	Archive
	LookupAlias(ctx context.Context, name string) (uuid.UUID, bool, error)
	AliasHistory(ctx context.Context, name string) ([]AliasHistoryEntry, error)
	ListAliases(ctx context.Context) ([]string, error)
}

// JobArchive is implemented by archives that also serve job lookups.
type JobArchive interface {
	Archive
	LookupJob(ctx context.Context, h canon.Digest) (*JobRecord, error)
}

// Store is an Archive that also accepts writes. Writes are idempotent on
// value hashes: writing an already-present value hash is a no-op.
type Store interface {
	Archive
	WriteValue(ctx context.Context, v *StoredValue) error
	WriteAlias(ctx context.Context, name string, valueID uuid.UUID) error
	WriteJob(ctx context.Context, j *JobRecord) error
	RetainJobComment(ctx context.Context, jobHash canon.Digest, comment string) error

	LookupAlias(ctx context.Context, name string) (uuid.UUID, bool, error)
	AliasHistory(ctx context.Context, name string) ([]AliasHistoryEntry, error)
	ListAliases(ctx context.Context) ([]string, error)
	LookupJob(ctx context.Context, h canon.Digest) (*JobRecord, error)

	// Close releases any resources (file handles, db connections) held
	// by the store.
	Close() error
}
