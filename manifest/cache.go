package manifest

import (
	"context"
	"errors"
	"fmt"

	"github.com/GoCodeAlone/pipeforge/archive"
	"github.com/GoCodeAlone/pipeforge/canon"
)

// Cache is the job-cache lookup/record contract (spec.md §4.F) backed by
// a JobArchive. It is intentionally a thin adapter: all persistence and
// idempotence guarantees live in the archive/store implementations; Cache
// only translates between manifest.Record and archive.JobRecord.
type Cache struct {
	store archive.JobArchive
}

// NewCache returns a Cache backed by store.
func NewCache(store archive.JobArchive) *Cache {
	return &Cache{store: store}
}

// Lookup returns the previously recorded job for jobHash, or (nil,
// false, nil) if no such job has run.
func (c *Cache) Lookup(ctx context.Context, jobHash canon.Digest) (*Record, bool, error) {
	rec, err := c.store.LookupJob(ctx, jobHash)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("manifest: lookup job %s: %w", jobHash, err)
	}
	return fromArchiveRecord(rec), true, nil
}

// Record persists r. Recording the same job hash twice with differing
// output hashes would violate the job-idempotence invariant (spec.md
// §8 property 3); callers are expected to have already consulted
// Lookup before invoking a module, so Record only ever writes once per
// job hash in the engine's normal flow.
func (c *Cache) Record(ctx context.Context, r Record) error {
	if err := c.store.WriteJob(ctx, toArchiveRecord(r)); err != nil {
		return fmt.Errorf("manifest: record job %s: %w", r.JobHash, err)
	}
	return nil
}

func toArchiveRecord(r Record) *archive.JobRecord {
	status := r.Status
	if status == "" {
		status = "completed"
	}
	return &archive.JobRecord{
		JobHash:             r.JobHash,
		ManifestHash:        r.ManifestHash,
		ModuleType:          r.ModuleType,
		ModuleConfig:        r.ModuleConfig,
		Inputs:              r.Inputs,
		Outputs:             r.Outputs,
		StartedAt:           r.StartedAt,
		FinishedAt:          r.FinishedAt,
		RuntimeMilliseconds: r.RuntimeMillis,
		Comment:             r.Comment,
		Status:              status,
	}
}

func fromArchiveRecord(rec *archive.JobRecord) *Record {
	return &Record{
		JobHash:       rec.JobHash,
		ManifestHash:  rec.ManifestHash,
		ModuleType:    rec.ModuleType,
		ModuleConfig:  rec.ModuleConfig,
		Inputs:        rec.Inputs,
		Outputs:       rec.Outputs,
		StartedAt:     rec.StartedAt,
		FinishedAt:    rec.FinishedAt,
		RuntimeMillis: rec.RuntimeMilliseconds,
		Comment:       rec.Comment,
		Status:        rec.Status,
	}
}
