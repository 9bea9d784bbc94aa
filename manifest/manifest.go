// Package manifest implements the manifest and job model (component F):
// deterministic hashing of (module_type, module_config, inputs) into a
// job identity, and the job-cache lookup/record contract that backs
// memoized execution.
package manifest

import (
	"fmt"
	"time"

	"github.com/GoCodeAlone/pipeforge/canon"
)

// Manifest pairs a module_type name with a module_config. Its hash is
// the canonical content-hash of that pair; two manifests with equal
// hashes must yield equivalent modules (spec.md §4.F).
type Manifest struct {
	ModuleType   string         `cbor:"module_type"`
	ModuleConfig map[string]any `cbor:"module_config"`
}

// Hash computes the manifest_hash: hash(canonical_encode({module_type,
// module_config})).
func (m Manifest) Hash() (canon.Digest, error) {
	return canon.HashOf(struct {
		ModuleType   string         `cbor:"module_type"`
		ModuleConfig map[string]any `cbor:"module_config"`
	}{m.ModuleType, m.ModuleConfig})
}

// InputsHash computes inputs_hash: hash(canonical_encode(sorted_map(field
// -> value_hash))). Digests are encoded by their base58btc string form so
// the canonical encoding is stable independent of Digest's internal byte
// representation.
func InputsHash(inputs map[string]canon.Digest) (canon.Digest, error) {
	asStrings := make(map[string]string, len(inputs))
	for field, h := range inputs {
		asStrings[field] = h.String()
	}
	return canon.HashOf(asStrings)
}

// JobHash computes job_hash: hash(canonical_encode({manifest_hash,
// inputs_hash})).
func JobHash(manifestHash, inputsHash canon.Digest) (canon.Digest, error) {
	return canon.HashOf(struct {
		ManifestHash string `cbor:"manifest_hash"`
		InputsHash   string `cbor:"inputs_hash"`
	}{manifestHash.String(), inputsHash.String()})
}

// Record is the immutable job record stored in the archive once a job
// has run: it pairs the job identity with its resolved input/output
// value hashes, timing, and an auditability comment. Spec.md §4.F
// requires every job submission to carry a comment string (possibly
// empty).
type Record struct {
	JobHash       canon.Digest            `cbor:"job_hash"`
	ManifestHash  canon.Digest            `cbor:"manifest_hash"`
	ModuleType    string                  `cbor:"module_type"`
	ModuleConfig  map[string]any          `cbor:"module_config"`
	Inputs        map[string]canon.Digest `cbor:"inputs"`
	Outputs       map[string]canon.Digest `cbor:"outputs"`
	StartedAt     time.Time               `cbor:"started_at"`
	FinishedAt    time.Time               `cbor:"finished_at"`
	RuntimeMillis int64                   `cbor:"runtime_ms"`
	Comment       string                  `cbor:"comment"`
	// Status is one of "completed", "failed", or "cancelled". Empty is
	// treated as "completed" by Cache.Record for callers that only ever
	// record successful jobs.
	Status string `cbor:"status"`
}

// Runtime returns FinishedAt.Sub(StartedAt) as a time.Duration.
func (r Record) Runtime() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// OutputMissingError is returned when a job record references an output
// value hash that the archive cannot load: spec.md §8 S6 requires this
// to surface as a hard error rather than trigger a silent re-run, since
// silently re-running could violate the job-idempotence invariant if the
// module is not actually reproducible.
type OutputMissingError struct {
	JobHash   canon.Digest
	Field     string
	ValueHash canon.Digest
}

func (e *OutputMissingError) Error() string {
	return fmt.Sprintf("manifest: job %s output %q (value %s) missing from archive", e.JobHash, e.Field, e.ValueHash)
}

// Build assembles a Manifest's hash, an inputs hash, and a job hash in
// one call — the identity triple the processor needs before it can
// consult the job cache.
func Build(m Manifest, inputs map[string]canon.Digest) (manifestHash, inputsHash, jobHash canon.Digest, err error) {
	manifestHash, err = m.Hash()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("manifest hash: %w", err)
	}
	inputsHash, err = InputsHash(inputs)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("inputs hash: %w", err)
	}
	jobHash, err = JobHash(manifestHash, inputsHash)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("job hash: %w", err)
	}
	return manifestHash, inputsHash, jobHash, nil
}
