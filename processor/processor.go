// Package processor implements the execution strategy component (I):
// it resolves a manifest and its inputs to a job identity, consults the
// job cache, and either reuses cached outputs or invokes the module,
// registering new output values and recording the job.
package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/GoCodeAlone/pipeforge/canon"
	"github.com/GoCodeAlone/pipeforge/manifest"
	"github.com/GoCodeAlone/pipeforge/modkit"
	"github.com/GoCodeAlone/pipeforge/pipeline"
	"github.com/GoCodeAlone/pipeforge/value"
)

// TimeoutError is returned when a job exceeds its per-job deadline. No
// job record is written for a timed-out job (spec.md §5).
type TimeoutError struct {
	StepID string
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("processor: step %q timed out", e.StepID) }

// Result describes the outcome of running one manifest, whether
// invoked directly (run_job) or as a pipeline step.
type Result struct {
	StepID  string
	JobHash canon.Digest
	Cached  bool
	Status  string // "completed", "failed", "crashed", "cancelled", "timed_out"
	Record  *manifest.Record
	Err     error
}

// Engine bundles the registries a processor needs to resolve, cache,
// and run a job: the module-type registry, the in-memory value
// registry, and the job cache. Both the synchronous and parallel
// pipeline processors, and the top-level run_job facade, share this
// resolution logic.
type Engine struct {
	Modules *modkit.Registry
	Values  *value.Registry
	Cache   *manifest.Cache
}

// RunManifest resolves m against inputs (field name -> input value
// hash), consults the job cache, and either reuses a cached job's
// outputs or invokes the module. On success it registers each output
// payload as a new value (origin: this job's named output) and
// persists a job record. comment is the mandatory (possibly empty)
// auditability string spec.md §4.F requires on every submission. label
// is used only to identify this invocation in the returned Result
// (a step id, or "" for a direct run_job call).
func (e *Engine) RunManifest(ctx context.Context, m manifest.Manifest, inputs map[string]canon.Digest, comment, label string) Result {
	manifestHash, _, jobHash, err := manifest.Build(m, inputs)
	if err != nil {
		return Result{StepID: label, Status: "failed", Err: fmt.Errorf("processor: build manifest identity: %w", err)}
	}

	if cached, ok, err := e.Cache.Lookup(ctx, jobHash); err != nil {
		return Result{StepID: label, JobHash: jobHash, Status: "failed", Err: err}
	} else if ok {
		// The job cache is authoritative (spec.md §4.F): a recorded job is
		// never re-run, but its recorded outputs must still resolve. A
		// value the archive has lost since the job was recorded is a hard
		// error, not a silent re-run.
		for field, valueHash := range cached.Outputs {
			if _, err := e.Values.GetByHash(valueHash); err != nil {
				missing := &manifest.OutputMissingError{JobHash: jobHash, Field: field, ValueHash: valueHash}
				return Result{StepID: label, JobHash: jobHash, Cached: true, Status: "failed", Record: cached, Err: missing}
			}
		}
		return Result{StepID: label, JobHash: jobHash, Cached: true, Status: "completed", Record: cached}
	}

	select {
	case <-ctx.Done():
		return Result{StepID: label, JobHash: jobHash, Status: "cancelled", Err: ctx.Err()}
	default:
	}

	mod, err := e.Modules.New(m.ModuleType, m.ModuleConfig)
	if err != nil {
		return Result{StepID: label, JobHash: jobHash, Status: "failed", Err: err}
	}

	inputValues := make(modkit.ValueMap, len(inputs))
	for field, hash := range inputs {
		v, err := e.Values.GetByHash(hash)
		if err != nil {
			return Result{StepID: label, JobHash: jobHash, Status: "failed", Err: fmt.Errorf("processor: resolve input %q: %w", field, err)}
		}
		inputValues[field] = v.Payload()
	}

	startedAt := time.Now().UTC()
	outputValues, procErr := mod.Process(ctx, inputValues)
	finishedAt := time.Now().UTC()

	if ctx.Err() != nil {
		return Result{StepID: label, JobHash: jobHash, Status: "cancelled", Err: ctx.Err()}
	}

	if procErr != nil {
		classified := modkit.Classify(procErr)
		if _, crashed := classified.(*modkit.Crash); crashed {
			// A crash writes no job record: its cause is unanticipated
			// and must not be memoized into the cache (spec.md §7).
			return Result{StepID: label, JobHash: jobHash, Status: "crashed", Err: classified}
		}
		rec := manifest.Record{
			JobHash:       jobHash,
			ManifestHash:  manifestHash,
			ModuleType:    m.ModuleType,
			ModuleConfig:  m.ModuleConfig,
			Inputs:        inputs,
			StartedAt:     startedAt,
			FinishedAt:    finishedAt,
			RuntimeMillis: finishedAt.Sub(startedAt).Milliseconds(),
			Comment:       comment,
			Status:        "failed",
		}
		if err := e.Cache.Record(ctx, rec); err != nil {
			return Result{StepID: label, JobHash: jobHash, Status: "failed", Err: fmt.Errorf("%w (and failed to record job: %v)", classified, err)}
		}
		return Result{StepID: label, JobHash: jobHash, Status: "failed", Record: &rec, Err: classified}
	}

	outputHashes := make(map[string]canon.Digest, len(outputValues))
	for field, payload := range outputValues {
		schema := mod.OutputsSchema()[field]
		v, err := e.Values.Register(schema, payload, value.FromJob(jobHash, field))
		if err != nil {
			return Result{StepID: label, JobHash: jobHash, Status: "failed", Err: fmt.Errorf("processor: register output %q: %w", field, err)}
		}
		outputHashes[field] = v.Hash
	}

	rec := manifest.Record{
		JobHash:       jobHash,
		ManifestHash:  manifestHash,
		ModuleType:    m.ModuleType,
		ModuleConfig:  m.ModuleConfig,
		Inputs:        inputs,
		Outputs:       outputHashes,
		StartedAt:     startedAt,
		FinishedAt:    finishedAt,
		RuntimeMillis: finishedAt.Sub(startedAt).Milliseconds(),
		Comment:       comment,
		Status:        "completed",
	}
	if err := e.Cache.Record(ctx, rec); err != nil {
		return Result{StepID: label, JobHash: jobHash, Status: "failed", Err: fmt.Errorf("processor: record job: %w", err)}
	}

	return Result{StepID: label, JobHash: jobHash, Status: "completed", Record: &rec}
}

// RunStep resolves stepID's manifest and inputs from ctrl, runs it via
// RunManifest, and publishes or invalidates ctrl's slots depending on
// the outcome.
func (e *Engine) RunStep(ctx context.Context, ctrl *pipeline.Controller, stepID, comment string) Result {
	structure := ctrl.Structure()
	step, ok := structure.Steps[stepID]
	if !ok {
		return Result{StepID: stepID, Status: "failed", Err: fmt.Errorf("processor: unknown step %q", stepID)}
	}

	inputs, err := ctrl.StepInputs(stepID)
	if err != nil {
		return Result{StepID: stepID, Status: "failed", Err: err}
	}

	m := manifest.Manifest{ModuleType: step.ModuleType, ModuleConfig: step.ModuleConfig}
	result := e.RunManifest(ctx, m, inputs, comment, stepID)

	switch result.Status {
	case "completed":
		if result.Record != nil {
			ctrl.PublishStepOutputs(stepID, result.Record.Outputs)
		}
	case "failed", "crashed", "cancelled":
		ctrl.MarkStepFailed(stepID)
	}
	return result
}
