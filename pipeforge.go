// Package pipeforge implements the context/API facade (component K): a
// Context binds one of each store plus their read-only archives, an
// operation registry, a module-type registry, and a data-type registry,
// and exposes the command surface a CLI or test harness drives the
// engine through.
package pipeforge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/pipeforge/archive"
	"github.com/GoCodeAlone/pipeforge/archive/fsstore"
	"github.com/GoCodeAlone/pipeforge/archive/sqlstore"
	"github.com/GoCodeAlone/pipeforge/canon"
	"github.com/GoCodeAlone/pipeforge/datatype"
	"github.com/GoCodeAlone/pipeforge/manifest"
	"github.com/GoCodeAlone/pipeforge/modkit"
	"github.com/GoCodeAlone/pipeforge/modkit/builtin"
	"github.com/GoCodeAlone/pipeforge/operation"
	"github.com/GoCodeAlone/pipeforge/pipeline"
	"github.com/GoCodeAlone/pipeforge/processor"
	"github.com/GoCodeAlone/pipeforge/value"
)

// Backend selects a Config's archive implementation.
type Backend string

const (
	BackendFilesystem Backend = "fs"
	BackendSQL        Backend = "sql"
)

// Config configures a Context. ArchiveID defaults to "default" per
// spec.md §6's environment-variable-selected context name.
type Config struct {
	Backend   Backend
	ArchiveID string
	// Path is the filesystem archive's root directory (Backend ==
	// BackendFilesystem) or the embedded database file path (Backend ==
	// BackendSQL).
	Path        string
	Concurrency int
	Logger      *slog.Logger
}

// Context is the engine's construction root: it binds the data-type,
// module-type, and operation registries to a concrete archive/store
// backend and an in-memory value registry, and offers the user-facing
// command surface named in spec.md §4.K.
type Context struct {
	cfg Config

	Types      *datatype.Registry
	Modules    *modkit.Registry
	Operations *operation.Registry
	Values     *value.Registry

	store archive.Store
	cache *manifest.Cache
	sync  *processor.Synchronous
	par   *processor.Parallel

	pipelines map[string]*pipeline.Structure
	logger    *slog.Logger
}

// NewContext builds a Context from cfg, following the teacher's
// NewEngineBuilder/Build() construction shape: wire registries first,
// open the storage backend, then assemble the processors over them.
func NewContext(cfg Config) (*Context, error) {
	if cfg.ArchiveID == "" {
		cfg.ArchiveID = "default"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	types := datatype.NewRegistry()
	datatype.RegisterBuiltins(types)

	modules := modkit.NewRegistry()
	builtin.Register(modules, types)

	operations := operation.NewRegistry()
	operation.RegisterBuiltins(operations)

	values := value.NewRegistry(types)

	store, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("pipeforge: open archive: %w", err)
	}

	cache := manifest.NewCache(store)
	engine := &processor.Engine{Modules: modules, Values: values, Cache: cache}

	c := &Context{
		cfg:        cfg,
		Types:      types,
		Modules:    modules,
		Operations: operations,
		Values:     values,
		store:      store,
		cache:      cache,
		sync:       processor.NewSynchronous(engine),
		par:        processor.NewParallel(engine, cfg.Concurrency),
		pipelines:  map[string]*pipeline.Structure{},
		logger:     logger,
	}

	if err := c.hydrateValues(context.Background()); err != nil {
		store.Close()
		return nil, fmt.Errorf("pipeforge: hydrate value registry: %w", err)
	}

	logger.Info("context ready", "archive_id", cfg.ArchiveID, "backend", cfg.Backend)
	return c, nil
}

func openStore(cfg Config) (archive.Store, error) {
	switch cfg.Backend {
	case BackendSQL:
		return sqlstore.Open(cfg.ArchiveID, cfg.Path)
	case BackendFilesystem, "":
		return fsstore.Open(cfg.ArchiveID, cfg.Path)
	default:
		return nil, fmt.Errorf("pipeforge: unknown backend %q", cfg.Backend)
	}
}

// hydrateValues replays every value already on disk into the in-memory
// registry via Adopt, so alias and lineage lookups resolve without a
// store round trip per call.
func (c *Context) hydrateValues(ctx context.Context) error {
	for sv, err := range c.store.IterValues(ctx) {
		if err != nil {
			return err
		}
		typ, ok := c.Types.Lookup(sv.Schema.TypeName)
		if !ok {
			return fmt.Errorf("unregistered type %q for stored value %s", sv.Schema.TypeName, sv.Hash)
		}
		payload, err := typ.Decode(sv.Payload)
		if err != nil {
			return fmt.Errorf("decode stored value %s: %w", sv.Hash, err)
		}
		c.Values.Adopt(value.Reconstruct(sv.ID, sv.Schema, sv.Hash, sv.Size, sv.DataConfig, fromStoredOrigin(sv.Origin), sv.CreatedAt, sv.Metadata, payload))
	}
	return nil
}

func fromStoredOrigin(o archive.StoredOrigin) value.Origin {
	return value.Origin{
		Kind:       value.OriginKind(o.Kind),
		Label:      o.Label,
		JobHash:    o.JobHash,
		OutputName: o.OutputName,
	}
}

// Close releases the underlying store's resources.
func (c *Context) Close() error { return c.store.Close() }

// RunJob submits (m, inputs) for synchronous execution, reusing a
// cached job's outputs when one already exists for this exact
// (manifest, inputs) pair (spec.md §4.F). comment is required by the
// API on every submission, even as an empty string.
func (c *Context) RunJob(ctx context.Context, m manifest.Manifest, inputs map[string]canon.Digest, comment string) (*manifest.Record, error) {
	engine := &processor.Engine{Modules: c.Modules, Values: c.Values, Cache: c.cache}
	result := engine.RunManifest(ctx, m, inputs, comment, "")
	if result.Err != nil {
		return result.Record, result.Err
	}
	return result.Record, nil
}

// QueueJob submits (m, inputs) for asynchronous execution on a new
// goroutine, returning the job hash immediately together with a channel
// that receives the job record (nil when none was produced) once the
// execution finishes; a recorded job can also be read via GetJobRecord.
func (c *Context) QueueJob(ctx context.Context, m manifest.Manifest, inputs map[string]canon.Digest, comment string) (canon.Digest, <-chan *manifest.Record, error) {
	_, _, jobHash, err := manifest.Build(m, inputs)
	if err != nil {
		return nil, nil, fmt.Errorf("pipeforge: build job identity: %w", err)
	}
	done := make(chan *manifest.Record, 1)
	engine := &processor.Engine{Modules: c.Modules, Values: c.Values, Cache: c.cache}
	go func() {
		result := engine.RunManifest(ctx, m, inputs, comment, "")
		done <- result.Record
		close(done)
	}()
	return jobHash, done, nil
}

// GetValue resolves a reference per spec.md §4.C's resolve(reference):
// a literal value id (UUID string), an alias-prefixed string
// ("alias:NAME"), or an inline literal typed by schema
// ("literal:TYPE_NAME:JSON_PAYLOAD", e.g. "literal:boolean:true" or
// `literal:string:"hello"`). An inline literal is registered in the
// value registry on first resolution the same way register_value would,
// so a step wired to it still participates in caching and lineage.
func (c *Context) GetValue(reference string) (*value.Value, error) {
	if strings.HasPrefix(reference, "alias:") {
		name := strings.TrimPrefix(reference, "alias:")
		return c.resolveAlias(name)
	}
	if strings.HasPrefix(reference, "literal:") {
		return c.resolveInlineLiteral(strings.TrimPrefix(reference, "literal:"))
	}
	if id, err := uuid.Parse(reference); err == nil {
		return c.Values.Get(id)
	}
	return nil, fmt.Errorf("pipeforge: %q is neither an alias reference nor a value id", reference)
}

// resolveInlineLiteral parses "TYPE_NAME:JSON_PAYLOAD" and registers the
// decoded payload under that schema.
func (c *Context) resolveInlineLiteral(body string) (*value.Value, error) {
	typeName, jsonPayload, ok := strings.Cut(body, ":")
	if !ok {
		return nil, fmt.Errorf("pipeforge: malformed inline literal %q, want TYPE_NAME:JSON_PAYLOAD", body)
	}
	var payload any
	if err := json.Unmarshal([]byte(jsonPayload), &payload); err != nil {
		return nil, fmt.Errorf("pipeforge: inline literal %q: %w", body, err)
	}
	v, err := c.Values.Register(datatype.Schema{TypeName: typeName}, payload, value.External("inline literal"))
	if err != nil {
		return nil, fmt.Errorf("pipeforge: register inline literal %q: %w", body, err)
	}
	return v, nil
}

func (c *Context) resolveAlias(name string) (*value.Value, error) {
	id, ok, err := c.store.LookupAlias(context.Background(), name)
	if err != nil {
		return nil, fmt.Errorf("pipeforge: resolve alias %q: %w", name, err)
	}
	if !ok {
		return nil, &UnknownAliasError{Name: name}
	}
	return c.Values.Get(id)
}

// UnknownAliasError is returned when an alias has no current binding.
type UnknownAliasError struct{ Name string }

func (e *UnknownAliasError) Error() string { return fmt.Sprintf("pipeforge: unknown alias %q", e.Name) }

// StoreValue registers payload under schema with an external origin,
// persists it to the archive, and optionally binds alias to it.
func (c *Context) StoreValue(ctx context.Context, schema datatype.Schema, payload any, label string, alias string) (*value.Value, error) {
	v, err := c.Values.Register(schema, payload, value.External(label))
	if err != nil {
		return nil, fmt.Errorf("pipeforge: register value: %w", err)
	}
	encoded, err := c.Values.EncodePayload(v)
	if err != nil {
		return nil, fmt.Errorf("pipeforge: encode value: %w", err)
	}
	if err := c.store.WriteValue(ctx, &archive.StoredValue{
		ID:         v.ID,
		Schema:     v.Schema,
		DataConfig: v.DataConfig,
		Payload:    encoded,
		Size:       v.Size,
		Hash:       v.Hash,
		Origin:     toStoredOrigin(v.Origin),
		Metadata:   v.Metadata,
		CreatedAt:  v.CreatedAt,
	}); err != nil {
		return nil, fmt.Errorf("pipeforge: write value: %w", err)
	}
	if alias != "" {
		if err := c.store.WriteAlias(ctx, alias, v.ID); err != nil {
			return nil, fmt.Errorf("pipeforge: write alias %q: %w", alias, err)
		}
	}
	return v, nil
}

func toStoredOrigin(o value.Origin) archive.StoredOrigin {
	return archive.StoredOrigin{
		Kind:       string(o.Kind),
		Label:      o.Label,
		JobHash:    o.JobHash,
		OutputName: o.OutputName,
	}
}

// ResolveAlias returns the value id currently bound to alias.
func (c *Context) ResolveAlias(ctx context.Context, alias string) (uuid.UUID, error) {
	id, ok, err := c.store.LookupAlias(ctx, alias)
	if err != nil {
		return uuid.Nil, err
	}
	if !ok {
		return uuid.Nil, &UnknownAliasError{Name: alias}
	}
	return id, nil
}

// ListAliases returns every alias name with a current binding.
func (c *Context) ListAliases(ctx context.Context) ([]string, error) {
	return c.store.ListAliases(ctx)
}

// GetJobRecord looks up a previously recorded job by its job hash.
func (c *Context) GetJobRecord(ctx context.Context, jobHash canon.Digest) (*manifest.Record, error) {
	rec, ok, err := c.cache.Lookup(ctx, jobHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, archive.ErrNotFound
	}
	return rec, nil
}

// GetJobOutput resolves a previously recorded job's named output to its
// in-memory value, first looking up the job record then resolving its
// recorded output hash through the value registry. A record whose
// output hash is not resolvable (the backing value never made it into
// this archive, or was lost from it) surfaces a
// *manifest.OutputMissingError rather than re-running the job: spec.md
// §8 S6 treats this as a hard error, since re-running silently could
// violate job-idempotence if the module is not actually reproducible.
func (c *Context) GetJobOutput(ctx context.Context, jobHash canon.Digest, field string) (*value.Value, error) {
	rec, err := c.GetJobRecord(ctx, jobHash)
	if err != nil {
		return nil, err
	}
	valueHash, ok := rec.Outputs[field]
	if !ok {
		return nil, fmt.Errorf("pipeforge: job %s has no output %q", jobHash, field)
	}
	v, err := c.Values.GetByHash(valueHash)
	if err != nil {
		return nil, &manifest.OutputMissingError{JobHash: jobHash, Field: field, ValueHash: valueHash}
	}
	return v, nil
}

// ApplyOperation is apply_operation(op_type, value, extra_args) from
// spec.md §4.J: it resolves operationType against v's data type to a
// manifest template, builds the renamed input map from v (the
// operation's principal value, conventionally named "value") and
// extraArgs (each an already-resolved value, e.g. from GetValue or
// StoreValue), and submits the result through RunJob — inheriting the
// same caching and lineage behavior as any other job submission.
func (c *Context) ApplyOperation(ctx context.Context, operationType string, v *value.Value, extraArgs map[string]*value.Value, comment string) (*manifest.Record, error) {
	extraArgNames := make(map[string]any, len(extraArgs))
	for name, arg := range extraArgs {
		extraArgNames[name] = arg
	}

	m, fieldMap, err := c.Operations.BuildManifest(c.Types, operationType, v.Schema.TypeName, "value", extraArgNames)
	if err != nil {
		return nil, fmt.Errorf("pipeforge: apply operation %q: %w", operationType, err)
	}

	inputs := make(map[string]canon.Digest, len(extraArgs)+1)
	inputs[fieldMap["value"]] = v.Hash
	for name, arg := range extraArgs {
		field, ok := fieldMap[name]
		if !ok {
			field = name
		}
		inputs[field] = arg.Hash
	}

	return c.RunJob(ctx, m, inputs, comment)
}

// RegisterPipeline compiles d and makes it available under its
// declared name via ListPipelines/GetPipeline.
func (c *Context) RegisterPipeline(d *pipeline.Declaration) (*pipeline.Structure, error) {
	s, err := pipeline.Compile(d, c.Modules, c.Types)
	if err != nil {
		return nil, err
	}
	c.pipelines[s.Name] = s
	return s, nil
}

// ListPipelines returns every registered pipeline's name.
func (c *Context) ListPipelines() []string {
	names := make([]string, 0, len(c.pipelines))
	for name := range c.pipelines {
		names = append(names, name)
	}
	return names
}

// GetPipeline returns the compiled structure registered under name.
func (c *Context) GetPipeline(name string) (*pipeline.Structure, error) {
	s, ok := c.pipelines[name]
	if !ok {
		return nil, fmt.Errorf("pipeforge: unknown pipeline %q", name)
	}
	return s, nil
}

// RunPipeline drives every ready step of a registered pipeline to
// completion on the synchronous processor, after seeding pipelineInputs
// onto a fresh controller.
func (c *Context) RunPipeline(ctx context.Context, name string, pipelineInputs map[string]canon.Digest, comment string) (*pipeline.Controller, []processor.Result, error) {
	s, err := c.GetPipeline(name)
	if err != nil {
		return nil, nil, err
	}
	merged, err := c.withDeclaredInputs(s, pipelineInputs)
	if err != nil {
		return nil, nil, err
	}
	ctrl := pipeline.NewController(s, pipeline.Callbacks{})
	ctrl.SetPipelineInputs(merged)
	results := c.sync.RunReady(ctx, ctrl, comment)
	return ctrl, results, nil
}

// RunPipelineParallel is RunPipeline's parallel-processor counterpart.
func (c *Context) RunPipelineParallel(ctx context.Context, name string, pipelineInputs map[string]canon.Digest, comment string) (*pipeline.Controller, []processor.Result, error) {
	s, err := c.GetPipeline(name)
	if err != nil {
		return nil, nil, err
	}
	merged, err := c.withDeclaredInputs(s, pipelineInputs)
	if err != nil {
		return nil, nil, err
	}
	ctrl := pipeline.NewController(s, pipeline.Callbacks{})
	ctrl.SetPipelineInputs(merged)
	results := c.par.RunReady(ctx, ctrl, comment)
	return ctrl, results, nil
}

// withDeclaredInputs registers s's declaration-time input literals
// (spec.md §6's `inputs?: {field: literal}`) as values and merges them
// under pipelineInputs, which always wins on a name collision: a caller
// supplying a pipeline input explicitly overrides the declared default.
func (c *Context) withDeclaredInputs(s *pipeline.Structure, pipelineInputs map[string]canon.Digest) (map[string]canon.Digest, error) {
	if len(s.Inputs) == 0 {
		return pipelineInputs, nil
	}
	merged := make(map[string]canon.Digest, len(s.Inputs)+len(pipelineInputs))
	for name, literal := range s.Inputs {
		schema, ok := s.PipelineInputs[name]
		if !ok {
			continue
		}
		v, err := c.Values.Register(schema, literal, value.External("declared pipeline input"))
		if err != nil {
			return nil, fmt.Errorf("pipeforge: register declared input %q: %w", name, err)
		}
		merged[name] = v.Hash
	}
	for name, hash := range pipelineInputs {
		merged[name] = hash
	}
	return merged, nil
}

// ArchiveInfo summarizes a store for retrieve_archive_info.
type ArchiveInfo struct {
	ArchiveID string
	Backend   Backend
	Config    map[string]any
}

// RetrieveArchiveInfo returns identifying metadata about the bound
// archive.
func (c *Context) RetrieveArchiveInfo() ArchiveInfo {
	return ArchiveInfo{ArchiveID: c.store.ArchiveID(), Backend: c.cfg.Backend, Config: c.store.Config()}
}

// ExportArchive copies every value and alias binding from this
// Context's store into dst. Job records are not part of any archive's
// read-iteration surface (spec.md §4.D only names iter_values and
// lookup_alias among read operations), so export/import is scoped to
// values and aliases; job history regenerates on re-run via the cache.
func (c *Context) ExportArchive(ctx context.Context, dst archive.Store) error {
	for sv, err := range c.store.IterValues(ctx) {
		if err != nil {
			return fmt.Errorf("pipeforge: export: iterate values: %w", err)
		}
		if err := dst.WriteValue(ctx, sv); err != nil {
			return fmt.Errorf("pipeforge: export: write value %s: %w", sv.Hash, err)
		}
	}
	aliases, err := c.store.ListAliases(ctx)
	if err != nil {
		return fmt.Errorf("pipeforge: export: list aliases: %w", err)
	}
	for _, name := range aliases {
		history, err := c.store.AliasHistory(ctx, name)
		if err != nil {
			return fmt.Errorf("pipeforge: export: alias history %q: %w", name, err)
		}
		for _, entry := range history {
			if err := dst.WriteAlias(ctx, name, entry.ValueID); err != nil {
				return fmt.Errorf("pipeforge: export: write alias %q: %w", name, err)
			}
		}
	}
	return nil
}

// ImportArchive is ExportArchive run in the opposite direction: it
// copies src's values and aliases into this Context's store, then
// rehydrates the in-memory value registry so imported values are
// immediately resolvable.
func (c *Context) ImportArchive(ctx context.Context, src archive.Archive) error {
	for sv, err := range src.IterValues(ctx) {
		if err != nil {
			return fmt.Errorf("pipeforge: import: iterate values: %w", err)
		}
		if err := c.store.WriteValue(ctx, sv); err != nil {
			return fmt.Errorf("pipeforge: import: write value %s: %w", sv.Hash, err)
		}
	}
	if aa, ok := src.(archive.AliasArchive); ok {
		names, err := aa.ListAliases(ctx)
		if err != nil {
			return fmt.Errorf("pipeforge: import: list aliases: %w", err)
		}
		for _, name := range names {
			history, err := aa.AliasHistory(ctx, name)
			if err != nil {
				return fmt.Errorf("pipeforge: import: alias history %q: %w", name, err)
			}
			for _, entry := range history {
				if err := c.store.WriteAlias(ctx, name, entry.ValueID); err != nil {
					return fmt.Errorf("pipeforge: import: write alias %q: %w", name, err)
				}
			}
		}
	}
	return c.hydrateValues(ctx)
}

// IsIncompatibleArchive reports whether err (or something it wraps) is
// an archive.IncompatibleArchiveError, the IncompatibleArchive error
// kind named in spec.md §7.
func IsIncompatibleArchive(err error) bool {
	var incompat *archive.IncompatibleArchiveError
	return errors.As(err, &incompat)
}
