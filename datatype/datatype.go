// Package datatype implements the process-wide data-type registry
// (component B): named, versioned capability bundles that declare how a
// value's payload is validated, encoded, compared, and introspected.
package datatype

import (
	"fmt"
	"sync"

	"github.com/GoCodeAlone/pipeforge/canon"
)

// Type is the capability bundle a data type must provide. Payloads are
// always passed and returned as `any`; concrete types assert their own
// representation in Validate/Encode/Decode.
type Type interface {
	// Name returns the registered type name (e.g. "bytes", "table").
	Name() string
	// Version is bumped whenever Encode's wire shape changes in a way
	// that is not forward-compatible.
	Version() int
	// Validate checks a candidate payload against this type's
	// representation classes, returning a TypeValidationError on failure.
	Validate(payload any) error
	// Encode produces the canonical byte encoding of payload.
	Encode(payload any) ([]byte, error)
	// Decode reconstructs a payload from its canonical byte encoding.
	Decode(b []byte) (any, error)
	// Equal reports whether two payloads of this type are equivalent.
	Equal(a, b any) bool
	// Properties extracts well-known metadata keys from a payload (row
	// counts, byte sizes, declared columns, ...). May return nil.
	Properties(payload any) map[string]any
}

// Subtyper is optionally implemented by a Type to declare subtype
// relations consumed by the operation dispatch layer (component J): a
// query that accepts "any" is also satisfied by "file_bundle" if
// file_bundle's Accepts(query) reports true for "any".
type Subtyper interface {
	Accepts(otherTypeName string) bool
}

// TypeValidationError carries the offending path within a (possibly
// nested) payload so callers can report precisely what failed.
type TypeValidationError struct {
	TypeName string
	Path     string
	Reason   string
}

func (e *TypeValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("type validation error: %s at %s: %s", e.TypeName, e.Path, e.Reason)
	}
	return fmt.Sprintf("type validation error: %s: %s", e.TypeName, e.Reason)
}

// DuplicateTypeError is returned by Registry.Register for a name already
// present in the registry.
type DuplicateTypeError struct {
	Name string
}

func (e *DuplicateTypeError) Error() string {
	return fmt.Sprintf("duplicate data type: %q", e.Name)
}

// Registry is the process-wide name -> Type map. Registration happens
// once at context construction and is thereafter treated as immutable
// (per the concurrency model, §5); the mutex below only guards the
// construction window itself and concurrent read access from tests.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Type
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]Type)}
}

// Register adds t under its own Name(). Registration is fail-fast:
// registering the same name twice returns *DuplicateTypeError and the
// existing registration is left untouched.
func (r *Registry) Register(t Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[t.Name()]; exists {
		return &DuplicateTypeError{Name: t.Name()}
	}
	r.types[t.Name()] = t
	return nil
}

// MustRegister panics on a duplicate registration. Intended for
// registering the built-in types at program init.
func (r *Registry) MustRegister(t Type) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Lookup resolves a type by name.
func (r *Registry) Lookup(name string) (Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// Resolve looks up name and validates payload against it, matching the
// resolution sequence from spec.md §4.B: lookup, then validate.
func (r *Registry) Resolve(name string, payload any) (Type, error) {
	t, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("datatype: unknown type %q", name)
	}
	if err := t.Validate(payload); err != nil {
		return nil, err
	}
	return t, nil
}

// Names returns every registered type name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for n := range r.types {
		names = append(names, n)
	}
	return names
}

// Accepts reports whether the type registered as typeName accepts a
// query for queryName, either because they are the same name or because
// the registered type declares a subtype relation via Subtyper.
func (r *Registry) Accepts(typeName, queryName string) bool {
	if typeName == queryName {
		return true
	}
	t, ok := r.Lookup(typeName)
	if !ok {
		return false
	}
	if st, ok := t.(Subtyper); ok {
		return st.Accepts(queryName)
	}
	return false
}

// Schema declares the type (and optional per-instance configuration) of
// a single named field: a pipeline input, a step input/output, or a
// module config option. Two schemas are equal iff their canonical
// encodings hash-match (spec.md §3).
type Schema struct {
	TypeName    string `cbor:"type_name"`
	TypeConfig  any    `cbor:"type_config,omitempty"`
	Description string `cbor:"description,omitempty"`
	Default     any    `cbor:"default,omitempty"`
	Optional    bool   `cbor:"optional,omitempty"`
}

// Hash returns the canonical content hash of the schema.
func (s Schema) Hash() (canon.Digest, error) {
	return canon.HashOf(s)
}

// Equal reports whether two schemas hash-match.
func (s Schema) Equal(other Schema) bool {
	h1, err1 := s.Hash()
	h2, err2 := other.Hash()
	if err1 != nil || err2 != nil {
		return false
	}
	return h1.Equal(h2)
}

// Map is a named collection of schemas, e.g. a module's inputs_schema()
// or outputs_schema() result.
type Map map[string]Schema

// Hash returns the canonical content hash of the whole schema map (keys
// sorted, per canon's deterministic map encoding).
func (m Map) Hash() (canon.Digest, error) {
	return canon.HashOf(map[string]Schema(m))
}

// Refines reports whether candidate may be wired into target, i.e.
// candidate's declared type is accepted wherever target's is expected.
// Used by pipeline compilation (component G) to validate every link.
func Refines(reg *Registry, candidate, target Schema) bool {
	return reg.Accepts(candidate.TypeName, target.TypeName)
}
