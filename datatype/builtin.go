package datatype

import (
	"fmt"

	"github.com/GoCodeAlone/pipeforge/canon"
)

// RegisterBuiltins registers the core types named in spec.md §3: none,
// any, bytes, string, boolean, dict, file, file_bundle, python_object
// (kept as an opaque, non-persistable blob per the redesign in §9), plus
// the two engine-internal model types exercised by the worked scenarios
// (table, query_result) in SPEC_FULL.md §4.E.
func RegisterBuiltins(r *Registry) {
	r.MustRegister(noneType{})
	r.MustRegister(anyType{})
	r.MustRegister(bytesType{})
	r.MustRegister(stringType{})
	r.MustRegister(booleanType{})
	r.MustRegister(dictType{})
	r.MustRegister(fileType{})
	r.MustRegister(fileBundleType{})
	r.MustRegister(pythonObjectType{})
	r.MustRegister(tableType{})
	r.MustRegister(queryResultType{})
}

// --- none ---

type noneType struct{}

func (noneType) Name() string    { return "none" }
func (noneType) Version() int    { return 1 }
func (noneType) Validate(p any) error {
	if p != nil {
		return &TypeValidationError{TypeName: "none", Reason: "expected nil payload"}
	}
	return nil
}
func (noneType) Encode(any) ([]byte, error)        { return canon.Encode(nil) }
func (noneType) Decode([]byte) (any, error)        { return nil, nil }
func (noneType) Equal(a, b any) bool               { return a == nil && b == nil }
func (noneType) Properties(any) map[string]any     { return nil }

// --- any ---

// anyType accepts any encodable payload; used for type-erased wiring and
// as the universal subtype-acceptance root for operation dispatch.
type anyType struct{}

func (anyType) Name() string { return "any" }
func (anyType) Version() int { return 1 }
func (anyType) Validate(any) error { return nil }
func (anyType) Encode(p any) ([]byte, error) { return canon.Encode(p) }
func (anyType) Decode(b []byte) (any, error) {
	var v any
	if err := cborDecode(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}
func (anyType) Equal(a, b any) bool {
	ea, err1 := canon.Encode(a)
	eb, err2 := canon.Encode(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return string(ea) == string(eb)
}
func (anyType) Properties(any) map[string]any { return nil }

// Accepts makes "any" the universal subtype: a value of type "any" is
// accepted for a query for any type name. A query for "any" is satisfied
// only by types whose own Accepts says so (file_bundle among the builtins).
func (anyType) Accepts(string) bool { return true }

// --- bytes ---

type bytesType struct{}

func (bytesType) Name() string { return "bytes" }
func (bytesType) Version() int { return 1 }
func (bytesType) Validate(p any) error {
	if _, ok := p.([]byte); !ok {
		return &TypeValidationError{TypeName: "bytes", Reason: fmt.Sprintf("expected []byte, got %T", p)}
	}
	return nil
}
func (bytesType) Encode(p any) ([]byte, error) {
	b, ok := p.([]byte)
	if !ok {
		return nil, &TypeValidationError{TypeName: "bytes", Reason: fmt.Sprintf("expected []byte, got %T", p)}
	}
	return canon.Encode(b)
}
func (bytesType) Decode(b []byte) (any, error) {
	var out []byte
	if err := cborDecode(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
func (bytesType) Equal(a, b any) bool {
	ab, aok := a.([]byte)
	bb, bok := b.([]byte)
	if !aok || !bok || len(ab) != len(bb) {
		return false
	}
	for i := range ab {
		if ab[i] != bb[i] {
			return false
		}
	}
	return true
}
func (bytesType) Properties(p any) map[string]any {
	if b, ok := p.([]byte); ok {
		return map[string]any{"byte_size": len(b)}
	}
	return nil
}

// --- string ---

type stringType struct{}

func (stringType) Name() string { return "string" }
func (stringType) Version() int { return 1 }
func (stringType) Validate(p any) error {
	if _, ok := p.(string); !ok {
		return &TypeValidationError{TypeName: "string", Reason: fmt.Sprintf("expected string, got %T", p)}
	}
	return nil
}
func (stringType) Encode(p any) ([]byte, error) {
	s, ok := p.(string)
	if !ok {
		return nil, &TypeValidationError{TypeName: "string", Reason: fmt.Sprintf("expected string, got %T", p)}
	}
	return canon.Encode(s)
}
func (stringType) Decode(b []byte) (any, error) {
	var s string
	if err := cborDecode(b, &s); err != nil {
		return nil, err
	}
	return s, nil
}
func (stringType) Equal(a, b any) bool {
	as, aok := a.(string)
	bs, bok := b.(string)
	return aok && bok && as == bs
}
func (stringType) Properties(p any) map[string]any {
	if s, ok := p.(string); ok {
		return map[string]any{"length": len(s)}
	}
	return nil
}

// --- boolean ---

type booleanType struct{}

func (booleanType) Name() string { return "boolean" }
func (booleanType) Version() int { return 1 }
func (booleanType) Validate(p any) error {
	if _, ok := p.(bool); !ok {
		return &TypeValidationError{TypeName: "boolean", Reason: fmt.Sprintf("expected bool, got %T", p)}
	}
	return nil
}
func (booleanType) Encode(p any) ([]byte, error) {
	v, ok := p.(bool)
	if !ok {
		return nil, &TypeValidationError{TypeName: "boolean", Reason: fmt.Sprintf("expected bool, got %T", p)}
	}
	return canon.Encode(v)
}
func (booleanType) Decode(b []byte) (any, error) {
	var v bool
	if err := cborDecode(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}
func (booleanType) Equal(a, b any) bool {
	av, aok := a.(bool)
	bv, bok := b.(bool)
	return aok && bok && av == bv
}
func (booleanType) Properties(any) map[string]any { return nil }

// --- dict ---

type dictType struct{}

func (dictType) Name() string { return "dict" }
func (dictType) Version() int { return 1 }
func (dictType) Validate(p any) error {
	if _, ok := p.(map[string]any); !ok {
		return &TypeValidationError{TypeName: "dict", Reason: fmt.Sprintf("expected map[string]any, got %T", p)}
	}
	return nil
}
func (dictType) Encode(p any) ([]byte, error) {
	m, ok := p.(map[string]any)
	if !ok {
		return nil, &TypeValidationError{TypeName: "dict", Reason: fmt.Sprintf("expected map[string]any, got %T", p)}
	}
	return canon.Encode(m)
}
func (dictType) Decode(b []byte) (any, error) {
	var m map[string]any
	if err := cborDecode(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}
func (dictType) Equal(a, b any) bool {
	am, aok := a.(map[string]any)
	bm, bok := b.(map[string]any)
	if !aok || !bok {
		return false
	}
	ea, err1 := canon.Encode(am)
	eb, err2 := canon.Encode(bm)
	return err1 == nil && err2 == nil && string(ea) == string(eb)
}
func (dictType) Properties(p any) map[string]any {
	if m, ok := p.(map[string]any); ok {
		return map[string]any{"key_count": len(m)}
	}
	return nil
}

// --- file ---

// FilePayload is the in-memory representation of a "file" value: a name,
// declared content type, and the file's bytes.
type FilePayload struct {
	Name        string `cbor:"name"`
	ContentType string `cbor:"content_type,omitempty"`
	Data        []byte `cbor:"data"`
}

type fileType struct{}

func (fileType) Name() string { return "file" }
func (fileType) Version() int { return 1 }
func (fileType) Validate(p any) error {
	f, ok := p.(FilePayload)
	if !ok {
		return &TypeValidationError{TypeName: "file", Reason: fmt.Sprintf("expected FilePayload, got %T", p)}
	}
	if f.Name == "" {
		return &TypeValidationError{TypeName: "file", Path: "name", Reason: "must not be empty"}
	}
	return nil
}
func (fileType) Encode(p any) ([]byte, error) {
	f, ok := p.(FilePayload)
	if !ok {
		return nil, &TypeValidationError{TypeName: "file", Reason: fmt.Sprintf("expected FilePayload, got %T", p)}
	}
	return canon.Encode(f)
}
func (fileType) Decode(b []byte) (any, error) {
	var f FilePayload
	if err := cborDecode(b, &f); err != nil {
		return nil, err
	}
	return f, nil
}
func (fileType) Equal(a, b any) bool {
	fa, aok := a.(FilePayload)
	fb, bok := b.(FilePayload)
	if !aok || !bok {
		return false
	}
	return fa.Name == fb.Name && fa.ContentType == fb.ContentType && string(fa.Data) == string(fb.Data)
}
func (fileType) Properties(p any) map[string]any {
	f, ok := p.(FilePayload)
	if !ok {
		return nil
	}
	return map[string]any{"file_name": f.Name, "content_type": f.ContentType, "byte_size": len(f.Data)}
}

// --- file_bundle ---

// FileBundlePayload is an ordered collection of files, e.g. the contents
// of an imported directory.
type FileBundlePayload struct {
	Files []FilePayload `cbor:"files"`
}

type fileBundleType struct{}

func (fileBundleType) Name() string { return "file_bundle" }
func (fileBundleType) Version() int { return 1 }
func (fileBundleType) Validate(p any) error {
	if _, ok := p.(FileBundlePayload); !ok {
		return &TypeValidationError{TypeName: "file_bundle", Reason: fmt.Sprintf("expected FileBundlePayload, got %T", p)}
	}
	return nil
}
func (fileBundleType) Encode(p any) ([]byte, error) {
	fb, ok := p.(FileBundlePayload)
	if !ok {
		return nil, &TypeValidationError{TypeName: "file_bundle", Reason: fmt.Sprintf("expected FileBundlePayload, got %T", p)}
	}
	return canon.Encode(fb)
}
func (fileBundleType) Decode(b []byte) (any, error) {
	var fb FileBundlePayload
	if err := cborDecode(b, &fb); err != nil {
		return nil, err
	}
	return fb, nil
}
func (fileBundleType) Equal(a, b any) bool {
	fa, aok := a.(FileBundlePayload)
	fb, bok := b.(FileBundlePayload)
	if !aok || !bok || len(fa.Files) != len(fb.Files) {
		return false
	}
	ft := fileType{}
	for i := range fa.Files {
		if !ft.Equal(fa.Files[i], fb.Files[i]) {
			return false
		}
	}
	return true
}
func (fileBundleType) Properties(p any) map[string]any {
	fb, ok := p.(FileBundlePayload)
	if !ok {
		return nil
	}
	return map[string]any{"file_count": len(fb.Files)}
}

// Accepts declares the subtype relation named in spec.md §4.B: a query
// that accepts "any" is also satisfied by "file_bundle".
func (fileBundleType) Accepts(queryName string) bool {
	return queryName == "any"
}

// --- python_object (opaque, non-persistable per §9) ---

// OpaquePayload wraps an arbitrary in-memory value that has no declared
// canonical encoder. It may be passed between steps within a single
// process run but raises OpaqueNotPersistable if a caller attempts to
// persist it.
type OpaquePayload struct {
	Value any
}

type pythonObjectType struct{}

func (pythonObjectType) Name() string { return "python_object" }
func (pythonObjectType) Version() int { return 1 }
func (pythonObjectType) Validate(p any) error {
	if _, ok := p.(OpaquePayload); !ok {
		return &TypeValidationError{TypeName: "python_object", Reason: fmt.Sprintf("expected OpaquePayload, got %T", p)}
	}
	return nil
}

// ErrOpaqueNotPersistable is returned by Encode: python_object payloads
// may live in memory but are never given a canonical byte encoding.
var ErrOpaqueNotPersistable = fmt.Errorf("datatype: python_object payloads are not persistable")

func (pythonObjectType) Encode(any) ([]byte, error) { return nil, ErrOpaqueNotPersistable }
func (pythonObjectType) Decode([]byte) (any, error) { return nil, ErrOpaqueNotPersistable }
func (pythonObjectType) Equal(a, b any) bool {
	oa, aok := a.(OpaquePayload)
	ob, bok := b.(OpaquePayload)
	return aok && bok && oa.Value == ob.Value
}
func (pythonObjectType) Properties(any) map[string]any { return nil }

// --- table (engine-internal model type) ---

// TablePayload is a minimal in-memory tabular value: column names plus
// row data, enough to back table.from_csv / table.query in SPEC_FULL's
// worked scenario S2.
type TablePayload struct {
	Columns []string `cbor:"columns"`
	Rows    [][]any  `cbor:"rows"`
}

type tableType struct{}

func (tableType) Name() string { return "table" }
func (tableType) Version() int { return 1 }
func (tableType) Validate(p any) error {
	t, ok := p.(TablePayload)
	if !ok {
		return &TypeValidationError{TypeName: "table", Reason: fmt.Sprintf("expected TablePayload, got %T", p)}
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return &TypeValidationError{TypeName: "table", Path: fmt.Sprintf("rows[%d]", i), Reason: "row width does not match column count"}
		}
	}
	return nil
}
func (tableType) Encode(p any) ([]byte, error) {
	t, ok := p.(TablePayload)
	if !ok {
		return nil, &TypeValidationError{TypeName: "table", Reason: fmt.Sprintf("expected TablePayload, got %T", p)}
	}
	return canon.Encode(t)
}
func (tableType) Decode(b []byte) (any, error) {
	var t TablePayload
	if err := cborDecode(b, &t); err != nil {
		return nil, err
	}
	return t, nil
}
func (tableType) Equal(a, b any) bool {
	ta, aok := a.(TablePayload)
	tb, bok := b.(TablePayload)
	if !aok || !bok {
		return false
	}
	ea, err1 := canon.Encode(ta)
	eb, err2 := canon.Encode(tb)
	return err1 == nil && err2 == nil && string(ea) == string(eb)
}
func (tableType) Properties(p any) map[string]any {
	t, ok := p.(TablePayload)
	if !ok {
		return nil
	}
	return map[string]any{"row_count": len(t.Rows), "column_count": len(t.Columns)}
}

// --- query_result (engine-internal model type) ---

// QueryResultPayload is the output of a table query module.
type QueryResultPayload struct {
	Query   string   `cbor:"query"`
	Columns []string `cbor:"columns"`
	Rows    [][]any  `cbor:"rows"`
}

type queryResultType struct{}

func (queryResultType) Name() string { return "query_result" }
func (queryResultType) Version() int { return 1 }
func (queryResultType) Validate(p any) error {
	if _, ok := p.(QueryResultPayload); !ok {
		return &TypeValidationError{TypeName: "query_result", Reason: fmt.Sprintf("expected QueryResultPayload, got %T", p)}
	}
	return nil
}
func (queryResultType) Encode(p any) ([]byte, error) {
	q, ok := p.(QueryResultPayload)
	if !ok {
		return nil, &TypeValidationError{TypeName: "query_result", Reason: fmt.Sprintf("expected QueryResultPayload, got %T", p)}
	}
	return canon.Encode(q)
}
func (queryResultType) Decode(b []byte) (any, error) {
	var q QueryResultPayload
	if err := cborDecode(b, &q); err != nil {
		return nil, err
	}
	return q, nil
}
func (queryResultType) Equal(a, b any) bool {
	qa, aok := a.(QueryResultPayload)
	qb, bok := b.(QueryResultPayload)
	if !aok || !bok {
		return false
	}
	ea, err1 := canon.Encode(qa)
	eb, err2 := canon.Encode(qb)
	return err1 == nil && err2 == nil && string(ea) == string(eb)
}
func (queryResultType) Properties(p any) map[string]any {
	q, ok := p.(QueryResultPayload)
	if !ok {
		return nil
	}
	return map[string]any{"row_count": len(q.Rows)}
}
