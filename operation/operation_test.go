package operation

import (
	"testing"

	"github.com/GoCodeAlone/pipeforge/datatype"
)

func TestResolveExactMatch(t *testing.T) {
	reg := NewRegistry()
	RegisterBuiltins(reg)

	tmpl, err := reg.Resolve(datatype.NewRegistry(), "serialize", "bytes")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tmpl.ModuleType != "serialize.bytes" {
		t.Fatalf("unexpected module type %q", tmpl.ModuleType)
	}
}

func TestResolveFallsBackToSubtype(t *testing.T) {
	types := datatype.NewRegistry()
	datatype.RegisterBuiltins(types)
	reg := NewRegistry()
	RegisterBuiltins(reg)

	tmpl, err := reg.Resolve(types, "extract_metadata", "file_bundle")
	if err != nil {
		t.Fatalf("resolve via subtype fallback: %v", err)
	}
	if tmpl.ModuleType != "metadata.extract" {
		t.Fatalf("unexpected module type %q", tmpl.ModuleType)
	}
}

func TestResolveUnknownOperation(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Resolve(datatype.NewRegistry(), "render_value", "table")
	if _, ok := err.(*UnknownOperationError); !ok {
		t.Fatalf("expected *UnknownOperationError, got %T: %v", err, err)
	}
}

func TestBuildManifestRenamesPrincipalField(t *testing.T) {
	types := datatype.NewRegistry()
	datatype.RegisterBuiltins(types)
	reg := NewRegistry()
	RegisterBuiltins(reg)

	m, fieldMap, err := reg.BuildManifest(types, "pretty_print", "bytes", "value", nil)
	if err != nil {
		t.Fatalf("build manifest: %v", err)
	}
	if m.ModuleType != "pretty.print" {
		t.Fatalf("unexpected module type %q", m.ModuleType)
	}
	if fieldMap["value"] != "encoded" {
		t.Fatalf("expected principal field renamed to 'encoded', got %q", fieldMap["value"])
	}
}
