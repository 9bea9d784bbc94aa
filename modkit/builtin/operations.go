package builtin

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/GoCodeAlone/pipeforge/datatype"
	"github.com/GoCodeAlone/pipeforge/modkit"
)

// serializeBytes is the module backing the "serialize" operation type
// for the bytes data type (spec.md §4.J): wraps a bytes payload as
// itself, the identity case that lets the round-trip property (§8.8)
// exercise the operation dispatch path without a real codec module in
// scope.
type serializeBytes struct{}

func NewSerializeBytes(map[string]any) (modkit.Module, error) { return serializeBytes{}, nil }

func (serializeBytes) InputsSchema() datatype.Map {
	return datatype.Map{"value": {TypeName: "bytes"}}
}

func (serializeBytes) OutputsSchema() datatype.Map {
	return datatype.Map{"serialized": {TypeName: "bytes"}}
}

func (serializeBytes) Process(_ context.Context, inputs modkit.ValueMap) (modkit.ValueMap, error) {
	b, ok := inputs["value"].([]byte)
	if !ok {
		return nil, &modkit.Failure{Field: "value", Reason: "expected bytes"}
	}
	return modkit.ValueMap{"serialized": b}, nil
}

// deserializeBytes inverts serializeBytes.
type deserializeBytes struct{}

func NewDeserializeBytes(map[string]any) (modkit.Module, error) { return deserializeBytes{}, nil }

func (deserializeBytes) InputsSchema() datatype.Map {
	return datatype.Map{"serialized": {TypeName: "bytes"}}
}

func (deserializeBytes) OutputsSchema() datatype.Map {
	return datatype.Map{"value": {TypeName: "bytes"}}
}

func (deserializeBytes) Process(_ context.Context, inputs modkit.ValueMap) (modkit.ValueMap, error) {
	b, ok := inputs["serialized"].([]byte)
	if !ok {
		return nil, &modkit.Failure{Field: "serialized", Reason: "expected bytes"}
	}
	return modkit.ValueMap{"value": b}, nil
}

// metadataExtract is the module backing the "extract_metadata" operation
// type (spec.md §4.J): it delegates to a DataType's Properties
// extractor. It is constructed with the data-type registry bound at
// context-build time so Process can resolve its "type_name" input
// without reaching into global state.
type metadataExtract struct {
	types *datatype.Registry
}

// NewMetadataExtract returns a modkit.Factory closed over types. Pass
// the context's data-type registry at wiring time; the factory itself
// ignores its module_config argument, since the data type arrives as the
// "type_name" input at Process time next to the value it is pointed at.
func NewMetadataExtract(types *datatype.Registry) modkit.Factory {
	return func(map[string]any) (modkit.Module, error) {
		return metadataExtract{types: types}, nil
	}
}

func (metadataExtract) InputsSchema() datatype.Map {
	return datatype.Map{
		"value":     {TypeName: "any"},
		"type_name": {TypeName: "string"},
	}
}

func (metadataExtract) OutputsSchema() datatype.Map {
	return datatype.Map{"metadata": {TypeName: "dict"}}
}

func (m metadataExtract) Process(_ context.Context, inputs modkit.ValueMap) (modkit.ValueMap, error) {
	if m.types == nil {
		return nil, &modkit.Crash{Err: fmt.Errorf("metadata.extract: no data-type registry bound")}
	}
	typeName, ok := inputs["type_name"].(string)
	if !ok {
		return nil, &modkit.Failure{Field: "type_name", Reason: "expected string"}
	}
	typ, ok := m.types.Lookup(typeName)
	if !ok {
		return nil, &modkit.Failure{Field: "type_name", Reason: fmt.Sprintf("unknown data type %q", typeName)}
	}
	props := typ.Properties(inputs["value"])
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return modkit.ValueMap{"metadata": out}, nil
}

// prettyPrint decodes a CBOR-encoded bytes value and renders the decoded
// structure with Go's %+v formatting (e.g. "map[journal:Nature]"); the
// text is neither indented nor CBOR diagnostic notation. Deliberately not
// HTML/terminal rendering, which
// spec.md §1 keeps an external collaborator's concern.
type prettyPrint struct{}

func NewPrettyPrint(map[string]any) (modkit.Module, error) { return prettyPrint{}, nil }

func (prettyPrint) InputsSchema() datatype.Map {
	return datatype.Map{"encoded": {TypeName: "bytes"}}
}

func (prettyPrint) OutputsSchema() datatype.Map {
	return datatype.Map{"text": {TypeName: "string"}}
}

func (prettyPrint) Process(_ context.Context, inputs modkit.ValueMap) (modkit.ValueMap, error) {
	b, ok := inputs["encoded"].([]byte)
	if !ok {
		return nil, &modkit.Failure{Field: "encoded", Reason: "expected bytes"}
	}
	var diag any
	if err := cbor.Unmarshal(b, &diag); err != nil {
		return nil, &modkit.Failure{Field: "encoded", Reason: fmt.Sprintf("not valid cbor: %v", err)}
	}
	return modkit.ValueMap{"text": fmt.Sprintf("%+v", diag)}, nil
}
