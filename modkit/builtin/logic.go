// Package builtin provides the minimal modules needed to exercise the
// engine end-to-end: the operation-contract stand-ins named in
// SPEC_FULL.md §4.E (serialize/deserialize, metadata extraction, pretty
// print) plus the small domain modules used by spec.md §8's worked
// scenarios (logic.and/logic.not for S1, table.from_csv/table.query for
// S2). Each is a small, single-purpose, config-driven unit in the style
// of the teacher's module/data_transformer.go.
package builtin

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/pipeforge/datatype"
	"github.com/GoCodeAlone/pipeforge/modkit"
)

// logicAnd computes the boolean AND of inputs "a" and "b".
type logicAnd struct{}

func NewLogicAnd(map[string]any) (modkit.Module, error) { return logicAnd{}, nil }

func (logicAnd) InputsSchema() datatype.Map {
	return datatype.Map{
		"a": {TypeName: "boolean"},
		"b": {TypeName: "boolean"},
	}
}

func (logicAnd) OutputsSchema() datatype.Map {
	return datatype.Map{"y": {TypeName: "boolean"}}
}

func (logicAnd) Process(_ context.Context, inputs modkit.ValueMap) (modkit.ValueMap, error) {
	a, ok := inputs["a"].(bool)
	if !ok {
		return nil, &modkit.Failure{Field: "a", Reason: "expected boolean"}
	}
	b, ok := inputs["b"].(bool)
	if !ok {
		return nil, &modkit.Failure{Field: "b", Reason: "expected boolean"}
	}
	return modkit.ValueMap{"y": a && b}, nil
}

// logicNot computes the boolean negation of input "a".
type logicNot struct{}

func NewLogicNot(map[string]any) (modkit.Module, error) { return logicNot{}, nil }

func (logicNot) InputsSchema() datatype.Map {
	return datatype.Map{"a": {TypeName: "boolean"}}
}

func (logicNot) OutputsSchema() datatype.Map {
	return datatype.Map{"y": {TypeName: "boolean"}}
}

func (logicNot) Process(_ context.Context, inputs modkit.ValueMap) (modkit.ValueMap, error) {
	a, ok := inputs["a"].(bool)
	if !ok {
		return nil, &modkit.Failure{Field: "a", Reason: "expected boolean"}
	}
	return modkit.ValueMap{"y": !a}, nil
}

// Register wires every built-in module into reg under its canonical
// module_type name. types is the data-type registry metadata.extract
// delegates to for its Properties extractor.
func Register(reg *modkit.Registry, types *datatype.Registry) {
	reg.Register("logic.and", NewLogicAnd)
	reg.Register("logic.not", NewLogicNot)
	reg.Register("table.from_csv", NewTableFromCSV)
	reg.Register("table.query", NewTableQuery)
	reg.Register("serialize.bytes", NewSerializeBytes)
	reg.Register("deserialize.bytes", NewDeserializeBytes)
	reg.Register("metadata.extract", NewMetadataExtract(types))
	reg.Register("pretty.print", NewPrettyPrint)
}

// configString reads a required string config option, surfacing a
// *modkit.Failure (not a crash) when it is missing or the wrong type —
// a bad module_config is a recoverable, reportable condition.
func configString(cfg map[string]any, key string) (string, error) {
	v, ok := cfg[key]
	if !ok {
		return "", &modkit.Failure{Field: key, Reason: "module_config option is required"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &modkit.Failure{Field: key, Reason: fmt.Sprintf("expected string, got %T", v)}
	}
	return s, nil
}
