// Package operation implements the operation layer (component J): a
// polymorphic dispatch table from (operation_type, dispatch_key) to a
// manifest template, letting callers invoke "pretty_print" or
// "serialize" against a value without naming a concrete module_type.
package operation

import (
	"fmt"

	"github.com/GoCodeAlone/pipeforge/datatype"
	"github.com/GoCodeAlone/pipeforge/manifest"
)

// Template is the registered entry for one (operation_type, dispatch_key)
// pair: the module_type and config to submit, and how to rename the
// operation's declared input fields onto the module's actual input
// field names.
type Template struct {
	ModuleType   string
	ModuleConfig map[string]any
	// InputMap renames the operation's declared argument names to the
	// module's input field names, e.g. {"value": "encoded"} for
	// pretty_print -> pretty.print's "encoded" input.
	InputMap map[string]string
}

// dispatchKey is the (operation_type, dispatch_key) pair a Template is
// registered under.
type dispatchKey struct {
	OperationType string
	DataType      string
}

// UnknownOperationError is returned when no Template is registered for
// an (operationType, dataType) pair.
type UnknownOperationError struct {
	OperationType string
	DataType      string
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("operation: no module registered for operation %q on type %q", e.OperationType, e.DataType)
}

// Registry is the dispatch table built at engine startup from every
// registered module's operation annotations.
type Registry struct {
	templates map[dispatchKey]Template
}

// NewRegistry returns an empty operation dispatch table.
func NewRegistry() *Registry {
	return &Registry{templates: make(map[dispatchKey]Template)}
}

// Register adds a (operationType, dataType) -> Template entry. Later
// calls for the same key overwrite earlier ones, mirroring
// modkit.Registry.Register's last-wins semantics.
func (r *Registry) Register(operationType, dataType string, tmpl Template) {
	r.templates[dispatchKey{operationType, dataType}] = tmpl
}

// Resolve looks up the manifest template for (operationType, dataType),
// first trying an exact dispatch-key match, then falling back to any
// subtype relation types declares (e.g. a "file_bundle" value
// satisfying an operation registered under "any").
func (r *Registry) Resolve(types *datatype.Registry, operationType, dataType string) (Template, error) {
	if tmpl, ok := r.templates[dispatchKey{operationType, dataType}]; ok {
		return tmpl, nil
	}
	for key, tmpl := range r.templates {
		if key.OperationType != operationType {
			continue
		}
		if types.Accepts(dataType, key.DataType) {
			return tmpl, nil
		}
	}
	return Template{}, &UnknownOperationError{OperationType: operationType, DataType: dataType}
}

// BuildManifest resolves (operationType, dataType) to a concrete
// manifest and builds the renamed input map for apply_operation's
// principal value plus any extra arguments, inheriting all caching and
// lineage behavior the job submission path already provides (spec.md
// §4.J).
func (r *Registry) BuildManifest(types *datatype.Registry, operationType, dataType string, principalField string, extraArgs map[string]any) (manifest.Manifest, map[string]string, error) {
	tmpl, err := r.Resolve(types, operationType, dataType)
	if err != nil {
		return manifest.Manifest{}, nil, err
	}
	fieldMap := make(map[string]string, len(tmpl.InputMap)+1)
	for from, to := range tmpl.InputMap {
		fieldMap[from] = to
	}
	if _, ok := fieldMap[principalField]; !ok {
		fieldMap[principalField] = principalField
	}
	for k := range extraArgs {
		if _, ok := fieldMap[k]; !ok {
			fieldMap[k] = k
		}
	}
	return manifest.Manifest{ModuleType: tmpl.ModuleType, ModuleConfig: tmpl.ModuleConfig}, fieldMap, nil
}
