// Package pipeline implements the pipeline structure and compilation
// (component G) and the pipeline state machine and controller
// (component H): a declarative step graph compiled into a staged
// execution plan, then driven through value-slot propagation.
package pipeline

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// InputLink describes how a step-input is wired: either to a
// pipeline-level input name or to another step's output field, per
// spec.md §4.G's `step_id.input_name ← {pipeline_input: name |
// step_output: step_id.field}` grammar.
type InputLink struct {
	PipelineInput string `yaml:"pipeline_input,omitempty" json:"pipeline_input,omitempty"`
	StepOutput    string `yaml:"step_output,omitempty" json:"step_output,omitempty"`
}

// IsPipelineInput reports whether this link reads from a pipeline input.
func (l InputLink) IsPipelineInput() bool { return l.PipelineInput != "" }

// StepOutputRef splits a "STEP.OUTPUT" step_output reference into its
// step id and field name.
func (l InputLink) StepOutputRef() (stepID, field string, err error) {
	for i := 0; i < len(l.StepOutput); i++ {
		if l.StepOutput[i] == '.' {
			return l.StepOutput[:i], l.StepOutput[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("pipeline: malformed step_output reference %q, want STEP.FIELD", l.StepOutput)
}

// StepDecl is one declared step: a step-id, a module_type + config (or a
// manifest hash, for a pre-resolved reference — not modeled here since
// this engine resolves module_type/config at compile time), and its
// input links.
type StepDecl struct {
	StepID       string               `yaml:"step_id" json:"step_id"`
	ModuleType   string               `yaml:"module_type" json:"module_type"`
	ModuleConfig map[string]any       `yaml:"module_config,omitempty" json:"module_config,omitempty"`
	InputLinks   map[string]InputLink `yaml:"input_links,omitempty" json:"input_links,omitempty"`
}

// Declaration is the structured document format named in spec.md §6:
// pipeline_name, doc, steps, and optional input/output aliases plus
// inline input literals.
type Declaration struct {
	PipelineName  string           `yaml:"pipeline_name" json:"pipeline_name"`
	Doc           string           `yaml:"doc,omitempty" json:"doc,omitempty"`
	Steps         []StepDecl       `yaml:"steps" json:"steps"`
	InputAliases  map[string]string `yaml:"input_aliases,omitempty" json:"input_aliases,omitempty"`
	OutputAliases map[string]string `yaml:"output_aliases,omitempty" json:"output_aliases,omitempty"`
	Inputs        map[string]any    `yaml:"inputs,omitempty" json:"inputs,omitempty"`
}

// ParseYAML decodes a Declaration from its YAML document form.
func ParseYAML(b []byte) (*Declaration, error) {
	var d Declaration
	if err := yaml.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("pipeline: parse declaration: %w", err)
	}
	return &d, nil
}
