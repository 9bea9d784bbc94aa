package pipeline

import (
	"fmt"
	"sort"

	"github.com/GoCodeAlone/pipeforge/canon"
	"github.com/GoCodeAlone/pipeforge/datatype"
	"github.com/GoCodeAlone/pipeforge/modkit"
)

// CycleError is returned by Compile when a declaration's step_output
// links form a cycle.
type CycleError struct {
	Steps []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("pipeline: cycle detected among steps %v", e.Steps)
}

// TypeMismatchError is returned by Compile when a link's source schema
// neither equals nor refines its target schema.
type TypeMismatchError struct {
	StepID, Field string
	SourceType    string
	TargetType    string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("pipeline: %s.%s: source type %q does not refine target type %q", e.StepID, e.Field, e.SourceType, e.TargetType)
}

// Step is a compiled step: its resolved input/output schemas, its
// input links, and its assigned stage index.
type Step struct {
	StepID       string
	ModuleType   string
	ModuleConfig map[string]any
	InputLinks   map[string]InputLink
	InputsSchema datatype.Map
	OutputSchema datatype.Map
	Stage        int
}

// Structure is the immutable, compiled pipeline structure named in
// spec.md §4.G: a DAG of steps with a stage index per step, the
// inferred pipeline input field set, and the declared output aliases.
type Structure struct {
	Name           string
	Doc            string
	Steps          map[string]*Step
	Order          []string // step ids in a stable, stage-then-declaration order
	PipelineInputs map[string]datatype.Schema
	OutputAliases  map[string]string // alias -> "STEP.FIELD"
	InputAliases   map[string]string
	Inputs         map[string]any
}

// Hash returns the pipeline's own canonical-encoding content hash,
// participating in lineage per spec.md §4.G.
func (s *Structure) Hash() (canon.Digest, error) {
	type wireLink struct {
		PipelineInput string `cbor:"pipeline_input,omitempty"`
		StepOutput    string `cbor:"step_output,omitempty"`
	}
	type wireStep struct {
		StepID       string              `cbor:"step_id"`
		ModuleType   string              `cbor:"module_type"`
		ModuleConfig map[string]any      `cbor:"module_config"`
		InputLinks   map[string]wireLink `cbor:"input_links"`
	}
	steps := make([]wireStep, 0, len(s.Order))
	for _, id := range s.Order {
		st := s.Steps[id]
		links := make(map[string]wireLink, len(st.InputLinks))
		for field, l := range st.InputLinks {
			links[field] = wireLink{PipelineInput: l.PipelineInput, StepOutput: l.StepOutput}
		}
		steps = append(steps, wireStep{
			StepID:       st.StepID,
			ModuleType:   st.ModuleType,
			ModuleConfig: st.ModuleConfig,
			InputLinks:   links,
		})
	}
	return canon.HashOf(struct {
		Name          string            `cbor:"pipeline_name"`
		Steps         []wireStep        `cbor:"steps"`
		OutputAliases map[string]string `cbor:"output_aliases"`
	}{s.Name, steps, s.OutputAliases})
}

// Compile validates d against modules and types, builds the DAG,
// assigns stage indices, and validates type compatibility across every
// link (spec.md §4.G steps 1-5).
func Compile(d *Declaration, modules *modkit.Registry, types *datatype.Registry) (*Structure, error) {
	steps := make(map[string]*Step, len(d.Steps))
	for _, sd := range d.Steps {
		if _, dup := steps[sd.StepID]; dup {
			return nil, fmt.Errorf("pipeline: duplicate step id %q", sd.StepID)
		}
		mod, err := modules.New(sd.ModuleType, sd.ModuleConfig)
		if err != nil {
			return nil, fmt.Errorf("pipeline: step %q: %w", sd.StepID, err)
		}
		steps[sd.StepID] = &Step{
			StepID:       sd.StepID,
			ModuleType:   sd.ModuleType,
			ModuleConfig: sd.ModuleConfig,
			InputLinks:   sd.InputLinks,
			InputsSchema: mod.InputsSchema(),
			OutputSchema: mod.OutputsSchema(),
		}
	}

	// Build dependency edges: step -> steps it depends on via step_output links.
	deps := make(map[string]map[string]bool, len(steps))
	for id, st := range steps {
		deps[id] = map[string]bool{}
		for _, link := range st.InputLinks {
			if link.IsPipelineInput() {
				continue
			}
			depID, _, err := link.StepOutputRef()
			if err != nil {
				return nil, fmt.Errorf("pipeline: step %q: %w", id, err)
			}
			if _, ok := steps[depID]; !ok {
				return nil, fmt.Errorf("pipeline: step %q links to unknown step %q", id, depID)
			}
			deps[id][depID] = true
		}
	}

	stage, _, err := assignStages(deps)
	if err != nil {
		return nil, err
	}
	for id, stg := range stage {
		steps[id].Stage = stg
	}
	order := make([]string, 0, len(d.Steps))
	for _, sd := range d.Steps {
		order = append(order, sd.StepID)
	}
	sort.SliceStable(order, func(i, j int) bool { return stage[order[i]] < stage[order[j]] })

	pipelineInputs := map[string]datatype.Schema{}
	for id, st := range steps {
		for field, link := range st.InputLinks {
			if !link.IsPipelineInput() {
				continue
			}
			schema, ok := st.InputsSchema[field]
			if !ok {
				return nil, fmt.Errorf("pipeline: step %q has no declared input %q", id, field)
			}
			if existing, ok := pipelineInputs[link.PipelineInput]; ok {
				if existing.TypeName != schema.TypeName {
					return nil, fmt.Errorf("pipeline: pipeline input %q is wired to incompatible types %q and %q", link.PipelineInput, existing.TypeName, schema.TypeName)
				}
				continue
			}
			pipelineInputs[link.PipelineInput] = schema
		}
		// Every non-linked step-input becomes an implicit pipeline input
		// named "STEP.FIELD" (spec.md §4.G.4: "the union of un-linked
		// step-inputs becomes the pipeline's input field set").
		for field, schema := range st.InputsSchema {
			if _, linked := st.InputLinks[field]; linked {
				continue
			}
			pipelineInputs[fmt.Sprintf("%s.%s", id, field)] = schema
		}
	}

	if err := validateLinkTypes(steps, types); err != nil {
		return nil, err
	}

	outputAliases := d.OutputAliases
	if outputAliases == nil {
		outputAliases = map[string]string{}
	}
	for alias, ref := range outputAliases {
		stepID, field, err := (InputLink{StepOutput: ref}).StepOutputRef()
		if err != nil {
			return nil, fmt.Errorf("pipeline: output alias %q: %w", alias, err)
		}
		st, ok := steps[stepID]
		if !ok {
			return nil, fmt.Errorf("pipeline: output alias %q references unknown step %q", alias, stepID)
		}
		if _, ok := st.OutputSchema[field]; !ok {
			return nil, fmt.Errorf("pipeline: output alias %q references unknown output %q on step %q", alias, field, stepID)
		}
	}

	return &Structure{
		Name:           d.PipelineName,
		Doc:            d.Doc,
		Steps:          steps,
		Order:          order,
		PipelineInputs: pipelineInputs,
		OutputAliases:  outputAliases,
		InputAliases:   d.InputAliases,
		Inputs:         d.Inputs,
	}, nil
}

// assignStages computes each step's stage index as (max stage of any
// input-supplying step) + 1, with pipeline-input-only steps at stage 1,
// via a Kahn-style topological sort that also detects cycles.
func assignStages(deps map[string]map[string]bool) (map[string]int, []string, error) {
	stage := make(map[string]int, len(deps))
	resolved := map[string]bool{}
	order := make([]string, 0, len(deps))

	for len(resolved) < len(deps) {
		progressed := false
		for id, ds := range deps {
			if resolved[id] {
				continue
			}
			ready := true
			maxDepStage := 0
			for dep := range ds {
				if !resolved[dep] {
					ready = false
					break
				}
				if stage[dep] > maxDepStage {
					maxDepStage = stage[dep]
				}
			}
			if !ready {
				continue
			}
			stage[id] = maxDepStage + 1
			resolved[id] = true
			order = append(order, id)
			progressed = true
		}
		if !progressed {
			remaining := make([]string, 0, len(deps)-len(resolved))
			for id := range deps {
				if !resolved[id] {
					remaining = append(remaining, id)
				}
			}
			return nil, nil, &CycleError{Steps: remaining}
		}
	}
	return stage, order, nil
}

// validateLinkTypes checks that every step_output link's source schema
// equals or refines its target schema (spec.md §4.G step 5).
func validateLinkTypes(steps map[string]*Step, types *datatype.Registry) error {
	for id, st := range steps {
		for field, link := range st.InputLinks {
			if link.IsPipelineInput() {
				continue
			}
			srcStepID, srcField, err := link.StepOutputRef()
			if err != nil {
				return err
			}
			srcStep := steps[srcStepID]
			srcSchema, ok := srcStep.OutputSchema[srcField]
			if !ok {
				return fmt.Errorf("pipeline: step %q input %q references unknown output %q on step %q", id, field, srcField, srcStepID)
			}
			targetSchema, ok := st.InputsSchema[field]
			if !ok {
				return fmt.Errorf("pipeline: step %q has no declared input %q", id, field)
			}
			if srcSchema.TypeName == targetSchema.TypeName {
				continue
			}
			if !datatype.Refines(types, srcSchema, targetSchema) {
				return &TypeMismatchError{StepID: id, Field: field, SourceType: srcSchema.TypeName, TargetType: targetSchema.TypeName}
			}
		}
	}
	return nil
}
