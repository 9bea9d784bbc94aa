package pipeline

import (
	"fmt"
	"sync"

	"github.com/GoCodeAlone/pipeforge/canon"
)

// Validity is the flag a value slot carries alongside its value
// reference (spec.md §4.H).
type Validity int

const (
	Unset Validity = iota
	Valid
	Invalid
)

// Slot is one value slot: a field in {pipeline inputs, a step's
// inputs, a step's outputs, pipeline outputs}. Its ValueHash is the
// content hash of the value currently occupying it; UpdateCount is a
// monotonic counter bumped on every write, preserving causal order of
// updates to the slot.
type Slot struct {
	ValueHash   canon.Digest
	Validity    Validity
	UpdateCount uint64
}

func (s Slot) IsReady() bool { return s.Validity == Valid }

// stepSlots is the set of input/output slots belonging to one step.
type stepSlots struct {
	inputs  map[string]*Slot
	outputs map[string]*Slot
}

// Callbacks is the controller's notification contract (spec.md §4.H):
// four callback kinds fired after a logical transition's state updates
// have all been published.
type Callbacks struct {
	PipelineInputsChanged  func(fields []string)
	StepInputsChanged      func(stepID string, fields []string)
	StepOutputsChanged     func(stepID string, fields []string)
	PipelineOutputsChanged func(fields []string)
}

// StepNotReadyError is returned by ProcessStep when a step's input
// slots are not all Valid.
type StepNotReadyError struct {
	StepID string
}

func (e *StepNotReadyError) Error() string {
	return fmt.Sprintf("pipeline: step %q is not ready", e.StepID)
}

// Controller owns the single mutable copy of pipeline state (spec.md
// §5: "the controller owns the single mutable copy of pipeline state;
// all state mutations occur on a single controller thread"). All
// exported methods are safe for concurrent use; mu serializes every
// mutation so workers may call back in from multiple goroutines.
type Controller struct {
	mu              sync.Mutex
	structure       *Structure
	pipelineInputs  map[string]*Slot
	steps           map[string]*stepSlots
	pipelineOutputs map[string]*Slot
	callbacks       Callbacks
}

// NewController builds a Controller for a compiled Structure with all
// slots Unset.
func NewController(s *Structure, cb Callbacks) *Controller {
	c := &Controller{
		structure:       s,
		pipelineInputs:  map[string]*Slot{},
		steps:           map[string]*stepSlots{},
		pipelineOutputs: map[string]*Slot{},
		callbacks:       cb,
	}
	for name := range s.PipelineInputs {
		c.pipelineInputs[name] = &Slot{}
	}
	for id, st := range s.Steps {
		ss := &stepSlots{inputs: map[string]*Slot{}, outputs: map[string]*Slot{}}
		for field := range st.InputsSchema {
			ss.inputs[field] = &Slot{}
		}
		for field := range st.OutputSchema {
			ss.outputs[field] = &Slot{}
		}
		c.steps[id] = ss
	}
	for alias := range s.OutputAliases {
		c.pipelineOutputs[alias] = &Slot{}
	}
	return c
}

// SetPipelineInputs assigns value hashes to named pipeline inputs and
// deterministically propagates them to every downstream step input slot
// wired by a pipeline_input link, all within one logical tick, before
// any callback fires (spec.md §4.H).
func (c *Controller) SetPipelineInputs(values map[string]canon.Digest) {
	c.mu.Lock()

	changedPipelineInputs := make([]string, 0, len(values))
	stepFieldsChanged := map[string][]string{}

	for name, hash := range values {
		slot, ok := c.pipelineInputs[name]
		if !ok {
			continue
		}
		slot.ValueHash = hash
		slot.Validity = Valid
		slot.UpdateCount++
		changedPipelineInputs = append(changedPipelineInputs, name)

		for id, st := range c.structure.Steps {
			for field, link := range st.InputLinks {
				if link.IsPipelineInput() && link.PipelineInput == name {
					c.steps[id].inputs[field] = &Slot{ValueHash: hash, Validity: Valid, UpdateCount: slot.UpdateCount}
					stepFieldsChanged[id] = append(stepFieldsChanged[id], field)
				}
			}
		}
		// Implicit, un-linked step-input pipeline inputs: name is "STEP.FIELD".
		for id, st := range c.structure.Steps {
			for field := range st.InputsSchema {
				if _, linked := st.InputLinks[field]; linked {
					continue
				}
				if fmt.Sprintf("%s.%s", id, field) == name {
					c.steps[id].inputs[field] = &Slot{ValueHash: hash, Validity: Valid, UpdateCount: slot.UpdateCount}
					stepFieldsChanged[id] = append(stepFieldsChanged[id], field)
				}
			}
		}
	}

	c.mu.Unlock()

	if c.callbacks.PipelineInputsChanged != nil && len(changedPipelineInputs) > 0 {
		c.callbacks.PipelineInputsChanged(changedPipelineInputs)
	}
	if c.callbacks.StepInputsChanged != nil {
		for id, fields := range stepFieldsChanged {
			c.callbacks.StepInputsChanged(id, fields)
		}
	}
}

// StepIsReady reports whether every input slot of stepID is Valid.
func (c *Controller) StepIsReady(stepID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ss, ok := c.steps[stepID]
	if !ok {
		return false
	}
	for _, slot := range ss.inputs {
		if !slot.IsReady() {
			return false
		}
	}
	return true
}

// StepInputs returns a snapshot of stepID's resolved input value hashes.
// Returns StepNotReadyError if any input slot is not Valid.
func (c *Controller) StepInputs(stepID string) (map[string]canon.Digest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ss, ok := c.steps[stepID]
	if !ok {
		return nil, fmt.Errorf("pipeline: unknown step %q", stepID)
	}
	out := make(map[string]canon.Digest, len(ss.inputs))
	for field, slot := range ss.inputs {
		if !slot.IsReady() {
			return nil, &StepNotReadyError{StepID: stepID}
		}
		out[field] = slot.ValueHash
	}
	return out, nil
}

// PublishStepOutputs atomically writes a completed step's outputs, then
// propagates them to any downstream steps and output aliases wired to
// them, firing StepOutputsChanged and PipelineOutputsChanged after the
// whole transition's slots are updated (spec.md §4.I: "controller
// buffers outputs of a completing step and publishes them atomically").
func (c *Controller) PublishStepOutputs(stepID string, outputs map[string]canon.Digest) {
	c.mu.Lock()

	ss := c.steps[stepID]
	changedOutputs := make([]string, 0, len(outputs))
	downstreamChanged := map[string][]string{}
	pipelineOutputsChanged := []string{}

	for field, hash := range outputs {
		slot, ok := ss.outputs[field]
		if !ok {
			slot = &Slot{}
			ss.outputs[field] = slot
		}
		slot.ValueHash = hash
		slot.Validity = Valid
		slot.UpdateCount++
		changedOutputs = append(changedOutputs, field)

		for id, st := range c.structure.Steps {
			for inField, link := range st.InputLinks {
				if link.IsPipelineInput() {
					continue
				}
				depStep, depField, err := link.StepOutputRef()
				if err != nil || depStep != stepID || depField != field {
					continue
				}
				c.steps[id].inputs[inField] = &Slot{ValueHash: hash, Validity: Valid, UpdateCount: slot.UpdateCount}
				downstreamChanged[id] = append(downstreamChanged[id], inField)
			}
		}

		for alias, ref := range c.structure.OutputAliases {
			depStep, depField, err := (InputLink{StepOutput: ref}).StepOutputRef()
			if err != nil || depStep != stepID || depField != field {
				continue
			}
			c.pipelineOutputs[alias] = &Slot{ValueHash: hash, Validity: Valid, UpdateCount: slot.UpdateCount}
			pipelineOutputsChanged = append(pipelineOutputsChanged, alias)
		}
	}

	c.mu.Unlock()

	if c.callbacks.StepOutputsChanged != nil && len(changedOutputs) > 0 {
		c.callbacks.StepOutputsChanged(stepID, changedOutputs)
	}
	if c.callbacks.StepInputsChanged != nil {
		for id, fields := range downstreamChanged {
			c.callbacks.StepInputsChanged(id, fields)
		}
	}
	if c.callbacks.PipelineOutputsChanged != nil && len(pipelineOutputsChanged) > 0 {
		c.callbacks.PipelineOutputsChanged(pipelineOutputsChanged)
	}
}

// MarkStepFailed invalidates stepID's output slots without touching
// any already-completed sibling step (spec.md §7: "do not invalidate
// already-completed siblings").
func (c *Controller) MarkStepFailed(stepID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ss, ok := c.steps[stepID]
	if !ok {
		return
	}
	for _, slot := range ss.outputs {
		slot.Validity = Invalid
	}
}

// PipelineIsFinished reports whether every declared pipeline output
// alias slot is Valid.
func (c *Controller) PipelineIsFinished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, slot := range c.pipelineOutputs {
		if !slot.IsReady() {
			return false
		}
	}
	return true
}

// PipelineOutputs returns a snapshot of every resolved pipeline output.
func (c *Controller) PipelineOutputs() map[string]canon.Digest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]canon.Digest, len(c.pipelineOutputs))
	for alias, slot := range c.pipelineOutputs {
		if slot.IsReady() {
			out[alias] = slot.ValueHash
		}
	}
	return out
}

// ReadySteps returns the step ids whose input slots are all Valid and
// whose output slots are not yet all Valid (i.e. still runnable).
func (c *Controller) ReadySteps() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ready []string
	for id, ss := range c.steps {
		allIn := true
		for _, slot := range ss.inputs {
			if !slot.IsReady() {
				allIn = false
				break
			}
		}
		if !allIn {
			continue
		}
		done := len(ss.outputs) > 0
		for _, slot := range ss.outputs {
			if !slot.IsReady() {
				done = false
				break
			}
		}
		if done {
			continue
		}
		ready = append(ready, id)
	}
	return ready
}

// Structure returns the compiled structure this controller drives.
func (c *Controller) Structure() *Structure { return c.structure }
