package pipeline

import (
	"testing"

	"github.com/GoCodeAlone/pipeforge/canon"
)

func compileNandPipeline(t *testing.T) *Structure {
	t.Helper()
	modules, types := newTestRegistries(t)
	d := &Declaration{
		PipelineName: "nand",
		Steps: []StepDecl{
			{
				StepID:     "and1",
				ModuleType: "logic.and",
				InputLinks: map[string]InputLink{
					"a": {PipelineInput: "x"},
					"b": {PipelineInput: "y"},
				},
			},
			{
				StepID:     "not1",
				ModuleType: "logic.not",
				InputLinks: map[string]InputLink{
					"a": {StepOutput: "and1.y"},
				},
			},
		},
		OutputAliases: map[string]string{"result": "not1.y"},
	}
	s, err := Compile(d, modules, types)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return s
}

func TestControllerPropagatesPipelineInputsToStep(t *testing.T) {
	s := compileNandPipeline(t)
	var stepChanged []string
	c := NewController(s, Callbacks{
		StepInputsChanged: func(stepID string, fields []string) {
			if stepID == "and1" {
				stepChanged = append(stepChanged, fields...)
			}
		},
	})

	hx, _ := canon.HashOf("true")
	hy, _ := canon.HashOf("false")
	c.SetPipelineInputs(map[string]canon.Digest{"x": hx, "y": hy})

	if !c.StepIsReady("and1") {
		t.Fatalf("expected and1 ready after both pipeline inputs set")
	}
	if c.StepIsReady("not1") {
		t.Fatalf("not1 should not be ready before and1 produces output")
	}
	if len(stepChanged) != 2 {
		t.Fatalf("expected 2 step-input-changed fields, got %v", stepChanged)
	}
}

func TestControllerPublishStepOutputsPropagatesDownstreamAndAlias(t *testing.T) {
	s := compileNandPipeline(t)
	var outputAliasChanged []string
	c := NewController(s, Callbacks{
		PipelineOutputsChanged: func(fields []string) { outputAliasChanged = append(outputAliasChanged, fields...) },
	})

	hx, _ := canon.HashOf("true")
	hy, _ := canon.HashOf("false")
	c.SetPipelineInputs(map[string]canon.Digest{"x": hx, "y": hy})

	andOut, _ := canon.HashOf("and-result")
	c.PublishStepOutputs("and1", map[string]canon.Digest{"y": andOut})

	if !c.StepIsReady("not1") {
		t.Fatalf("expected not1 ready after and1 published its output")
	}

	notOut, _ := canon.HashOf("not-result")
	c.PublishStepOutputs("not1", map[string]canon.Digest{"y": notOut})

	if !c.PipelineIsFinished() {
		t.Fatalf("expected pipeline finished after result alias resolved")
	}
	outputs := c.PipelineOutputs()
	if !outputs["result"].Equal(notOut) {
		t.Fatalf("expected pipeline output 'result' to equal not1's output")
	}
	if len(outputAliasChanged) != 1 || outputAliasChanged[0] != "result" {
		t.Fatalf("expected PipelineOutputsChanged to fire with [result], got %v", outputAliasChanged)
	}
}

func TestStepInputsReturnsNotReadyError(t *testing.T) {
	s := compileNandPipeline(t)
	c := NewController(s, Callbacks{})
	_, err := c.StepInputs("and1")
	if _, ok := err.(*StepNotReadyError); !ok {
		t.Fatalf("expected *StepNotReadyError, got %T: %v", err, err)
	}
}

func TestMarkStepFailedDoesNotInvalidateSiblings(t *testing.T) {
	s := compileNandPipeline(t)
	c := NewController(s, Callbacks{})

	hx, _ := canon.HashOf("true")
	hy, _ := canon.HashOf("false")
	c.SetPipelineInputs(map[string]canon.Digest{"x": hx, "y": hy})
	andOut, _ := canon.HashOf("and-result")
	c.PublishStepOutputs("and1", map[string]canon.Digest{"y": andOut})

	c.MarkStepFailed("not1")

	if !c.StepIsReady("and1") {
		t.Fatalf("and1's completed state should be untouched by not1's failure")
	}
}
