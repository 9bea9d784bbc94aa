package processor

import (
	"context"
	"testing"

	"github.com/GoCodeAlone/pipeforge/archive/fsstore"
	"github.com/GoCodeAlone/pipeforge/canon"
	"github.com/GoCodeAlone/pipeforge/datatype"
	"github.com/GoCodeAlone/pipeforge/manifest"
	"github.com/GoCodeAlone/pipeforge/modkit"
	"github.com/GoCodeAlone/pipeforge/modkit/builtin"
	"github.com/GoCodeAlone/pipeforge/pipeline"
	"github.com/GoCodeAlone/pipeforge/value"
)

func newTestEngine(t *testing.T) (*Engine, *datatype.Registry) {
	t.Helper()
	types := datatype.NewRegistry()
	datatype.RegisterBuiltins(types)
	modules := modkit.NewRegistry()
	builtin.Register(modules, types)
	values := value.NewRegistry(types)

	store, err := fsstore.Open("test", t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return &Engine{Modules: modules, Values: values, Cache: manifest.NewCache(store)}, types
}

func nandStructure(t *testing.T, modules *modkit.Registry, types *datatype.Registry) *pipeline.Structure {
	t.Helper()
	d := &pipeline.Declaration{
		PipelineName: "nand",
		Steps: []pipeline.StepDecl{
			{
				StepID:     "and1",
				ModuleType: "logic.and",
				InputLinks: map[string]pipeline.InputLink{
					"a": {PipelineInput: "x"},
					"b": {PipelineInput: "y"},
				},
			},
			{
				StepID:     "not1",
				ModuleType: "logic.not",
				InputLinks: map[string]pipeline.InputLink{
					"a": {StepOutput: "and1.y"},
				},
			},
		},
		OutputAliases: map[string]string{"result": "not1.y"},
	}
	s, err := pipeline.Compile(d, modules, types)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return s
}

func TestSynchronousRunReadyDrivesPipelineToCompletion(t *testing.T) {
	engine, types := newTestEngine(t)
	s := nandStructure(t, engine.Modules, types)
	ctrl := pipeline.NewController(s, pipeline.Callbacks{})

	trueVal, err := engine.Values.Register(datatype.Schema{TypeName: "boolean"}, true, value.External("x"))
	if err != nil {
		t.Fatalf("register true: %v", err)
	}
	falseVal, err := engine.Values.Register(datatype.Schema{TypeName: "boolean"}, false, value.External("y"))
	if err != nil {
		t.Fatalf("register false: %v", err)
	}
	ctrl.SetPipelineInputs(map[string]canon.Digest{"x": trueVal.Hash, "y": falseVal.Hash})

	sync := NewSynchronous(engine)
	results := sync.RunReady(context.Background(), ctrl, "nand(true,false)")

	if !ctrl.PipelineIsFinished() {
		t.Fatalf("expected pipeline finished, results=%+v", results)
	}
	outputs := ctrl.PipelineOutputs()
	resultVal, err := engine.Values.GetByHash(outputs["result"])
	if err != nil {
		t.Fatalf("resolve result: %v", err)
	}
	if resultVal.Payload() != true {
		t.Fatalf("expected NAND(true,false)=true, got %v", resultVal.Payload())
	}
}

func TestSynchronousSecondRunReusesJobCache(t *testing.T) {
	engine, types := newTestEngine(t)
	s := nandStructure(t, engine.Modules, types)

	trueVal, _ := engine.Values.Register(datatype.Schema{TypeName: "boolean"}, true, value.External("x"))
	falseVal, _ := engine.Values.Register(datatype.Schema{TypeName: "boolean"}, false, value.External("y"))

	runOnce := func() []Result {
		ctrl := pipeline.NewController(s, pipeline.Callbacks{})
		ctrl.SetPipelineInputs(map[string]canon.Digest{"x": trueVal.Hash, "y": falseVal.Hash})
		return NewSynchronous(engine).RunReady(context.Background(), ctrl, "")
	}

	first := runOnce()
	for _, r := range first {
		if r.Cached {
			t.Fatalf("expected first run to be uncached, got %+v", r)
		}
	}

	second := runOnce()
	for _, r := range second {
		if !r.Cached {
			t.Fatalf("expected second run to hit job cache, got %+v", r)
		}
	}
}

func TestParallelRunReadyDrivesPipelineToCompletion(t *testing.T) {
	engine, types := newTestEngine(t)
	s := nandStructure(t, engine.Modules, types)
	ctrl := pipeline.NewController(s, pipeline.Callbacks{})

	trueVal, _ := engine.Values.Register(datatype.Schema{TypeName: "boolean"}, true, value.External("x"))
	falseVal, _ := engine.Values.Register(datatype.Schema{TypeName: "boolean"}, false, value.External("y"))
	ctrl.SetPipelineInputs(map[string]canon.Digest{"x": trueVal.Hash, "y": falseVal.Hash})

	par := NewParallel(engine, 4)
	par.RunReady(context.Background(), ctrl, "parallel nand")

	if !ctrl.PipelineIsFinished() {
		t.Fatalf("expected pipeline finished via parallel processor")
	}
}

func TestRunStepModuleFailureReturnsFailedResult(t *testing.T) {
	engine, types := newTestEngine(t)
	d := &pipeline.Declaration{
		PipelineName: "bad-and",
		Steps: []pipeline.StepDecl{
			{
				StepID:     "and1",
				ModuleType: "logic.and",
				InputLinks: map[string]pipeline.InputLink{
					"a": {PipelineInput: "x"},
					"b": {PipelineInput: "y"},
				},
			},
		},
	}
	s, err := pipeline.Compile(d, engine.Modules, types)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	ctrl := pipeline.NewController(s, pipeline.Callbacks{})

	// Register a non-boolean payload under a boolean schema's hash by
	// registering a value whose *declared* schema is boolean but whose
	// payload is a string - not possible via Register's validation, so
	// instead we drive the failure through the module's own type check
	// by handing it a dict payload registered under "dict".
	badVal, err := engine.Values.Register(datatype.Schema{TypeName: "dict"}, map[string]any{"x": 1}, value.External("bad"))
	if err != nil {
		t.Fatalf("register bad value: %v", err)
	}
	okVal, _ := engine.Values.Register(datatype.Schema{TypeName: "boolean"}, true, value.External("y"))

	ctrl.SetPipelineInputs(map[string]canon.Digest{"x": badVal.Hash, "y": okVal.Hash})

	result := engine.RunStep(context.Background(), ctrl, "and1", "")
	if result.Status != "failed" {
		t.Fatalf("expected failed status, got %+v", result)
	}
	if result.Err == nil {
		t.Fatalf("expected non-nil error")
	}
}
