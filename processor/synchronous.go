package processor

import (
	"context"

	"github.com/GoCodeAlone/pipeforge/pipeline"
)

// Synchronous runs one step to completion per invocation on the
// caller's own goroutine — no parallelism (spec.md §4.I).
type Synchronous struct {
	Engine *Engine
}

// NewSynchronous returns a Synchronous processor over engine.
func NewSynchronous(engine *Engine) *Synchronous {
	return &Synchronous{Engine: engine}
}

// RunStep runs stepID to completion, blocking the caller.
func (s *Synchronous) RunStep(ctx context.Context, ctrl *pipeline.Controller, stepID, comment string) Result {
	return s.Engine.RunStep(ctx, ctrl, stepID, comment)
}

// RunReady repeatedly drains ctrl.ReadySteps(), running each to
// completion in the order ReadySteps returns them, until no step is ready
// (either the pipeline finished or all remaining steps are blocked on a
// failed sibling). A step that does not complete does not stop the rest
// of its round; RunReady also returns once a round completes no step.
func (s *Synchronous) RunReady(ctx context.Context, ctrl *pipeline.Controller, comment string) []Result {
	var results []Result
	for {
		ready := ctrl.ReadySteps()
		if len(ready) == 0 {
			return results
		}
		progressed := false
		for _, stepID := range ready {
			r := s.RunStep(ctx, ctrl, stepID, comment)
			results = append(results, r)
			if r.Status == "completed" {
				progressed = true
			}
		}
		if !progressed {
			return results
		}
	}
}
