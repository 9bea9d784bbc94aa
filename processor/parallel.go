package processor

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/GoCodeAlone/pipeforge/pipeline"
)

// Parallel enqueues ready steps onto a bounded worker pool; each task
// resolves the module, looks up the job cache, and either reuses
// cached outputs or calls process, publishing results back to the
// controller (spec.md §4.I). Workers are safe to run concurrently:
// the engine makes no assumption about reentrancy within a single
// module, but distinct steps never share mutable state outside the
// controller, which serializes its own mutations.
type Parallel struct {
	Engine      *Engine
	Concurrency int
}

// NewParallel returns a Parallel processor with the given worker-pool
// concurrency. A concurrency of 0 or less is treated as 1.
func NewParallel(engine *Engine, concurrency int) *Parallel {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Parallel{Engine: engine, Concurrency: concurrency}
}

// RunReady dispatches every currently-ready step onto the worker pool
// and blocks until that stage's steps complete, then re-evaluates
// ctrl.ReadySteps() for newly-unblocked downstream steps. It repeats
// until no step is ready. This keeps ordering within a stage
// unspecified (spec.md §4.I) while guaranteeing stage n+1 never
// observes a partial stage-n state: each step publishes its outputs to
// ctrl as soon as it completes, but ReadySteps is only re-evaluated after
// the round's errgroup.Wait returns.
func (p *Parallel) RunReady(ctx context.Context, ctrl *pipeline.Controller, comment string) []Result {
	var (
		all   []Result
		mu    sync.Mutex
	)
	for {
		ready := ctrl.ReadySteps()
		if len(ready) == 0 {
			return all
		}

		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(p.Concurrency)

		progressed := false
		for _, stepID := range ready {
			stepID := stepID
			eg.Go(func() error {
				r := p.Engine.RunStep(egCtx, ctrl, stepID, comment)
				mu.Lock()
				all = append(all, r)
				if r.Status == "completed" {
					progressed = true
				}
				mu.Unlock()
				return nil
			})
		}
		// errgroup.WithContext cancels egCtx on the first task error; our
		// tasks never return an error themselves (failures are captured in
		// Result), so Wait only ever returns nil or the parent ctx's
		// cancellation/timeout.
		_ = eg.Wait()

		if ctx.Err() != nil {
			return all
		}
		if !progressed {
			return all
		}
	}
}
