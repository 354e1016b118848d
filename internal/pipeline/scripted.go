package pipeline

import (
	"context"
	"time"

	"github.com/sctennis77/zazzle-agent-sub000/internal/domain"
)

// Step is one reported stage of a ScriptedPipeline run.
type Step struct {
	Stage    string
	Progress int

	// Delay is slept before the step is reported. Zero in tests.
	Delay time.Duration

	// Err aborts the run with this error after the step is reported.
	Err error
}

// ScriptedPipeline plays back a fixed sequence of progress steps. It
// stands in for the real generation pipeline in the demo binaries and
// in tests; cooperative cancellation works exactly as it would against
// the real pipeline because every step goes through the report
// callback.
type ScriptedPipeline struct {
	Steps []Step
}

// NewScriptedPipeline returns a pipeline that reports the given steps
// in order.
func NewScriptedPipeline(steps ...Step) *ScriptedPipeline {
	return &ScriptedPipeline{Steps: steps}
}

// DefaultSteps is the stage sequence used by the demo binaries.
func DefaultSteps(stepDelay time.Duration) []Step {
	return []Step{
		{Stage: "fetching source post", Progress: 10, Delay: stepDelay},
		{Stage: "generating text", Progress: 35, Delay: stepDelay},
		{Stage: "generating image", Progress: 65, Delay: stepDelay},
		{Stage: "creating product", Progress: 90, Delay: stepDelay},
		{Stage: "building affiliate link", Progress: 100, Delay: stepDelay},
	}
}

// Run reports each step in order, honoring ctx and the cancellation
// error returned by report.
func (p *ScriptedPipeline) Run(
	ctx context.Context,
	task *domain.Task,
	report ProgressFunc,
) error {
	for _, step := range p.Steps {
		if step.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(step.Delay):
			}
		}

		if err := report(step.Stage, step.Progress); err != nil {
			return err
		}

		if step.Err != nil {
			return step.Err
		}
	}
	return nil
}
