package chatflow

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Pipeline is an ordered sequence of steps with fail-fast type checking. It
// accumulates every context produced during a run, seed included, in an
// append-only chain kept for audit and forensics.
type Pipeline struct {
	steps       []Step
	name        string
	description string
	chain       []*StepContext
}

// PipelineOption configures a Pipeline at construction.
type PipelineOption func(*Pipeline)

// WithName sets the pipeline's display name.
func WithName(name string) PipelineOption {
	return func(p *Pipeline) { p.name = name }
}

// WithDescription sets the pipeline's description.
func WithDescription(description string) PipelineOption {
	return func(p *Pipeline) { p.description = description }
}

// NewPipeline validates the steps' declared types and returns the pipeline.
// Walking the sequence, leading steps with wildcard output are skipped; the
// first concrete output type becomes the chain type, and every later step's
// input must be the wildcard or match it, the step's own concrete output
// becoming the new chain type. A mismatch fails construction immediately: a
// mis-composed pipeline should never be schedulable. A pipeline of only
// wildcard steps is trivially valid.
func NewPipeline(steps []Step, opts ...PipelineOption) (*Pipeline, error) {
	if len(steps) == 0 {
		return nil, ErrEmptyPipeline
	}
	if err := validateStepTypes(steps); err != nil {
		return nil, err
	}
	p := &Pipeline{steps: steps}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func validateStepTypes(steps []Step) error {
	i := 0
	current := TypeAny
	for ; i < len(steps); i++ {
		if out := steps[i].OutputType(); out != TypeAny {
			current = out
			i++
			break
		}
	}
	for ; i < len(steps); i++ {
		if in := steps[i].InputType(); in != TypeAny && in != current {
			return &TypeMismatchError{
				Step:     steps[i].Name(),
				Position: i,
				Want:     current,
				Got:      in,
			}
		}
		if out := steps[i].OutputType(); out != TypeAny {
			current = out
		}
	}
	return nil
}

// Name returns the pipeline's display name.
func (p *Pipeline) Name() string { return p.name }

// Description returns the pipeline's description.
func (p *Pipeline) Description() string { return p.description }

// Steps returns the ordered step sequence.
func (p *Pipeline) Steps() []Step { return p.steps }

// Chain returns every context produced so far, in execution order, seed
// included. Past entries are never removed or mutated, so a failed run's
// partial progress stays observable.
func (p *Pipeline) Chain() []*StepContext { return p.chain }

// Run executes the steps in order on the calling goroutine. A step returning
// several contexts causes the next step to run once per context, in order,
// with one level of flattening per stage. After every step the run's
// cancellation flag is polled; a cancelled run stops cleanly and returns the
// last produced context(s) without error. Step errors abort the run and
// propagate unchanged.
func (p *Pipeline) Run(ctx context.Context, pc *PipelineContext, initial *StepContext) ([]*StepContext, error) {
	if pc == nil {
		pc = NewPipelineContext()
	}
	if initial == nil {
		initial = Initial(nil)
	}

	pc.runID = uuid.NewString()
	started := time.Now()
	logger := NewLogger(p.logName(), pc.runID)
	if factory := pc.LogFactory(); factory != nil {
		handler := factory(pc.runID)
		logger.Attach(handler)
		defer logger.Detach(handler)
	}

	logger.Emit(LogInfo, EventPipelineStarted, "running pipeline "+p.logName(), map[string]any{
		"run_id":   pc.runID,
		"pipeline": p.logName(),
		"steps":    len(p.steps),
	})

	p.chain = append(p.chain, initial)
	tail := []*StepContext{initial}

	for _, step := range p.steps {
		var next []*StepContext
		if len(tail) == 1 {
			outs, err := step.Invoke(ctx, tail[0], pc)
			if err != nil {
				return nil, err
			}
			next = outs
		} else {
			logger.Infof("running step %s over %d contexts", step.Name(), len(tail))
			for _, c := range tail {
				outs, err := step.Invoke(ctx, c, pc)
				if err != nil {
					return nil, err
				}
				next = append(next, outs...)
			}
			logger.Infof("step %s processed %d contexts", step.Name(), len(tail))
		}
		tail = next
		p.chain = append(p.chain, tail...)

		if ctx.Err() != nil || pc.IsCancelled(ctx) {
			logger.Emit(LogInfo, EventPipelineCancelled, "pipeline cancelled after "+step.Name(), map[string]any{
				"run_id":     pc.runID,
				"step":       step.Name(),
				"elapsed_ms": time.Since(started).Milliseconds(),
			})
			return tail, nil
		}
	}

	logger.Emit(LogInfo, EventPipelineFinished, "pipeline complete", map[string]any{
		"run_id":     pc.runID,
		"contexts":   len(tail),
		"elapsed_ms": time.Since(started).Milliseconds(),
	})
	return tail, nil
}

func (p *Pipeline) logName() string {
	if p.name != "" {
		return p.name
	}
	return "pipeline"
}
