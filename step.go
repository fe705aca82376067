package chatflow

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Step is the unit of pipeline computation. Concrete steps embed *BaseStep
// and implement StepRunner; the pipeline only sees this interface.
type Step interface {
	// Name returns the step's name, also used to key per-step ambient
	// parameters and to tag output contexts.
	Name() string

	// InputType declares what the step consumes. TypeAny is the wildcard.
	InputType() DataType

	// OutputType declares what the step produces. TypeAny is the wildcard.
	OutputType() DataType

	// Invoke runs the full step lifecycle against one input context and
	// returns the output context(s). More than one output fans the
	// pipeline out.
	Invoke(ctx context.Context, sc *StepContext, pc *PipelineContext) ([]*StepContext, error)
}

// StepRunner is the computation contract concrete steps implement. The
// params argument is the merged and validated parameter set for this
// invocation; type-assert it back to the step's concrete Params type.
type StepRunner interface {
	Run(ctx context.Context, params Params, sc *StepContext, pc *PipelineContext) (*StepOutput, error)
}

// Preflighter is an optional structural precondition on the input context,
// checked after parameter validation and before Run.
type Preflighter interface {
	PreflightCheck(sc *StepContext) error
}

// StepOutput wraps the context(s) a runner produced.
type StepOutput struct {
	Contexts []*StepContext
}

// Single wraps data in one unnamed output context.
func Single(data any) *StepOutput {
	return &StepOutput{Contexts: []*StepContext{NewStepContext(data)}}
}

// SingleContext wraps an already built context.
func SingleContext(sc *StepContext) *StepOutput {
	return &StepOutput{Contexts: []*StepContext{sc}}
}

// FanOut wraps several contexts; the next pipeline stage runs once per
// context, in order.
func FanOut(contexts ...*StepContext) *StepOutput {
	return &StepOutput{Contexts: contexts}
}

// BaseStep carries the declared types, parameter schema, and per-invocation
// identity shared by every step. Embed a *BaseStep created with NewBaseStep
// in the concrete step type.
type BaseStep struct {
	name    string
	inType  DataType
	outType DataType
	params  Params
	runner  StepRunner

	// Per-invocation state, reassigned by Invoke so reusing one step
	// instance across runs is safe and gets independent logging.
	pc      *PipelineContext
	id      string
	logger  *Logger
	handler LogHandler
}

// NewBaseStep builds the embedded base for a concrete step. A nil params
// defaults to NoParams. The runner is the concrete step itself.
func NewBaseStep(name string, in, out DataType, params Params, runner StepRunner) *BaseStep {
	if params == nil {
		params = &NoParams{}
	}
	return &BaseStep{
		name:    name,
		inType:  in,
		outType: out,
		params:  params,
		runner:  runner,
	}
}

// Name returns the step's name.
func (s *BaseStep) Name() string { return s.name }

// InputType returns the declared input type.
func (s *BaseStep) InputType() DataType { return s.inType }

// OutputType returns the declared output type.
func (s *BaseStep) OutputType() DataType { return s.outType }

// Params returns the step's configured (unmerged) parameters.
func (s *BaseStep) Params() Params { return s.params }

// Logger returns the logger for the current invocation. Valid inside Run.
func (s *BaseStep) Logger() *Logger { return s.logger }

// InvocationID returns the unique id of the current invocation.
func (s *BaseStep) InvocationID() string { return s.id }

// CreateResource forwards to the bound PipelineContext, scoped to this step.
func (s *BaseStep) CreateResource(ctx context.Context, data any, name string, serialize bool, metadata map[string]any) (*Resource, error) {
	return s.pc.CreateResource(ctx, data, name, serialize, metadata)
}

// initialize binds the pipeline context and assigns a fresh invocation id,
// logger, and log handler.
func (s *BaseStep) initialize(pc *PipelineContext) {
	s.pc = pc
	s.id = uuid.NewString()
	s.logger = NewLogger(s.name, s.id)
	s.handler = nil
	if factory := pc.LogFactory(); factory != nil {
		s.handler = factory(s.id)
		s.logger.Attach(s.handler)
	}
}

// Invoke runs one step lifecycle: initialize, merge and validate parameters,
// preflight, run, and name the outputs. The log handler is detached and a
// completion line emitted on every exit path. Parameter and preflight
// failures surface as *StepError naming the step; runner errors propagate
// unchanged.
func (s *BaseStep) Invoke(ctx context.Context, sc *StepContext, pc *PipelineContext) (out []*StepContext, err error) {
	s.initialize(pc)
	started := time.Now()

	defer func() {
		elapsed := time.Since(started)
		fields := map[string]any{
			"run_id":     pc.RunID(),
			"step":       s.name,
			"elapsed_ms": elapsed.Milliseconds(),
		}
		if err != nil {
			fields["error"] = err.Error()
			s.logger.Emit(LogError, EventStepFailed, s.name+" failed", fields)
		} else {
			s.logger.Emit(LogInfo, EventStepFinished, s.name+" complete", fields)
		}
		if s.handler != nil {
			s.logger.Detach(s.handler)
			s.handler = nil
		}
	}()

	s.logger.Emit(LogInfo, EventStepStarted, "running "+s.name, map[string]any{
		"run_id": pc.RunID(),
		"step":   s.name,
	})

	merged, err := MergeParams(s.params, pc.Params, s.scopedParams(pc))
	if err != nil {
		return nil, &StepError{Step: s.name, Err: err}
	}
	if err = CheckParams(merged); err != nil {
		return nil, &StepError{Step: s.name, Err: err}
	}

	if pf, ok := s.runner.(Preflighter); ok {
		if pErr := pf.PreflightCheck(sc); pErr != nil {
			err = &StepError{Step: s.name, Err: pErr}
			return nil, err
		}
	}

	result, err := s.runner.Run(ctx, merged, sc, pc)
	if err != nil {
		return nil, err
	}
	if result == nil || len(result.Contexts) == 0 {
		err = &StepError{Step: s.name, Err: ErrNoOutput}
		return nil, err
	}

	for _, c := range result.Contexts {
		if c.Name == "" {
			c.Name = s.name
		}
	}
	return result.Contexts, nil
}

// scopedParams returns the ambient bag entry keyed by this step's name, if
// it is a map.
func (s *BaseStep) scopedParams(pc *PipelineContext) map[string]any {
	scoped, _ := pc.Params[s.name].(map[string]any)
	return scoped
}
