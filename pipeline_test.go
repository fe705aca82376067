package chatflow

import (
	"context"
	"errors"
	"testing"
)

func TestNewPipeline_ValidChain(t *testing.T) {
	_, err := NewPipeline([]Step{
		newMultiplyStep(&factorParams{Factor: floatPtr(1)}),
		newDivideStep(&factorParams{Factor: floatPtr(1)}),
	})
	if err != nil {
		t.Errorf("NewPipeline() with matching types error = %v", err)
	}
}

func TestNewPipeline_TypeMismatch(t *testing.T) {
	_, err := NewPipeline([]Step{
		newTypedStep("a", TypeText, TypeNumber),
		newTypedStep("b", TypeText, TypeNumber),
	})
	if err == nil {
		t.Fatal("NewPipeline() with mismatched types should fail at construction")
	}
	var mismatch *TypeMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("error = %T, want *TypeMismatchError", err)
	}
	if mismatch.Step != "b" || mismatch.Want != TypeNumber || mismatch.Got != TypeText {
		t.Errorf("mismatch = %+v, want step b number/text", mismatch)
	}
}

func TestNewPipeline_WildcardSkipsLeadingSteps(t *testing.T) {
	// Leading wildcard outputs are skipped; the loader's concrete output
	// starts the chain.
	_, err := NewPipeline([]Step{
		newTypedStep("a", TypeAny, TypeAny),
		newTypedStep("b", TypeNone, TypeTable),
		newTypedStep("c", TypeTable, TypeTable),
	})
	if err != nil {
		t.Errorf("NewPipeline() error = %v", err)
	}
}

func TestNewPipeline_WildcardMatchesAnything(t *testing.T) {
	_, err := NewPipeline([]Step{
		newTypedStep("a", TypeNone, TypeTable),
		newTypedStep("b", TypeAny, TypeAny),
		newTypedStep("c", TypeTable, TypeText),
	})
	if err != nil {
		t.Errorf("NewPipeline() error = %v (wildcard step must not break the chain)", err)
	}
}

func TestNewPipeline_AllWildcardsTriviallyValid(t *testing.T) {
	_, err := NewPipeline([]Step{
		newTypedStep("a", TypeAny, TypeAny),
		newTypedStep("b", TypeAny, TypeAny),
	})
	if err != nil {
		t.Errorf("NewPipeline() with all-wildcard steps error = %v", err)
	}
}

func TestNewPipeline_Empty(t *testing.T) {
	if _, err := NewPipeline(nil); !errors.Is(err, ErrEmptyPipeline) {
		t.Errorf("NewPipeline(nil) error = %v, want ErrEmptyPipeline", err)
	}
}

func TestPipeline_Run_MultiplyDivide(t *testing.T) {
	pipe, err := NewPipeline([]Step{
		newMultiplyStep(&factorParams{Factor: floatPtr(3)}),
		newDivideStep(&factorParams{Factor: floatPtr(2)}),
	})
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}

	out, err := pipe.Run(context.Background(), NewPipelineContext(), Initial(float64(10)))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("Run() returned %d contexts, want 1", len(out))
	}
	if out[0].Data != float64(15) {
		t.Errorf("final payload = %v, want 15 (10*3/2)", out[0].Data)
	}
}

func TestPipeline_Run_AmbientParamPropagation(t *testing.T) {
	pipe, err := NewPipeline([]Step{
		newSetFactorStep(&factorParams{Factor: floatPtr(3)}),
		newMultiplyStep(nil),
	})
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}

	out, err := pipe.Run(context.Background(), NewPipelineContext(), Initial(float64(2)))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out[0].Data != float64(6) {
		t.Errorf("final payload = %v, want 6 (SetFactor writes ambient factor=3)", out[0].Data)
	}
}

func TestPipeline_Run_FanOutCardinality(t *testing.T) {
	pipe, err := NewPipeline([]Step{
		newMultiplyStep(&factorParams{Factor: floatPtr(1)}),
		newTriplerStep(),
		newIdentityStep(),
	})
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}

	out, err := pipe.Run(context.Background(), NewPipelineContext(), Initial(float64(1)))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("Run() returned %d contexts, want 3 (fan-out preserved)", len(out))
	}
	for i, want := range []float64{1, 2, 3} {
		if out[i].Data != want {
			t.Errorf("out[%d].Data = %v, want %v (fan-out order preserved)", i, out[i].Data, want)
		}
		if out[i].Name != "Identity" {
			t.Errorf("out[%d].Name = %q, want %q", i, out[i].Name, "Identity")
		}
	}
}

func TestPipeline_Run_CancellationShortCircuit(t *testing.T) {
	run := &fakeRun{id: "run-1", status: RunStatusRunning}
	pc := NewPipelineContext(WithRun(run))

	cancelAfterFirst := &cancelStep{run: run}
	cancelAfterFirst.BaseStep = NewBaseStep("CancelTrigger", TypeNumber, TypeNumber, nil, cancelAfterFirst)

	second := newMultiplyStep(&factorParams{Factor: floatPtr(10)})
	third := newDivideStep(&factorParams{Factor: floatPtr(2)})

	pipe, err := NewPipeline([]Step{cancelAfterFirst, second, third})
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}

	out, err := pipe.Run(context.Background(), pc, Initial(float64(4)))
	if err != nil {
		t.Fatalf("Run() error = %v (cancellation must not be an error)", err)
	}
	if out[0].Data != float64(4) {
		t.Errorf("final payload = %v, want 4 (steps 2 and 3 must not run)", out[0].Data)
	}
	if out[0].Name != "CancelTrigger" {
		t.Errorf("final Name = %q, want %q", out[0].Name, "CancelTrigger")
	}
}

// cancelStep flips its run to cancelling and passes the payload through,
// simulating an external cancellation landing mid-run.
type cancelStep struct {
	*BaseStep
	run *fakeRun
}

func (s *cancelStep) Run(ctx context.Context, params Params, sc *StepContext, pc *PipelineContext) (*StepOutput, error) {
	s.run.setStatus(RunStatusCancelling)
	return Single(sc.Data), nil
}

func TestPipeline_Run_ContextCancellationStopsCleanly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	first := &ctxCancelStep{cancel: cancel}
	first.BaseStep = NewBaseStep("First", TypeNumber, TypeNumber, nil, first)
	second := newMultiplyStep(&factorParams{Factor: floatPtr(10)})

	pipe, err := NewPipeline([]Step{first, second})
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}

	out, err := pipe.Run(ctx, NewPipelineContext(), Initial(float64(2)))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out[0].Data != float64(2) {
		t.Errorf("final payload = %v, want 2 (second step must not run)", out[0].Data)
	}
}

type ctxCancelStep struct {
	*BaseStep
	cancel context.CancelFunc
}

func (s *ctxCancelStep) Run(ctx context.Context, params Params, sc *StepContext, pc *PipelineContext) (*StepOutput, error) {
	s.cancel()
	return Single(sc.Data), nil
}

func TestPipeline_Run_ChainAudit(t *testing.T) {
	pipe, err := NewPipeline([]Step{
		newMultiplyStep(&factorParams{Factor: floatPtr(2)}),
		newTriplerStep(),
	})
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}

	if _, err := pipe.Run(context.Background(), NewPipelineContext(), Initial(float64(1))); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	chain := pipe.Chain()
	// Seed + multiply output + three tripler outputs.
	if len(chain) != 5 {
		t.Fatalf("Chain() length = %d, want 5", len(chain))
	}
	if chain[0].Name != InitialContextName {
		t.Errorf("chain[0].Name = %q, want %q", chain[0].Name, InitialContextName)
	}
	if chain[1].Name != "Multiply" {
		t.Errorf("chain[1].Name = %q, want %q", chain[1].Name, "Multiply")
	}
	for i := 2; i < 5; i++ {
		if chain[i].Name != "Tripler" {
			t.Errorf("chain[%d].Name = %q, want %q", i, chain[i].Name, "Tripler")
		}
	}
}

func TestPipeline_Run_FailedStepAbortsRun(t *testing.T) {
	boom := errors.New("parse failed")
	failing := &errorStep{err: boom}
	failing.BaseStep = NewBaseStep("Failing", TypeAny, TypeAny, nil, failing)

	pipe, err := NewPipeline([]Step{
		newIdentityStep(),
		failing,
		newIdentityStep(),
	})
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}

	_, err = pipe.Run(context.Background(), NewPipelineContext(), Initial(nil))
	if !errors.Is(err, boom) {
		t.Errorf("Run() error = %v, want the step's error", err)
	}
	// Partial progress stays observable through the chain.
	if len(pipe.Chain()) != 2 {
		t.Errorf("Chain() length = %d, want 2 (seed + first step output)", len(pipe.Chain()))
	}
}

func TestPipeline_Run_PipelineLogging(t *testing.T) {
	var handlers []*MemoryHandler
	factory := func(id string) LogHandler {
		h := NewMemoryHandler()
		handlers = append(handlers, h)
		return h
	}

	pipe, err := NewPipeline(
		[]Step{newIdentityStep()},
		WithName("audit"),
		WithDescription("logging smoke test"),
	)
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}

	pc := NewPipelineContext(WithLogFactory(factory))
	if _, err := pipe.Run(context.Background(), pc, Initial(nil)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// One handler for the pipeline scope, one for the single step.
	if len(handlers) != 2 {
		t.Fatalf("factory called %d times, want 2", len(handlers))
	}
	pipelineEntries := handlers[0].Entries()
	if len(pipelineEntries) < 2 {
		t.Fatalf("pipeline handler recorded %d entries, want at least start+finish", len(pipelineEntries))
	}
	if pipelineEntries[0].Event != EventPipelineStarted {
		t.Errorf("first event = %q, want %q", pipelineEntries[0].Event, EventPipelineStarted)
	}
	if last := pipelineEntries[len(pipelineEntries)-1]; last.Event != EventPipelineFinished {
		t.Errorf("last event = %q, want %q", last.Event, EventPipelineFinished)
	}
}
