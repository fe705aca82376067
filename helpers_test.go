package chatflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// factorParams is the shared schema for the arithmetic test steps.
type factorParams struct {
	BaseParams
	Factor *float64 `json:"factor" required:"true"`
}

func floatPtr(f float64) *float64 { return &f }

// multiplyStep multiplies a numeric payload by its factor.
type multiplyStep struct {
	*BaseStep
}

func newMultiplyStep(params *factorParams) *multiplyStep {
	if params == nil {
		params = &factorParams{}
	}
	s := &multiplyStep{}
	s.BaseStep = NewBaseStep("Multiply", TypeNumber, TypeNumber, params, s)
	return s
}

func (s *multiplyStep) Run(ctx context.Context, params Params, sc *StepContext, pc *PipelineContext) (*StepOutput, error) {
	p := params.(*factorParams)
	n, ok := sc.Data.(float64)
	if !ok {
		return nil, fmt.Errorf("expected numeric payload, got %T", sc.Data)
	}
	return Single(n * *p.Factor), nil
}

// divideStep divides a numeric payload by its factor.
type divideStep struct {
	*BaseStep
}

func newDivideStep(params *factorParams) *divideStep {
	if params == nil {
		params = &factorParams{}
	}
	s := &divideStep{}
	s.BaseStep = NewBaseStep("Divide", TypeNumber, TypeNumber, params, s)
	return s
}

func (s *divideStep) Run(ctx context.Context, params Params, sc *StepContext, pc *PipelineContext) (*StepOutput, error) {
	p := params.(*factorParams)
	n, ok := sc.Data.(float64)
	if !ok {
		return nil, fmt.Errorf("expected numeric payload, got %T", sc.Data)
	}
	return Single(n / *p.Factor), nil
}

// setFactorStep writes its factor into the ambient parameter bag and passes
// the payload through.
type setFactorStep struct {
	*BaseStep
}

func newSetFactorStep(params *factorParams) *setFactorStep {
	if params == nil {
		params = &factorParams{}
	}
	s := &setFactorStep{}
	s.BaseStep = NewBaseStep("SetFactor", TypeNumber, TypeNumber, params, s)
	return s
}

func (s *setFactorStep) Run(ctx context.Context, params Params, sc *StepContext, pc *PipelineContext) (*StepOutput, error) {
	p := params.(*factorParams)
	pc.Params["factor"] = *p.Factor
	return Single(sc.Data), nil
}

// triplerStep fans one numeric context out into three.
type triplerStep struct {
	*BaseStep
}

func newTriplerStep() *triplerStep {
	s := &triplerStep{}
	s.BaseStep = NewBaseStep("Tripler", TypeNumber, TypeNumber, nil, s)
	return s
}

func (s *triplerStep) Run(ctx context.Context, params Params, sc *StepContext, pc *PipelineContext) (*StepOutput, error) {
	n := sc.Data.(float64)
	return FanOut(
		NewStepContext(n),
		NewStepContext(n+1),
		NewStepContext(n+2),
	), nil
}

// identityStep passes any payload through unchanged.
type identityStep struct {
	*BaseStep
}

func newIdentityStep() *identityStep {
	s := &identityStep{}
	s.BaseStep = NewBaseStep("Identity", TypeAny, TypeAny, nil, s)
	return s
}

func (s *identityStep) Run(ctx context.Context, params Params, sc *StepContext, pc *PipelineContext) (*StepOutput, error) {
	return Single(sc.Data), nil
}

// typedStep declares arbitrary input/output types for chain validation tests.
type typedStep struct {
	*BaseStep
}

func newTypedStep(name string, in, out DataType) *typedStep {
	s := &typedStep{}
	s.BaseStep = NewBaseStep(name, in, out, nil, s)
	return s
}

func (s *typedStep) Run(ctx context.Context, params Params, sc *StepContext, pc *PipelineContext) (*StepOutput, error) {
	return Single(sc.Data), nil
}

// fakeRun implements Run for tests.
type fakeRun struct {
	id       string
	group    string
	analysis string
	team     string

	mu      sync.Mutex
	status  RunStatus
	outputs []*Resource
	llm     LLMClient
	llmErr  error
}

func (r *fakeRun) ID() string         { return r.id }
func (r *fakeRun) GroupID() string    { return r.group }
func (r *fakeRun) AnalysisID() string { return r.analysis }
func (r *fakeRun) Team() string       { return r.team }

func (r *fakeRun) Status(ctx context.Context) (RunStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, nil
}

func (r *fakeRun) setStatus(s RunStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = s
}

func (r *fakeRun) LLMService() (LLMClient, error) {
	if r.llmErr != nil {
		return nil, r.llmErr
	}
	if r.llm == nil {
		return nil, errors.New("no llm configured")
	}
	return r.llm, nil
}

func (r *fakeRun) AddOutput(ctx context.Context, res *Resource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs = append(r.outputs, res)
	return nil
}

// fakeLLM returns a canned completion and records prompts.
type fakeLLM struct {
	reply   string
	prompts []string
}

func (f *fakeLLM) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	f.prompts = append(f.prompts, req.Prompt)
	return LLMResponse{Text: f.reply, Model: req.Model}, nil
}

// memStore is a map-backed ResourceStore for engine tests.
type memStore struct {
	mu      sync.Mutex
	nextID  int
	bodies  map[string][]byte
	records map[string]*Resource
}

func newMemStore() *memStore {
	return &memStore{
		bodies:  make(map[string][]byte),
		records: make(map[string]*Resource),
	}
}

func (s *memStore) Get(ctx context.Context, id string) (*Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("resource %s not found", id)
	}
	return res, nil
}

func (s *memStore) Create(ctx context.Context, res *Resource, body io.Reader) (*Resource, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("res-%d", s.nextID)
	created := NewResource(id, res.Team, res.Name, res.Type, res.Metadata, func(ctx context.Context) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	})
	s.bodies[id] = data
	s.records[id] = created
	return created, nil
}

// textOnlySerializer round-trips string payloads.
type textOnlySerializer struct{}

func (textOnlySerializer) Read(r io.Reader, metadata map[string]any) (any, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (textOnlySerializer) Write(data any, w io.Writer) error {
	s, ok := data.(string)
	if !ok {
		return fmt.Errorf("expected string, got %T", data)
	}
	_, err := io.WriteString(w, s)
	return err
}

func (textOnlySerializer) Metadata(data any) map[string]any { return map[string]any{} }
func (textOnlySerializer) Summary(data any) string          { return "text" }
func (textOnlySerializer) ResourceType() ResourceType       { return ResourceText }

// textOnlyRegistry resolves every lookup to the text serializer.
type textOnlyRegistry struct{}

func (textOnlyRegistry) ByName(name string) (Serializer, error)    { return textOnlySerializer{}, nil }
func (textOnlyRegistry) ByType(t ResourceType) (Serializer, error) { return textOnlySerializer{}, nil }
func (textOnlyRegistry) ForData(data any) (Serializer, error)      { return textOnlySerializer{}, nil }

// Ensure the fakes satisfy their contracts.
var (
	_ Run                = (*fakeRun)(nil)
	_ LLMClient          = (*fakeLLM)(nil)
	_ ResourceStore      = (*memStore)(nil)
	_ Serializer         = textOnlySerializer{}
	_ SerializerRegistry = textOnlyRegistry{}
	_ Step               = (*multiplyStep)(nil)
	_ StepRunner         = (*multiplyStep)(nil)
)
