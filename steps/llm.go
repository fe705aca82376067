package steps

import (
	"context"
	"fmt"
	"strings"
	"text/template"
	"text/template/parse"

	"github.com/palisade-labs/chatflow"
)

// llmTemperature is the fixed sampling temperature for completion steps.
// Variability belongs in the prompt, not in per-run sampling drift.
const llmTemperature = 1.0

// LlmCompletionParams configure the completion step.
type LlmCompletionParams struct {
	chatflow.BaseParams

	// Prompt is a text/template with exactly one free variable, "input",
	// bound to the incoming text payload.
	Prompt *string `json:"prompt" required:"true"`

	// Model selects the provider model; empty uses the provider default.
	Model *string `json:"model"`
}

// LlmCompletion renders the prompt template against the incoming text and
// returns the model's completion as the new payload. The LLM client comes
// from the pipeline context's run.
type LlmCompletion struct {
	*chatflow.BaseStep
}

// NewLlmCompletion creates the completion step.
func NewLlmCompletion(params *LlmCompletionParams) *LlmCompletion {
	if params == nil {
		params = &LlmCompletionParams{}
	}
	s := &LlmCompletion{}
	s.BaseStep = chatflow.NewBaseStep("LlmCompletion", chatflow.TypeText, chatflow.TypeText, params, s)
	return s
}

// PreflightCheck requires a string payload.
func (s *LlmCompletion) PreflightCheck(sc *chatflow.StepContext) error {
	if _, ok := sc.Data.(string); !ok {
		return fmt.Errorf("expected text payload, got %T", sc.Data)
	}
	return nil
}

// Run renders the prompt and calls the LLM service.
func (s *LlmCompletion) Run(ctx context.Context, params chatflow.Params, sc *chatflow.StepContext, pc *chatflow.PipelineContext) (*chatflow.StepOutput, error) {
	p := params.(*LlmCompletionParams)
	input := sc.Data.(string)

	tmpl, err := parsePromptTemplate(*p.Prompt)
	if err != nil {
		return nil, err
	}

	var prompt strings.Builder
	if err := tmpl.Execute(&prompt, map[string]any{"input": input}); err != nil {
		return nil, fmt.Errorf("rendering prompt: %w", err)
	}

	llm, err := pc.LLMService()
	if err != nil {
		return nil, err
	}

	model := ""
	if p.Model != nil {
		model = *p.Model
	}
	temp := llmTemperature
	resp, err := llm.Complete(ctx, chatflow.LLMRequest{
		Model:       model,
		Prompt:      prompt.String(),
		Temperature: &temp,
	})
	if err != nil {
		return nil, fmt.Errorf("llm completion: %w", err)
	}

	s.Logger().Infof("completion via %s/%s, %d tokens", resp.Provider, resp.Model, resp.Usage.TotalTokens)
	return chatflow.Single(resp.Text), nil
}

// parsePromptTemplate parses the prompt and enforces the single-variable
// contract: the template must reference .input at least once and nothing
// else.
func parsePromptTemplate(prompt string) (*template.Template, error) {
	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(prompt)
	if err != nil {
		return nil, fmt.Errorf("invalid prompt template: %w", err)
	}

	fields := map[string]bool{}
	collectFields(tmpl.Tree.Root, fields)
	if !fields["input"] {
		return nil, fmt.Errorf("prompt template must reference {{.input}}")
	}
	for name := range fields {
		if name != "input" {
			return nil, fmt.Errorf("prompt template references unknown variable %q", name)
		}
	}
	return tmpl, nil
}

// collectFields gathers the top-level field names the template references.
func collectFields(node parse.Node, fields map[string]bool) {
	switch n := node.(type) {
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, child := range n.Nodes {
			collectFields(child, fields)
		}
	case *parse.ActionNode:
		collectPipeFields(n.Pipe, fields)
	case *parse.IfNode:
		collectPipeFields(n.Pipe, fields)
		collectFields(n.List, fields)
		collectFields(n.ElseList, fields)
	case *parse.RangeNode:
		collectPipeFields(n.Pipe, fields)
		collectFields(n.List, fields)
		collectFields(n.ElseList, fields)
	case *parse.WithNode:
		collectPipeFields(n.Pipe, fields)
		collectFields(n.List, fields)
		collectFields(n.ElseList, fields)
	}
}

func collectPipeFields(pipe *parse.PipeNode, fields map[string]bool) {
	if pipe == nil {
		return
	}
	for _, cmd := range pipe.Cmds {
		for _, arg := range cmd.Args {
			if f, ok := arg.(*parse.FieldNode); ok && len(f.Ident) > 0 {
				fields[f.Ident[0]] = true
			}
		}
	}
}

var _ chatflow.Step = (*LlmCompletion)(nil)
