package steps

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/palisade-labs/chatflow"
)

// fakeLLM records requests and returns a canned completion.
type fakeLLM struct {
	reply    string
	err      error
	requests []chatflow.LLMRequest
}

func (f *fakeLLM) Complete(ctx context.Context, req chatflow.LLMRequest) (chatflow.LLMResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return chatflow.LLMResponse{}, f.err
	}
	return chatflow.LLMResponse{Text: f.reply, Model: req.Model, Provider: "fake"}, nil
}

func TestLlmCompletion_RendersPromptAndReturnsText(t *testing.T) {
	llm := &fakeLLM{reply: "Mostly greetings."}
	pc := chatflow.NewPipelineContext(chatflow.WithLLMClient(llm))

	step := NewLlmCompletion(&LlmCompletionParams{
		Prompt: strPtr("Summarize this chat:\n{{.input}}"),
		Model:  strPtr("gpt-4o"),
	})

	out, err := step.Invoke(context.Background(), chatflow.Initial("hello\nhi"), pc)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if out[0].Data != "Mostly greetings." {
		t.Errorf("Data = %v, want the completion text", out[0].Data)
	}

	if len(llm.requests) != 1 {
		t.Fatalf("LLM called %d times, want 1", len(llm.requests))
	}
	req := llm.requests[0]
	if req.Prompt != "Summarize this chat:\nhello\nhi" {
		t.Errorf("Prompt = %q, want the rendered template", req.Prompt)
	}
	if req.Model != "gpt-4o" {
		t.Errorf("Model = %q, want gpt-4o", req.Model)
	}
	if req.Temperature == nil || *req.Temperature != llmTemperature {
		t.Errorf("Temperature = %v, want the fixed %v", req.Temperature, llmTemperature)
	}
}

func TestLlmCompletion_PromptMustUseInput(t *testing.T) {
	pc := chatflow.NewPipelineContext(chatflow.WithLLMClient(&fakeLLM{}))
	step := NewLlmCompletion(&LlmCompletionParams{Prompt: strPtr("No variables here")})

	_, err := step.Invoke(context.Background(), chatflow.Initial("x"), pc)
	if err == nil {
		t.Fatal("Invoke() with an input-less prompt should fail")
	}
	if !strings.Contains(err.Error(), "input") {
		t.Errorf("error = %v, want it to name the missing variable", err)
	}
}

func TestLlmCompletion_PromptRejectsUnknownVariables(t *testing.T) {
	pc := chatflow.NewPipelineContext(chatflow.WithLLMClient(&fakeLLM{}))
	step := NewLlmCompletion(&LlmCompletionParams{Prompt: strPtr("{{.input}} {{.persona}}")})

	_, err := step.Invoke(context.Background(), chatflow.Initial("x"), pc)
	if err == nil {
		t.Fatal("Invoke() with an unknown template variable should fail")
	}
	if !strings.Contains(err.Error(), "persona") {
		t.Errorf("error = %v, want it to name the unknown variable", err)
	}
}

func TestLlmCompletion_MissingPrompt(t *testing.T) {
	pc := chatflow.NewPipelineContext(chatflow.WithLLMClient(&fakeLLM{}))
	step := NewLlmCompletion(nil)

	_, err := step.Invoke(context.Background(), chatflow.Initial("x"), pc)
	if !errors.Is(err, chatflow.ErrMissingParam) {
		t.Errorf("error = %v, want ErrMissingParam", err)
	}
}

func TestLlmCompletion_NoLLMService(t *testing.T) {
	step := NewLlmCompletion(&LlmCompletionParams{Prompt: strPtr("{{.input}}")})

	_, err := step.Invoke(context.Background(), chatflow.Initial("x"), chatflow.NewPipelineContext())
	if !errors.Is(err, chatflow.ErrNoRun) {
		t.Errorf("error = %v, want ErrNoRun", err)
	}
}

func TestLlmCompletion_ProviderErrorPropagates(t *testing.T) {
	boom := errors.New("rate limited")
	pc := chatflow.NewPipelineContext(chatflow.WithLLMClient(&fakeLLM{err: boom}))
	step := NewLlmCompletion(&LlmCompletionParams{Prompt: strPtr("{{.input}}")})

	_, err := step.Invoke(context.Background(), chatflow.Initial("x"), pc)
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want the provider error", err)
	}
}

func TestLlmCompletion_PromptFromAmbientParams(t *testing.T) {
	llm := &fakeLLM{reply: "ok"}
	pc := chatflow.NewPipelineContext(
		chatflow.WithLLMClient(llm),
		chatflow.WithParams(map[string]any{"prompt": "Echo: {{.input}}"}),
	)
	step := NewLlmCompletion(nil)

	if _, err := step.Invoke(context.Background(), chatflow.Initial("hey"), pc); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if llm.requests[0].Prompt != "Echo: hey" {
		t.Errorf("Prompt = %q, want the ambient template rendered", llm.requests[0].Prompt)
	}
}
