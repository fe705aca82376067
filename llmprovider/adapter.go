// Package llmprovider bridges iris LLM providers to the engine's LLMClient
// interface. Provider instances come from the iris registry; the adapter
// translates the engine's flat prompt/system request shape into an iris chat
// request and maps the response back.
package llmprovider

import (
	"context"
	"fmt"

	iriscore "github.com/petal-labs/iris/core"

	"github.com/palisade-labs/chatflow"
)

// irisAdapter wraps an iris Provider to implement chatflow.LLMClient.
type irisAdapter struct {
	provider iriscore.Provider
}

// Complete sends a synchronous completion request via the iris provider.
func (a *irisAdapter) Complete(ctx context.Context, req chatflow.LLMRequest) (chatflow.LLMResponse, error) {
	chatResp, err := a.provider.Chat(ctx, a.toRequest(req))
	if err != nil {
		return chatflow.LLMResponse{}, fmt.Errorf("provider chat failed: %w", err)
	}
	return a.fromResponse(chatResp), nil
}

// toRequest converts a chatflow.LLMRequest to an iris ChatRequest.
func (a *irisAdapter) toRequest(req chatflow.LLMRequest) *iriscore.ChatRequest {
	messages := make([]iriscore.Message, 0, 2)

	if req.System != "" {
		messages = append(messages, iriscore.Message{
			Role:    iriscore.RoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, iriscore.Message{
		Role:    iriscore.RoleUser,
		Content: req.Prompt,
	})

	chatReq := &iriscore.ChatRequest{
		Model:    iriscore.ModelID(req.Model),
		Messages: messages,
	}

	if req.Temperature != nil {
		temp := float32(*req.Temperature)
		chatReq.Temperature = &temp
	}
	if req.MaxTokens != nil {
		chatReq.MaxTokens = req.MaxTokens
	}

	return chatReq
}

// fromResponse converts an iris ChatResponse to a chatflow.LLMResponse.
func (a *irisAdapter) fromResponse(resp *iriscore.ChatResponse) chatflow.LLMResponse {
	return chatflow.LLMResponse{
		Text:     resp.Output,
		Model:    string(resp.Model),
		Provider: a.provider.ID(),
		Usage: chatflow.LLMUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
}

// Ensure interface compliance at compile time.
var _ chatflow.LLMClient = (*irisAdapter)(nil)
