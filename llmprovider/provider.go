package llmprovider

import (
	"fmt"

	"github.com/petal-labs/iris/providers"
	// Auto-register common providers.
	_ "github.com/petal-labs/iris/providers/anthropic"
	_ "github.com/petal-labs/iris/providers/ollama"
	_ "github.com/petal-labs/iris/providers/openai"

	"github.com/palisade-labs/chatflow"
)

// NewClient creates a chatflow.LLMClient for the named provider. It delegates
// to the iris provider registry to instantiate the underlying provider.
func NewClient(name, apiKey string) (chatflow.LLMClient, error) {
	provider, err := providers.Create(name, apiKey)
	if err != nil {
		return nil, fmt.Errorf("creating provider %q: %w", name, err)
	}
	return &irisAdapter{provider: provider}, nil
}
