package agent

import (
	"fmt"

	"github.com/kalambet/agentrelay/internal/ollama"
)

// Backend names.
const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
)

// Config selects and configures the reasoning backend.
type Config struct {
	Backend       string
	Model         string
	OllamaURL     string
	OpenAIBaseURL string
	OpenAIAPIKey  string
}

// NewBuilder returns a Builder for the configured backend. Tools are only
// offered by backends that support function calling.
func NewBuilder(cfg Config, tools []Tool) (Builder, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("agent model is not configured")
	}
	switch cfg.Backend {
	case BackendOllama, "":
		client := ollama.New(cfg.OllamaURL)
		return func(p Persona) (Agent, error) {
			return NewOllamaAgent(client, cfg.Model, p), nil
		}, nil
	case BackendOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai backend requires an API key (openai.api_key)")
		}
		client := NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
		return func(p Persona) (Agent, error) {
			return NewOpenAIAgent(client, cfg.Model, p, tools), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown agent backend %q (want %s or %s)", cfg.Backend, BackendOllama, BackendOpenAI)
	}
}
