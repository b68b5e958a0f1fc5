package config

import (
	"fmt"

	"github.com/tiancaiamao/sessioncompact/pkg/agent"
	"github.com/tiancaiamao/sessioncompact/pkg/compact"
	"github.com/tiancaiamao/sessioncompact/pkg/llm"
)

// Model API identifiers.
const (
	APIAnthropicMessages = "anthropic-messages"
	APIOpenAICompletions = "openai-completions"
)

// KeyResolver returns the API key for a provider.
type KeyResolver func(provider string) (string, error)

// BuildCandidates returns the summarization candidates in fallback order.
// A configured remote endpoint replaces every model.
func (c *Config) BuildCandidates(resolveKey KeyResolver) ([]agent.ModelCandidate, error) {
	if c.Compaction.RemoteEndpoint != "" {
		return []agent.ModelCandidate{{
			Name:    "remote",
			Backend: compact.NewRemoteBackend(c.Compaction.RemoteEndpoint),
		}}, nil
	}
	if resolveKey == nil {
		resolveKey = ResolveAPIKey
	}

	models := append([]ModelConfig{c.Model}, c.FallbackModels...)
	candidates := make([]agent.ModelCandidate, 0, len(models))
	for _, m := range models {
		if m.ID == "" {
			continue
		}
		key, err := resolveKey(m.Provider)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", m.ID, err)
		}
		backend, err := NewBackend(m, key)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, agent.ModelCandidate{Name: m.Provider + "/" + m.ID, Backend: backend})
	}
	if len(candidates) == 0 {
		return nil, agent.ErrNoCandidates
	}
	return candidates, nil
}

// NewBackend creates the model backend for m.
func NewBackend(m ModelConfig, apiKey string) (llm.Backend, error) {
	switch m.API {
	case APIAnthropicMessages:
		return llm.NewAnthropicBackend(apiKey, m.BaseURL, m.ID), nil
	case APIOpenAICompletions, "":
		return &llm.OpenAIBackend{Model: m.GetLLMModel(), APIKey: apiKey}, nil
	}
	return nil, fmt.Errorf("model %s: unsupported api %q", m.ID, m.API)
}
