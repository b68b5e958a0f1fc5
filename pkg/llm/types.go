package llm

import (
	"context"
	"strings"
	"sync"
)

// Model represents an LLM model configuration.
type Model struct {
	ID            string `json:"id"`       // e.g., "gpt-4o-mini", "claude-3-5-haiku-latest"
	Provider      string `json:"provider"` // e.g., "zai", "openai", "anthropic"
	BaseURL       string `json:"baseUrl"`  // e.g., "https://api.openai.com/v1"
	API           string `json:"api"`      // "openai-completions" or "anthropic-messages"
	ContextWindow int    `json:"contextWindow,omitempty"`
}

// LLMContext represents the context for an LLM request.
type LLMContext struct {
	SystemPrompt string       `json:"systemPrompt,omitempty"`
	Messages     []LLMMessage `json:"messages"`
	MaxTokens    int          `json:"maxTokens,omitempty"`
}

// LLMMessage represents a message in the LLM conversation.
type LLMMessage struct {
	Role     string `json:"role"` // "system", "user", "assistant"
	Content  string `json:"content"`
	Thinking string `json:"-"`
}

// Usage represents token usage information.
type Usage struct {
	InputTokens  int `json:"prompt_tokens"`
	OutputTokens int `json:"completion_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Request is a single-shot completion: one system prompt and one user prompt.
type Request struct {
	SystemPrompt string
	Prompt       string
	MaxTokens    int
}

// Backend produces a completion for a Request. Implementations must honor
// ctx cancellation and return typed errors (see ClassifyAPIError).
type Backend interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(ctx context.Context, req Request) (string, error)

// Complete implements Backend.
func (f BackendFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// LLMEvent represents an event from the LLM stream.
type LLMEvent interface {
	GetEventType() string
}

// LLMStartEvent is emitted when the LLM starts generating.
type LLMStartEvent struct {
	Partial *PartialMessage
}

func (e LLMStartEvent) GetEventType() string { return "start" }

// LLMTextDeltaEvent is emitted for each text delta.
type LLMTextDeltaEvent struct {
	Delta string
}

func (e LLMTextDeltaEvent) GetEventType() string { return "text_delta" }

// LLMThinkingDeltaEvent is emitted for reasoning deltas.
type LLMThinkingDeltaEvent struct {
	Delta string
}

func (e LLMThinkingDeltaEvent) GetEventType() string { return "thinking_delta" }

// LLMDoneEvent is emitted when the LLM finishes.
type LLMDoneEvent struct {
	Message    *LLMMessage
	Usage      Usage
	StopReason string
}

func (e LLMDoneEvent) GetEventType() string { return "done" }

// LLMErrorEvent is emitted on error.
type LLMErrorEvent struct {
	Error error
}

func (e LLMErrorEvent) GetEventType() string { return "error" }

// PartialMessage represents a message being built incrementally.
type PartialMessage struct {
	mu       sync.Mutex
	Role     string
	Content  strings.Builder
	Thinking strings.Builder
}

// NewPartialMessage creates a new partial message.
func NewPartialMessage() *PartialMessage {
	return &PartialMessage{Role: "assistant"}
}

// AppendText appends text to the message content.
func (pm *PartialMessage) AppendText(delta string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.Content.WriteString(delta)
}

// AppendThinking appends reasoning text.
func (pm *PartialMessage) AppendThinking(delta string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.Thinking.WriteString(delta)
}

// ToLLMMessage converts the partial message to an LLMMessage.
func (pm *PartialMessage) ToLLMMessage() LLMMessage {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return LLMMessage{
		Role:     pm.Role,
		Content:  pm.Content.String(),
		Thinking: pm.Thinking.String(),
	}
}
