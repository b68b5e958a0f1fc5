package llm

import (
	"context"
	"errors"
	"strings"

	anthropic "github.com/liushuangls/go-anthropic/v2"
)

// AnthropicBackend calls the Anthropic Messages API.
type AnthropicBackend struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicBackend creates a backend for the given model. An empty
// baseURL uses the public API endpoint.
func NewAnthropicBackend(apiKey, baseURL, model string) *AnthropicBackend {
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	return &AnthropicBackend{
		client: anthropic.NewClient(apiKey, opts...),
		model:  model,
	}
}

// Complete implements Backend.
func (b *AnthropicBackend) Complete(ctx context.Context, req Request) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	mreq := anthropic.MessagesRequest{
		Model: anthropic.Model(b.model),
		Messages: []anthropic.Message{{
			Role:    anthropic.RoleUser,
			Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(req.Prompt)},
		}},
		MaxTokens: maxTokens,
	}
	if req.SystemPrompt != "" {
		mreq.MultiSystem = []anthropic.MessageSystemPart{{Type: "text", Text: req.SystemPrompt}}
	}

	resp, err := b.client.CreateMessages(ctx, mreq)
	if err != nil {
		return "", classifyAnthropicError(err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == anthropic.MessagesContentTypeText && block.Text != nil {
			text.WriteString(*block.Text)
		}
	}
	return strings.TrimSpace(text.String()), nil
}

func classifyAnthropicError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var reqErr *anthropic.RequestError
	if errors.As(err, &reqErr) {
		return ClassifyAPIError(reqErr.StatusCode, err.Error())
	}
	return ClassifyAPIError(0, err.Error())
}
