package llm

import (
	"context"
	"errors"
	"strings"
)

// Complete drains a StreamLLM call and returns the final assistant text.
func Complete(ctx context.Context, model Model, llmCtx LLMContext, apiKey string) (LLMMessage, Usage, error) {
	stream := StreamLLM(ctx, model, llmCtx, apiKey)

	var (
		final   LLMMessage
		usage   Usage
		lastErr error
		sawDone bool
	)
	for item := range stream.Iterator(ctx) {
		switch event := item.Value.(type) {
		case LLMDoneEvent:
			sawDone = true
			usage = event.Usage
			if event.Message != nil {
				final = *event.Message
			}
		case LLMErrorEvent:
			lastErr = event.Error
		}
	}

	if err := ctx.Err(); err != nil {
		return LLMMessage{}, Usage{}, err
	}
	if lastErr != nil {
		return LLMMessage{}, Usage{}, lastErr
	}
	if !sawDone {
		return LLMMessage{}, Usage{}, errors.New("llm stream ended without a result")
	}
	return final, usage, nil
}

// OpenAIBackend is a Backend on top of the OpenAI-compatible streaming client.
type OpenAIBackend struct {
	Model  Model
	APIKey string
}

// Complete implements Backend.
func (b *OpenAIBackend) Complete(ctx context.Context, req Request) (string, error) {
	msg, _, err := Complete(ctx, b.Model, LLMContext{
		SystemPrompt: req.SystemPrompt,
		Messages:     []LLMMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:    req.MaxTokens,
	}, b.APIKey)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(msg.Content), nil
}
