package agent

import (
	"context"
	"errors"
	"strings"

	"github.com/tiancaiamao/sessioncompact/pkg/llm"
)

const (
	llmErrorTypeRateLimit    = "rate_limit"
	llmErrorTypeTimeout      = "timeout"
	llmErrorTypeContextLimit = "context_limit"
	llmErrorTypeNetwork      = "network"
	llmErrorTypeServer       = "server"
	llmErrorTypeClient       = "client"
	llmErrorTypeCanceled     = "canceled"
	llmErrorTypeUnknown      = "unknown"
)

// classifyLLMError maps an error from a model call to one of the
// llmErrorType values, preferring typed errors over message sniffing.
func classifyLLMError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return llmErrorTypeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return llmErrorTypeTimeout
	case llm.IsContextLengthExceeded(err):
		return llmErrorTypeContextLimit
	case llm.IsRateLimit(err):
		return llmErrorTypeRateLimit
	}
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode >= 500:
			return llmErrorTypeServer
		case apiErr.StatusCode >= 400:
			return llmErrorTypeClient
		}
	}
	return inferLLMErrorTypeFromMessage(err.Error())
}

func inferLLMErrorTypeFromMessage(message string) string {
	lower := strings.ToLower(strings.TrimSpace(message))
	switch {
	case lower == "":
		return llmErrorTypeUnknown
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "429"), strings.Contains(lower, "quota"):
		return llmErrorTypeRateLimit
	case strings.Contains(lower, "context deadline exceeded"), strings.Contains(lower, "timeout"), strings.Contains(lower, "timed out"):
		return llmErrorTypeTimeout
	case strings.Contains(lower, "context length"), strings.Contains(lower, "context window"), strings.Contains(lower, "token limit"):
		return llmErrorTypeContextLimit
	case strings.Contains(lower, "connection"), strings.Contains(lower, "dns"), strings.Contains(lower, "dial tcp"), strings.Contains(lower, "no such host"), strings.Contains(lower, "eof"):
		return llmErrorTypeNetwork
	case strings.Contains(lower, "api error (5"), strings.Contains(lower, "service unavailable"), strings.Contains(lower, "bad gateway"), strings.Contains(lower, "gateway timeout"):
		return llmErrorTypeServer
	case strings.Contains(lower, "api error (4"), strings.Contains(lower, "unauthorized"), strings.Contains(lower, "forbidden"):
		return llmErrorTypeClient
	case strings.Contains(lower, "context canceled"), strings.Contains(lower, "cancelled"):
		return llmErrorTypeCanceled
	default:
		return llmErrorTypeUnknown
	}
}
