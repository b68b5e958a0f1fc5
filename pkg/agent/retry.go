package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tiancaiamao/sessioncompact/pkg/llm"
)

// ErrNoCandidates is returned when no summarization model is configured.
var ErrNoCandidates = errors.New("no summarization model candidates")

// RetryConfig holds retry configuration.
type RetryConfig struct {
	MaxAttempts  int           // Maximum number of attempts per candidate (including initial)
	InitialDelay time.Duration // Initial delay before retry
	MaxDelay     time.Duration // Maximum delay between retries
	Multiplier   float64       // Delay multiplier for exponential backoff
}

// DefaultRetryConfig returns a sensible default retry configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     4 * time.Second,
		Multiplier:   2.0,
	}
}

// RetryPolicy determines whether a failed summarization call should be
// retried on the same candidate.
type RetryPolicy func(error) bool

// DefaultRetryPolicy retries transient failures. Context overflow is never
// retried: a larger request would only overflow again.
func DefaultRetryPolicy() RetryPolicy {
	return func(err error) bool {
		if err == nil || llm.IsContextLengthExceeded(err) {
			return false
		}
		switch classifyLLMError(err) {
		case llmErrorTypeRateLimit, llmErrorTypeTimeout, llmErrorTypeNetwork, llmErrorTypeServer:
			slog.Info("[Retry] Retrying due to transient error", "error", err)
			return true
		}
		return false
	}
}

// ModelCandidate is one summarization model to try, in order.
type ModelCandidate struct {
	Name    string
	Backend llm.Backend
}

// runWithCandidates calls fn with each candidate's backend until one
// succeeds. Transient errors are retried with exponential backoff on the same
// candidate; other errors move on to the next one. Overflow and
// cancellation stop immediately.
func runWithCandidates(ctx context.Context, cfg *RetryConfig, policy RetryPolicy, candidates []ModelCandidate, fn func(context.Context, llm.Backend) error) error {
	if len(candidates) == 0 {
		return ErrNoCandidates
	}
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	maxAttempts := max(cfg.MaxAttempts, 1)

	var lastErr error
	for _, candidate := range candidates {
		delay := cfg.InitialDelay
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			if attempt > 1 {
				wait := max(delay, llm.RetryAfter(lastErr))
				slog.Info("[Retry] Retrying summarization",
					"model", candidate.Name, "attempt", attempt, "maxAttempts", maxAttempts, "delay", wait)
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return fmt.Errorf("retry cancelled: %w", ctx.Err())
				}
				delay = time.Duration(float64(delay) * cfg.Multiplier)
				if delay > cfg.MaxDelay {
					delay = cfg.MaxDelay
				}
			}

			err := fn(ctx, candidate.Backend)
			if err == nil {
				if attempt > 1 {
					slog.Info("[Retry] Summarization succeeded", "model", candidate.Name, "attempt", attempt)
				}
				return nil
			}
			lastErr = err
			slog.Warn("[Retry] Summarization failed", "model", candidate.Name, "attempt", attempt, "error", err)

			if ctx.Err() != nil || llm.IsContextLengthExceeded(err) {
				return err
			}
			if !policy(err) {
				break
			}
		}
	}
	return fmt.Errorf("summarization failed after %d candidate(s): %w", len(candidates), lastErr)
}
