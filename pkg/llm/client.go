package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const maxSSELineBytes = 4 * 1024 * 1024

var httpClient = &http.Client{}

// StreamLLM streams a completion from an OpenAI-compatible endpoint.
func StreamLLM(
	ctx context.Context,
	model Model,
	llmCtx LLMContext,
	apiKey string,
) *EventStream[LLMEvent, LLMMessage] {
	stream := NewEventStream[LLMEvent, LLMMessage](
		func(e LLMEvent) bool {
			return e.GetEventType() == "done" || e.GetEventType() == "error"
		},
		func(e LLMEvent) LLMMessage {
			if done, ok := e.(LLMDoneEvent); ok && done.Message != nil {
				return *done.Message
			}
			return LLMMessage{}
		},
	)

	go func() {
		defer stream.End(LLMMessage{})

		debugEnabled := slog.Default().Enabled(ctx, slog.LevelDebug)
		logChunks := debugEnabled && os.Getenv("AI_LOG_LLM_CHUNKS") == "1"

		if apiKey == "" {
			apiKey = os.Getenv("AI_API_KEY")
		}
		if apiKey == "" {
			stream.Push(LLMErrorEvent{Error: fmt.Errorf("AI_API_KEY not set")})
			return
		}

		messages := llmCtx.Messages
		if llmCtx.SystemPrompt != "" {
			systemMsg := LLMMessage{Role: "system", Content: llmCtx.SystemPrompt}
			messages = append([]LLMMessage{systemMsg}, llmCtx.Messages...)
		}

		reqBody := map[string]any{
			"model":    model.ID,
			"messages": messages,
			"stream":   true,
		}
		if llmCtx.MaxTokens > 0 {
			reqBody["max_tokens"] = llmCtx.MaxTokens
		}

		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			stream.Push(LLMErrorEvent{Error: err})
			return
		}
		if debugEnabled {
			slog.Debug("[LLM] request", "model", model.ID, "provider", model.Provider, "bytes", len(jsonBody))
		}

		url := strings.TrimRight(model.BaseURL, "/") + "/chat/completions"
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
		if err != nil {
			stream.Push(LLMErrorEvent{Error: err})
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+apiKey)

		resp, err := httpClient.Do(req)
		if err != nil {
			if strings.Contains(err.Error(), "no such host") {
				stream.Push(LLMErrorEvent{Error: fmt.Errorf("DNS error: cannot resolve API host '%s'", model.BaseURL)})
			} else {
				stream.Push(LLMErrorEvent{Error: fmt.Errorf("connection error: %w", err)})
			}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			retryAfter := parseRetryAfterHeader(resp.Header.Get("Retry-After"))
			stream.Push(LLMErrorEvent{Error: ClassifyAPIErrorWithRetryAfter(resp.StatusCode, string(body), retryAfter)})
			return
		}

		partial := NewPartialMessage()
		stream.Push(LLMStartEvent{Partial: partial})

		var usage Usage
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), maxSSELineBytes)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				break
			}
			if logChunks {
				slog.Debug("[LLM] stream chunk", "bytes", len(data))
			}

			var chunk struct {
				Choices []struct {
					Delta struct {
						Content          string `json:"content,omitempty"`
						ReasoningContent string `json:"reasoning_content,omitempty"`
						Thinking         string `json:"thinking,omitempty"`
					} `json:"delta"`
					FinishReason *string `json:"finish_reason"`
				} `json:"choices"`
				Usage *Usage `json:"usage"`
				Error *struct {
					Message string `json:"message,omitempty"`
					Type    string `json:"type,omitempty"`
				} `json:"error,omitempty"`
			}
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}

			if chunk.Error != nil {
				msg := strings.TrimSpace(chunk.Error.Message)
				if msg == "" {
					msg = strings.TrimSpace(chunk.Error.Type)
				}
				stream.Push(LLMErrorEvent{Error: ClassifyAPIError(resp.StatusCode, msg)})
				return
			}
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
			if len(chunk.Choices) == 0 {
				continue
			}

			choice := chunk.Choices[0]
			if choice.Delta.Content != "" {
				partial.AppendText(choice.Delta.Content)
				stream.Push(LLMTextDeltaEvent{Delta: choice.Delta.Content})
			}
			// Z.AI uses reasoning_content, others use thinking.
			for _, thinking := range []string{choice.Delta.ReasoningContent, choice.Delta.Thinking} {
				if thinking != "" {
					partial.AppendThinking(thinking)
					stream.Push(LLMThinkingDeltaEvent{Delta: thinking})
				}
			}

			if choice.FinishReason != nil {
				finalMsg := partial.ToLLMMessage()
				stream.Push(LLMDoneEvent{Message: &finalMsg, Usage: usage, StopReason: *choice.FinishReason})
				return
			}
		}

		if err := scanner.Err(); err != nil {
			stream.Push(LLMErrorEvent{Error: err})
			return
		}

		// Some providers end with a bare [DONE] and no finish_reason.
		finalMsg := partial.ToLLMMessage()
		stream.Push(LLMDoneEvent{Message: &finalMsg, Usage: usage, StopReason: "stop"})
	}()

	return stream
}

func parseRetryAfterHeader(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
