package compact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/tiancaiamao/sessioncompact/pkg/llm"
)

var errMissingSummary = errors.New("remote response has no summary")

// RemoteBackend delegates summarization to an HTTP endpoint that accepts
// {systemPrompt, prompt} and answers {summary, shortSummary?}.
type RemoteBackend struct {
	Endpoint string
	Client   *http.Client
}

func NewRemoteBackend(endpoint string) *RemoteBackend {
	return &RemoteBackend{Endpoint: endpoint, Client: http.DefaultClient}
}

// Complete implements llm.Backend.
func (r *RemoteBackend) Complete(ctx context.Context, req llm.Request) (string, error) {
	summary, _, err := r.CompleteWithShort(ctx, req)
	return summary, err
}

// CompleteWithShort issues one POST and returns the summary and the optional
// short summary.
func (r *RemoteBackend) CompleteWithShort(ctx context.Context, req llm.Request) (string, string, error) {
	body, err := json.Marshal(map[string]string{
		"systemPrompt": req.SystemPrompt,
		"prompt":       req.Prompt,
	})
	if err != nil {
		return "", "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", "", fmt.Errorf("remote summarization request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("failed to read remote response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", llm.ClassifyAPIError(resp.StatusCode, string(data))
	}
	if !gjson.ValidBytes(data) {
		return "", "", fmt.Errorf("remote response is not JSON: %.200s", data)
	}

	summary := gjson.GetBytes(data, "summary")
	if summary.Type != gjson.String || summary.String() == "" {
		return "", "", errMissingSummary
	}
	return summary.String(), gjson.GetBytes(data, "shortSummary").String(), nil
}
