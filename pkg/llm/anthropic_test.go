package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicBackendComplete(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
			"content":[{"type":"text","text":"## Goal\nship it"}],
			"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":4}}`)
	}))
	defer server.Close()

	backend := NewAnthropicBackend("test-key", server.URL+"/v1", "claude-test")
	text, err := backend.Complete(context.Background(), Request{SystemPrompt: "summarize", Prompt: "hello", MaxTokens: 512})
	require.NoError(t, err)
	assert.Equal(t, "## Goal\nship it", text)

	assert.Equal(t, "claude-test", got["model"])
	assert.EqualValues(t, 512, got["max_tokens"])
	assert.Contains(t, fmt.Sprint(got["system"]), "summarize")
}

func TestAnthropicBackendClassifiesOverflow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"type":"error","error":{"type":"invalid_request_error","message":"prompt is too long: 210000 tokens > 200000 maximum"}}`)
	}))
	defer server.Close()

	backend := NewAnthropicBackend("test-key", server.URL+"/v1", "claude-test")
	_, err := backend.Complete(context.Background(), Request{Prompt: "hello"})
	require.Error(t, err)
	assert.True(t, IsContextLengthExceeded(err))
}
