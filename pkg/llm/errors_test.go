package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyAPIErrorContextLength(t *testing.T) {
	payload := `{"error":{"message":"This model's maximum context length is 128000 tokens. However, your messages resulted in 130001 tokens."}}`
	err := ClassifyAPIError(400, payload)

	var ctxErr *ContextLengthExceededError
	require.ErrorAs(t, err, &ctxErr)
	assert.Equal(t, 400, ctxErr.StatusCode)
	assert.Contains(t, ctxErr.Message, "maximum context length")
}

func TestClassifyAPIErrorAnthropicShape(t *testing.T) {
	payload := `{"type":"error","error":{"type":"invalid_request_error","message":"prompt is too long: 205000 tokens > 200000 maximum"}}`
	assert.True(t, IsContextLengthExceeded(ClassifyAPIError(400, payload)))
}

func TestClassifyAPIErrorGeneric(t *testing.T) {
	err := ClassifyAPIError(401, `{"error":{"message":"invalid auth token"}}`)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.StatusCode)
	assert.Equal(t, "invalid auth token", apiErr.Message)
}

func TestClassifyAPIErrorPlainText(t *testing.T) {
	err := ClassifyAPIError(502, "bad gateway")
	assert.EqualError(t, err, "API error (502): bad gateway")
}

func TestIsContextLengthExceeded(t *testing.T) {
	assert.True(t, IsContextLengthExceeded(&ContextLengthExceededError{Message: "context window exceeded"}))
	assert.True(t, IsContextLengthExceeded(errors.New("context window exceeded")))
	assert.False(t, IsContextLengthExceeded(errors.New("permission denied")))
	assert.False(t, IsContextLengthExceeded(nil))
}

func TestIsContextOverflowMessage(t *testing.T) {
	assert.True(t, IsContextOverflowMessage("Your input is too long for this model"))
	assert.False(t, IsContextOverflowMessage("overloaded"))
}
