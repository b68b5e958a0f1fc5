package context

import (
	"encoding/json"
	"strings"
	"time"
)

// Message roles.
const (
	RoleUser              = "user"
	RoleAssistant         = "assistant"
	RoleToolResult        = "toolResult"
	RoleBashExecution     = "bashExecution"
	RoleHookMessage       = "hookMessage"
	RoleCompactionSummary = "compactionSummary"
	RoleBranchSummary     = "branchSummary"
	RoleCustom            = "custom"
)

// Stop reasons reported on assistant messages.
const (
	StopReasonStop    = "stop"
	StopReasonLength  = "length"
	StopReasonToolUse = "toolUse"
	StopReasonError   = "error"
	StopReasonAborted = "aborted"
)

const (
	CompactionSummaryPrefix = "The conversation history before this point was compacted into the following summary:\n\n<summary>\n"
	CompactionSummarySuffix = "\n</summary>"
	BranchSummaryPrefix     = "The following is a summary of a branch that this conversation came back from:\n\n<summary>\n"
	BranchSummarySuffix     = "\n</summary>"
)

// ContentBlock represents a block of content in a message.
// Different content types implement this interface.
type ContentBlock interface {
	IsContentBlock()
}

// TextContent represents plain text content.
type TextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (t TextContent) IsContentBlock() {}

// ImageContent represents image content (base64 encoded).
type ImageContent struct {
	Type     string `json:"type"`
	Data     string `json:"data"` // base64 encoded
	MimeType string `json:"mimeType"`
}

func (i ImageContent) IsContentBlock() {}

// ToolCallContent represents a tool call from the assistant.
type ToolCallContent struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (t ToolCallContent) IsContentBlock() {}

// ThinkingContent represents thinking content (for reasoning models).
type ThinkingContent struct {
	Type     string `json:"type"`
	Thinking string `json:"thinking"`
}

func (t ThinkingContent) IsContentBlock() {}

// Usage represents token usage statistics.
type Usage struct {
	InputTokens  int  `json:"input"`
	OutputTokens int  `json:"output"`
	CacheRead    int  `json:"cacheRead"`
	CacheWrite   int  `json:"cacheWrite"`
	TotalTokens  int  `json:"totalTokens"`
	Cost         Cost `json:"cost"`
}

// ContextTokens returns the number of tokens the request occupied in the
// model context window.
func (u Usage) ContextTokens() int {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.InputTokens + u.OutputTokens + u.CacheRead + u.CacheWrite
}

// Cost represents the cost breakdown.
type Cost struct {
	Input      float64 `json:"input"`
	Output     float64 `json:"output"`
	CacheRead  float64 `json:"cacheRead"`
	CacheWrite float64 `json:"cacheWrite"`
	Total      float64 `json:"total"`
}

// MessageMetadata controls visibility and routing hints for a message.
type MessageMetadata struct {
	AgentVisible *bool  `json:"agentVisible,omitempty"`
	UserVisible  *bool  `json:"userVisible,omitempty"`
	Kind         string `json:"kind,omitempty"`
}

// AgentMessage represents a message in the conversation.
type AgentMessage struct {
	// Common fields
	Role      string           `json:"role"`
	Content   []ContentBlock   `json:"content"`
	Timestamp int64            `json:"timestamp"`
	Metadata  *MessageMetadata `json:"metadata,omitempty"`

	// AssistantMessage fields
	API          string `json:"api,omitempty"`
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
	StopReason   string `json:"stopReason,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`

	// ToolResultMessage fields
	ToolCallID string `json:"toolCallId,omitempty"`
	ToolName   string `json:"toolName,omitempty"`
	IsError    bool   `json:"isError,omitempty"`

	// BashExecutionMessage fields
	Command            string `json:"command,omitempty"`
	Output             string `json:"output,omitempty"`
	ExitCode           *int   `json:"exitCode,omitempty"`
	Cancelled          bool   `json:"cancelled,omitempty"`
	ExcludeFromContext bool   `json:"excludeFromContext,omitempty"`

	// Custom and hook message fields
	CustomType string `json:"customType,omitempty"`
	Display    bool   `json:"display,omitempty"`

	// Compaction and branch summary fields
	Summary      string `json:"summary,omitempty"`
	ShortSummary string `json:"shortSummary,omitempty"`
	TokensBefore int    `json:"tokensBefore,omitempty"`
	FromID       string `json:"fromId,omitempty"`
}

// NewUserMessage creates a new user message with text content.
func NewUserMessage(text string) AgentMessage {
	return AgentMessage{
		Role:      RoleUser,
		Content:   []ContentBlock{TextContent{Type: "text", Text: text}},
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewAssistantMessage creates a new assistant message placeholder.
func NewAssistantMessage() AgentMessage {
	return AgentMessage{
		Role:      RoleAssistant,
		Content:   []ContentBlock{},
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewToolResultMessage creates a new tool result message.
func NewToolResultMessage(toolCallID, toolName string, content []ContentBlock, isError bool) AgentMessage {
	return AgentMessage{
		Role:       RoleToolResult,
		Content:    content,
		Timestamp:  time.Now().UnixMilli(),
		ToolCallID: toolCallID,
		ToolName:   toolName,
		IsError:    isError,
	}
}

// NewBashExecutionMessage records a shell command the user ran directly.
func NewBashExecutionMessage(command, output string, exitCode int) AgentMessage {
	code := exitCode
	return AgentMessage{
		Role:      RoleBashExecution,
		Command:   command,
		Output:    output,
		ExitCode:  &code,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewCustomMessage creates an extension-authored message.
func NewCustomMessage(customType, text string, display bool) AgentMessage {
	return AgentMessage{
		Role:       RoleCustom,
		CustomType: customType,
		Content:    []ContentBlock{TextContent{Type: "text", Text: text}},
		Display:    display,
		Timestamp:  time.Now().UnixMilli(),
	}
}

// NewHookMessage creates a message injected by a hook handler.
func NewHookMessage(customType, text string) AgentMessage {
	msg := NewCustomMessage(customType, text, true)
	msg.Role = RoleHookMessage
	return msg
}

// NewCompactionSummaryMessage creates the synthetic message that stands in
// for everything before the first kept entry.
func NewCompactionSummaryMessage(summary, shortSummary string, tokensBefore int, timestamp int64) AgentMessage {
	return AgentMessage{
		Role:         RoleCompactionSummary,
		Summary:      summary,
		ShortSummary: shortSummary,
		TokensBefore: tokensBefore,
		Timestamp:    timestamp,
	}
}

// NewBranchSummaryMessage creates the synthetic message for an abandoned branch.
func NewBranchSummaryMessage(summary, fromID string, timestamp int64) AgentMessage {
	return AgentMessage{
		Role:      RoleBranchSummary,
		Summary:   summary,
		FromID:    fromID,
		Timestamp: timestamp,
	}
}

// ExtractText extracts all text content from a message.
func (m *AgentMessage) ExtractText() string {
	var b strings.Builder
	for _, block := range m.Content {
		if tc, ok := block.(TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// ExtractThinking extracts all thinking content from a message.
func (m *AgentMessage) ExtractThinking() string {
	var b strings.Builder
	for _, block := range m.Content {
		if tc, ok := block.(ThinkingContent); ok {
			b.WriteString(tc.Thinking)
		}
	}
	return b.String()
}

// ExtractToolCalls extracts all tool calls from an assistant message.
func (m *AgentMessage) ExtractToolCalls() []ToolCallContent {
	calls := make([]ToolCallContent, 0)
	for _, block := range m.Content {
		if tc, ok := block.(ToolCallContent); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}

// IsErrorTurn reports whether the assistant turn ended in an error or abort.
func (m AgentMessage) IsErrorTurn() bool {
	return m.Role == RoleAssistant && (m.StopReason == StopReasonError || m.StopReason == StopReasonAborted)
}

// IsAgentVisible returns true if the message should be sent to the model.
func (m AgentMessage) IsAgentVisible() bool {
	if m.Role == RoleBashExecution && m.ExcludeFromContext {
		return false
	}
	if m.Metadata == nil || m.Metadata.AgentVisible == nil {
		return true
	}
	return *m.Metadata.AgentVisible
}

// IsUserVisible returns true if the message should be shown to users.
func (m AgentMessage) IsUserVisible() bool {
	if m.Metadata == nil || m.Metadata.UserVisible == nil {
		return true
	}
	return *m.Metadata.UserVisible
}

// WithVisibility returns a copy of the message with explicit visibility flags.
func (m AgentMessage) WithVisibility(agentVisible, userVisible bool) AgentMessage {
	copyMsg := m
	meta := MessageMetadata{}
	if m.Metadata != nil {
		meta = *m.Metadata
	}
	meta.AgentVisible = boolPtr(agentVisible)
	meta.UserVisible = boolPtr(userVisible)
	copyMsg.Metadata = &meta
	return copyMsg
}

// Clone returns a copy whose content slice can be modified independently.
func (m AgentMessage) Clone() AgentMessage {
	copyMsg := m
	if m.Content != nil {
		copyMsg.Content = append([]ContentBlock(nil), m.Content...)
	}
	if m.Usage != nil {
		usage := *m.Usage
		copyMsg.Usage = &usage
	}
	return copyMsg
}

func boolPtr(v bool) *bool {
	b := v
	return &b
}

// UnmarshalJSON custom unmarshaling for AgentMessage to handle ContentBlock interface.
func (m *AgentMessage) UnmarshalJSON(data []byte) error {
	type alias AgentMessage
	raw := struct {
		*alias
		Content []json.RawMessage `json:"content"`
	}{alias: (*alias)(m)}

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	m.Content = make([]ContentBlock, 0, len(raw.Content))
	for _, rawBlock := range raw.Content {
		var typeCheck struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(rawBlock, &typeCheck); err != nil {
			continue
		}

		switch typeCheck.Type {
		case "text":
			var tc TextContent
			if err := json.Unmarshal(rawBlock, &tc); err == nil {
				m.Content = append(m.Content, tc)
			}
		case "image":
			var ic ImageContent
			if err := json.Unmarshal(rawBlock, &ic); err == nil {
				m.Content = append(m.Content, ic)
			}
		case "toolCall":
			var tcc ToolCallContent
			if err := json.Unmarshal(rawBlock, &tcc); err == nil {
				m.Content = append(m.Content, tcc)
			}
		case "thinking":
			var thc ThinkingContent
			if err := json.Unmarshal(rawBlock, &thc); err == nil {
				m.Content = append(m.Content, thc)
			}
		}
	}

	return nil
}
