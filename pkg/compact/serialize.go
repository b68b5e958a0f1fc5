package compact

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	agentctx "github.com/tiancaiamao/sessioncompact/pkg/context"
)

// SerializeConversation renders messages as labelled plain text so the
// summarizer reads them as a transcript rather than a conversation to
// continue.
func SerializeConversation(messages []agentctx.AgentMessage) string {
	parts := make([]string, 0, len(messages))
	for _, msg := range agentctx.ConvertToLLM(messages) {
		switch msg.Role {
		case agentctx.RoleUser:
			if text := msg.ExtractText(); text != "" {
				parts = append(parts, "[User]: "+text)
			}
		case agentctx.RoleAssistant:
			if thinking := msg.ExtractThinking(); thinking != "" {
				parts = append(parts, "[Assistant thinking]: "+thinking)
			}
			if text := msg.ExtractText(); text != "" {
				parts = append(parts, "[Assistant]: "+text)
			}
			if calls := msg.ExtractToolCalls(); len(calls) > 0 {
				rendered := make([]string, 0, len(calls))
				for _, call := range calls {
					rendered = append(rendered, formatToolCall(call))
				}
				parts = append(parts, "[Assistant tool calls]: "+strings.Join(rendered, "; "))
			}
		case agentctx.RoleToolResult:
			if text := msg.ExtractText(); text != "" {
				parts = append(parts, "[Tool result]: "+text)
			}
		}
	}
	return strings.Join(parts, "\n\n")
}

func formatToolCall(call agentctx.ToolCallContent) string {
	keys := make([]string, 0, len(call.Arguments))
	for k := range call.Arguments {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]string, 0, len(keys))
	for _, k := range keys {
		value, err := json.Marshal(call.Arguments[k])
		if err != nil {
			value = []byte(fmt.Sprint(call.Arguments[k]))
		}
		args = append(args, k+"="+string(value))
	}
	return call.Name + "(" + strings.Join(args, ", ") + ")"
}
