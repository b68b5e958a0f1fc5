package context

import (
	"fmt"
	"strings"
)

// ConvertToLLM maps a session view onto the roles a model understands.
// Synthetic summary roles become user text wrapped in <summary> tags, user
// shell executions become user text, and hook or custom messages become
// user messages carrying their content. Messages hidden from the agent are
// dropped.
func ConvertToLLM(messages []AgentMessage) []AgentMessage {
	out := make([]AgentMessage, 0, len(messages))
	for _, msg := range messages {
		if !msg.IsAgentVisible() {
			continue
		}
		switch msg.Role {
		case RoleCompactionSummary:
			out = append(out, userText(CompactionSummaryPrefix+msg.Summary+CompactionSummarySuffix, msg.Timestamp))
		case RoleBranchSummary:
			out = append(out, userText(BranchSummaryPrefix+msg.Summary+BranchSummarySuffix, msg.Timestamp))
		case RoleBashExecution:
			out = append(out, userText(BashExecutionText(msg), msg.Timestamp))
		case RoleHookMessage, RoleCustom:
			converted := AgentMessage{Role: RoleUser, Content: msg.Content, Timestamp: msg.Timestamp}
			out = append(out, converted)
		default:
			out = append(out, msg)
		}
	}
	return out
}

// BashExecutionText renders a user-run shell command the way the model sees it.
func BashExecutionText(msg AgentMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ran `%s`\n", msg.Command)
	if msg.Output != "" {
		b.WriteString("```\n")
		b.WriteString(strings.TrimRight(msg.Output, "\n"))
		b.WriteString("\n```")
	} else {
		b.WriteString("(no output)")
	}
	switch {
	case msg.Cancelled:
		b.WriteString("\n\n(command cancelled)")
	case msg.ExitCode != nil && *msg.ExitCode != 0:
		fmt.Fprintf(&b, "\n\nCommand exited with code %d", *msg.ExitCode)
	}
	return b.String()
}

func userText(text string, timestamp int64) AgentMessage {
	return AgentMessage{
		Role:      RoleUser,
		Content:   []ContentBlock{TextContent{Type: "text", Text: text}},
		Timestamp: timestamp,
	}
}
