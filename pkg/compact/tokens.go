package compact

import (
	"encoding/json"

	agentctx "github.com/tiancaiamao/sessioncompact/pkg/context"
)

// imageTokens is the flat estimate charged for one image block.
const imageTokens = 1200

const (
	minUsageRatio = 0.25
	maxUsageRatio = 4.0
)

// EstimateTokens approximates the tokens a message occupies, at roughly
// four characters per token. It overestimates rather than underestimates.
func EstimateTokens(msg agentctx.AgentMessage) int {
	chars := 0
	images := 0
	switch msg.Role {
	case agentctx.RoleCompactionSummary, agentctx.RoleBranchSummary:
		chars = len(msg.Summary)
	case agentctx.RoleBashExecution:
		chars = len(msg.Command) + len(msg.Output)
	default:
		for _, block := range msg.Content {
			switch b := block.(type) {
			case agentctx.TextContent:
				chars += len(b.Text)
			case agentctx.ThinkingContent:
				chars += len(b.Thinking)
			case agentctx.ToolCallContent:
				chars += len(b.Name)
				if args, err := json.Marshal(b.Arguments); err == nil {
					chars += len(args)
				}
			case agentctx.ImageContent:
				images++
			}
		}
	}
	return (chars+3)/4 + images*imageTokens
}

// EstimateMessagesTokens sums EstimateTokens over messages.
func EstimateMessagesTokens(messages []agentctx.AgentMessage) int {
	total := 0
	for _, msg := range messages {
		total += EstimateTokens(msg)
	}
	return total
}

// ContextEstimate is the current context size, anchored on the most recent
// provider-reported usage when there is one.
type ContextEstimate struct {
	Tokens         int
	UsageTokens    int
	TrailingTokens int
	// LastUsageIndex is the index of the assistant message whose usage
	// anchors the estimate, or -1.
	LastUsageIndex int
}

// lastUsageIndex finds the newest assistant message with usage that did not
// end in an error or abort.
func lastUsageIndex(messages []agentctx.AgentMessage) int {
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.Role != agentctx.RoleAssistant || msg.Usage == nil || msg.IsErrorTurn() {
			continue
		}
		if msg.Usage.ContextTokens() > 0 {
			return i
		}
	}
	return -1
}

// EstimateContextTokens uses the last successful assistant usage plus an
// estimate of everything after it. Without usage it estimates every message.
func EstimateContextTokens(messages []agentctx.AgentMessage) ContextEstimate {
	idx := lastUsageIndex(messages)
	if idx < 0 {
		trailing := EstimateMessagesTokens(messages)
		return ContextEstimate{Tokens: trailing, TrailingTokens: trailing, LastUsageIndex: -1}
	}
	usage := messages[idx].Usage.ContextTokens()
	trailing := EstimateMessagesTokens(messages[idx+1:])
	return ContextEstimate{
		Tokens:         usage + trailing,
		UsageTokens:    usage,
		TrailingTokens: trailing,
		LastUsageIndex: idx,
	}
}

// UsageRatio compares the provider-reported context size with the local
// estimate for the same messages. The result is clamped to [0.25, 4] and
// is 1 when no usage is available.
func UsageRatio(messages []agentctx.AgentMessage) float64 {
	idx := lastUsageIndex(messages)
	if idx < 0 {
		return 1
	}
	estimated := EstimateMessagesTokens(messages[:idx+1])
	if estimated <= 0 {
		return 1
	}
	ratio := float64(messages[idx].Usage.ContextTokens()) / float64(estimated)
	switch {
	case ratio < minUsageRatio:
		return minUsageRatio
	case ratio > maxUsageRatio:
		return maxUsageRatio
	}
	return ratio
}

// ShouldCompact reports whether contextTokens leaves less than the reserve
// free in the window.
func ShouldCompact(contextTokens, contextWindow int, settings Settings) bool {
	if !settings.Enabled || contextWindow <= 0 {
		return false
	}
	return contextTokens > contextWindow-settings.ReserveTokens
}
