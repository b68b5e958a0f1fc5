package session

import (
	"context"
	"fmt"
	"strings"

	agentctx "github.com/tiancaiamao/sessioncompact/pkg/context"
)

const prunedPrefix = "[Output truncated - "

// PruneEdit replaces the output of one tool result entry.
type PruneEdit struct {
	EntryID string
	Tokens  int
}

// PruneResult summarizes an applied prune.
type PruneResult struct {
	EntriesPruned int
	TokensSaved   int
}

// PrunedPlaceholder is the text that replaces a pruned tool output.
func PrunedPlaceholder(tokens int) string {
	return fmt.Sprintf("%s%d tokens]", prunedPrefix, tokens)
}

// IsPrunedOutput reports whether a tool result has already been pruned.
func IsPrunedOutput(msg *agentctx.AgentMessage) bool {
	if len(msg.Content) != 1 {
		return false
	}
	tc, ok := msg.Content[0].(agentctx.TextContent)
	return ok && strings.HasPrefix(tc.Text, prunedPrefix)
}

// ApplyPrune replaces the content of the given tool results with a
// placeholder and rewrites the store. On a store error nothing changes.
func (s *Session) ApplyPrune(ctx context.Context, edits []PruneEdit) (PruneResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result PruneResult
	if len(edits) == 0 {
		return result, nil
	}

	next := make([]*Entry, len(s.entries))
	copy(next, s.entries)
	for _, edit := range edits {
		entry, ok := s.byID[edit.EntryID]
		if !ok || entry.Type != EntryTypeMessage || entry.Message == nil {
			return PruneResult{}, fmt.Errorf("prune target %s is not a message entry", edit.EntryID)
		}
		if entry.Message.Role != agentctx.RoleToolResult {
			return PruneResult{}, fmt.Errorf("prune target %s is a %s message", edit.EntryID, entry.Message.Role)
		}
		if IsPrunedOutput(entry.Message) {
			continue
		}
		msg := entry.Message.Clone()
		msg.Content = []agentctx.ContentBlock{agentctx.TextContent{Type: "text", Text: PrunedPlaceholder(edit.Tokens)}}
		replaced := *entry
		replaced.Message = &msg
		next[entry.Seq] = &replaced

		result.EntriesPruned++
		result.TokensSaved += edit.Tokens
	}
	if result.EntriesPruned == 0 {
		return result, nil
	}

	if err := s.store.Rewrite(ctx, s.header, next); err != nil {
		return PruneResult{}, fmt.Errorf("persist prune: %w", err)
	}
	s.flushed = true
	s.entries = next
	for _, entry := range next {
		s.byID[entry.ID] = entry
	}
	return result, nil
}
