package compact

import (
	"context"

	agentctx "github.com/tiancaiamao/sessioncompact/pkg/context"
	"github.com/tiancaiamao/sessioncompact/pkg/llm"
	"github.com/tiancaiamao/sessioncompact/pkg/session"
)

const branchSummaryMaxTokens = 2048

// BranchPreparation is the input selected for a branch summary.
type BranchPreparation struct {
	Messages    []agentctx.AgentMessage
	FileOps     *FileOperations
	TotalTokens int
}

// PrepareBranchEntries selects messages from an abandoned branch, newest
// first, until tokenBudget is spent. A summary entry at the budget edge is
// still taken while the running total is under continuityThreshold of the
// budget. File operations are gathered from every entry regardless of the
// budget. A tokenBudget <= 0 means no limit.
func PrepareBranchEntries(entries []session.Entry, tokenBudget int, continuityThreshold float64) BranchPreparation {
	prep := BranchPreparation{FileOps: NewFileOperations()}

	for i := range entries {
		entry := &entries[i]
		switch entry.Type {
		case session.EntryTypeBranchSummary:
			if !entry.FromHook {
				prep.FileOps.AddDetails(entry.Details)
			}
		case session.EntryTypeMessage:
			if entry.Message != nil {
				prep.FileOps.AddMessage(entry.Message)
			}
		}
	}

	selected := make([]agentctx.AgentMessage, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		entry := &entries[i]
		msg, ok := entry.AsMessage()
		if !ok || msg.Role == agentctx.RoleToolResult {
			continue
		}
		tokens := EstimateTokens(msg)
		if tokenBudget > 0 && prep.TotalTokens+tokens > tokenBudget {
			isSummary := entry.Type == session.EntryTypeCompaction || entry.Type == session.EntryTypeBranchSummary
			if isSummary && float64(prep.TotalTokens) < continuityThreshold*float64(tokenBudget) {
				selected = append(selected, msg)
				prep.TotalTokens += tokens
			}
			break
		}
		selected = append(selected, msg)
		prep.TotalTokens += tokens
	}

	for l, r := 0, len(selected)-1; l < r; l, r = l+1, r-1 {
		selected[l], selected[r] = selected[r], selected[l]
	}
	prep.Messages = selected
	return prep
}

// BranchOptions shape a branch summary request.
type BranchOptions struct {
	CustomInstructions string
}

// BranchSummaryResult is a generated branch summary.
type BranchSummaryResult struct {
	Summary       string
	ReadFiles     []string
	ModifiedFiles []string
}

// Details returns the file lists in their persisted form.
func (r *BranchSummaryResult) Details() *session.FileDetails {
	return &session.FileDetails{ReadFiles: r.ReadFiles, ModifiedFiles: r.ModifiedFiles}
}

// GenerateBranchSummary summarizes the selected branch messages.
func GenerateBranchSummary(ctx context.Context, backend llm.Backend, prep BranchPreparation, opts BranchOptions) (*BranchSummaryResult, error) {
	readFiles, modifiedFiles := prep.FileOps.ComputeFileLists()
	if len(prep.Messages) == 0 {
		return &BranchSummaryResult{Summary: NoBranchContent, ReadFiles: readFiles, ModifiedFiles: modifiedFiles}, nil
	}

	req := llm.Request{
		SystemPrompt: SystemPrompt,
		Prompt: BuildSummaryPrompt(SerializeConversation(prep.Messages), BranchSummaryPrompt, SummaryOptions{
			CustomInstructions: opts.CustomInstructions,
		}),
		MaxTokens: branchSummaryMaxTokens,
	}
	s, err := complete(ctx, backend, "branch", req, false)
	if err != nil {
		return nil, err
	}

	return &BranchSummaryResult{
		Summary:       BranchSummaryPreamble + s.Text + FormatFileOperations(readFiles, modifiedFiles),
		ReadFiles:     readFiles,
		ModifiedFiles: modifiedFiles,
	}, nil
}
