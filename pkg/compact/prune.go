package compact

import (
	"slices"

	agentctx "github.com/tiancaiamao/sessioncompact/pkg/context"
	"github.com/tiancaiamao/sessioncompact/pkg/session"
)

// PruneSettings control pruning of old tool outputs.
type PruneSettings struct {
	Enabled bool
	// ProtectTokens worth of the newest tool output is never pruned.
	ProtectTokens int
	// MinimumSavings is the smallest total worth a rewrite of the log.
	MinimumSavings int
	ProtectedTools []string
}

func DefaultPruneSettings() PruneSettings {
	return PruneSettings{
		Enabled:        true,
		ProtectTokens:  40000,
		MinimumSavings: 20000,
		ProtectedTools: []string{"read", "skill"},
	}
}

// PrunePlan lists the tool results to replace with placeholders.
type PrunePlan struct {
	Edits       []session.PruneEdit
	TokensSaved int
}

// Empty reports whether the plan prunes nothing.
func (p PrunePlan) Empty() bool { return len(p.Edits) == 0 }

// PlanPrune picks old tool outputs to prune on path. Only entries the
// current view still shows (from the latest compaction's kept start) are
// considered. Outputs are walked newest to oldest; the first ProtectTokens
// are protected and the rest are pruned unless the tool is protected. An
// empty plan is returned when the savings would be under MinimumSavings.
func PlanPrune(path []session.Entry, settings PruneSettings) (PrunePlan, error) {
	var plan PrunePlan
	if !settings.Enabled {
		return plan, nil
	}
	start, err := session.KeptStart(path)
	if err != nil {
		return plan, err
	}

	protected := 0
	for i := len(path) - 1; i >= start; i-- {
		entry := &path[i]
		if entry.Type != session.EntryTypeMessage || entry.Message == nil {
			continue
		}
		msg := entry.Message
		if msg.Role != agentctx.RoleToolResult || session.IsPrunedOutput(msg) {
			continue
		}
		tokens := EstimateTokens(*msg)
		if protected < settings.ProtectTokens {
			protected += tokens
			continue
		}
		if slices.Contains(settings.ProtectedTools, msg.ToolName) {
			continue
		}
		plan.Edits = append(plan.Edits, session.PruneEdit{EntryID: entry.ID, Tokens: tokens})
		plan.TokensSaved += tokens
	}

	if plan.TokensSaved < settings.MinimumSavings {
		return PrunePlan{}, nil
	}
	return plan, nil
}
