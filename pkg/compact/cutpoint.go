package compact

import (
	agentctx "github.com/tiancaiamao/sessioncompact/pkg/context"
	"github.com/tiancaiamao/sessioncompact/pkg/session"
)

// CutPoint is where a compaction splits a path.
type CutPoint struct {
	// FirstKeptEntryIndex is the first entry kept verbatim.
	FirstKeptEntryIndex int
	// TurnStartIndex is the start of the turn containing the cut, or -1
	// when the cut is itself at a turn start.
	TurnStartIndex int
	IsSplitTurn    bool
}

// isValidCutEntry reports whether a kept region may begin at entry. Tool
// results never start a kept region: they must stay with their call.
func isValidCutEntry(entry *session.Entry) bool {
	switch entry.Type {
	case session.EntryTypeBranchSummary, session.EntryTypeCustomMessage:
		return true
	case session.EntryTypeMessage:
		if entry.Message == nil {
			return false
		}
		switch entry.Message.Role {
		case agentctx.RoleUser, agentctx.RoleAssistant, agentctx.RoleBashExecution,
			agentctx.RoleHookMessage, agentctx.RoleBranchSummary,
			agentctx.RoleCompactionSummary, agentctx.RoleCustom:
			return true
		}
	}
	return false
}

// isTurnStart reports whether entry begins a user turn.
func isTurnStart(entry *session.Entry) bool {
	switch entry.Type {
	case session.EntryTypeBranchSummary, session.EntryTypeCustomMessage:
		return true
	case session.EntryTypeMessage:
		if entry.Message == nil {
			return false
		}
		return entry.Message.Role == agentctx.RoleUser || entry.Message.Role == agentctx.RoleBashExecution
	}
	return false
}

// FindValidCutPoints returns the indexes in [start, end) where a kept
// region may begin.
func FindValidCutPoints(entries []session.Entry, start, end int) []int {
	points := make([]int, 0)
	for i := start; i < end; i++ {
		if isValidCutEntry(&entries[i]) {
			points = append(points, i)
		}
	}
	return points
}

// FindTurnStartIndex walks back from entryIndex to the start of its turn.
// It returns -1 if no turn start exists in [start, entryIndex].
func FindTurnStartIndex(entries []session.Entry, entryIndex, start int) int {
	for i := entryIndex; i >= start; i-- {
		if isTurnStart(&entries[i]) {
			return i
		}
	}
	return -1
}

// FindCutPoint picks the first kept entry so that roughly keepRecentTokens
// of the newest content in [start, end) stays verbatim. A candidate on an
// invalid entry moves back to the nearest preceding valid cut point, and
// metadata entries directly before the cut are kept with it. With no valid
// cut points everything from start is kept.
func FindCutPoint(entries []session.Entry, start, end, keepRecentTokens int) CutPoint {
	points := FindValidCutPoints(entries, start, end)
	if len(points) == 0 {
		return CutPoint{FirstKeptEntryIndex: start, TurnStartIndex: -1}
	}

	candidate := -1
	accumulated := 0
	for i := end - 1; i >= start; i-- {
		entry := &entries[i]
		if entry.Type == session.EntryTypeCompaction {
			continue
		}
		msg, ok := entry.AsMessage()
		if !ok {
			continue
		}
		accumulated += EstimateTokens(msg)
		if accumulated >= keepRecentTokens {
			candidate = i
			break
		}
	}

	// Everything fits in the budget: keep from the first cut point.
	cutIndex := points[0]
	if candidate >= 0 {
		for j := len(points) - 1; j >= 0; j-- {
			if points[j] <= candidate {
				cutIndex = points[j]
				break
			}
		}
	}

	for cutIndex > start && entries[cutIndex-1].IsMetadata() {
		cutIndex--
	}

	cut := CutPoint{FirstKeptEntryIndex: cutIndex, TurnStartIndex: -1}
	first := firstContentIndex(entries, cutIndex, end)
	if first < 0 || isTurnStart(&entries[first]) {
		return cut
	}
	if turnStart := FindTurnStartIndex(entries, first, start); turnStart >= 0 {
		cut.TurnStartIndex = turnStart
		cut.IsSplitTurn = true
	}
	return cut
}

// firstContentIndex skips metadata entries from i.
func firstContentIndex(entries []session.Entry, i, end int) int {
	for ; i < end; i++ {
		if !entries[i].IsMetadata() {
			return i
		}
	}
	return -1
}
