package session

import (
	"errors"
	"fmt"

	agentctx "github.com/tiancaiamao/sessioncompact/pkg/context"
)

var (
	// ErrDanglingBoundary means a compaction entry names a first kept entry
	// that is not on its path.
	ErrDanglingBoundary = errors.New("compaction boundary not found on path")
	// ErrBoundaryRegressed means a new compaction would keep entries that an
	// earlier compaction on the same path already summarized.
	ErrBoundaryRegressed = errors.New("compaction boundary moved backwards")
)

// ConsistencyError reports a structural problem with a session path.
type ConsistencyError struct {
	EntryID string
	Err     error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("session entry %s: %v", e.EntryID, e.Err)
}

func (e *ConsistencyError) Unwrap() error { return e.Err }

// SessionContext is the model-facing view of one path through the tree.
type SessionContext struct {
	Messages      []agentctx.AgentMessage
	ThinkingLevel string
	Provider      string
	ModelID       string
}

// BuildSessionContext reconstructs the message view for a root-to-leaf path.
// If the path contains a compaction entry, the latest one contributes a
// summary message followed by the entries it kept and everything after it.
func BuildSessionContext(path []Entry) (*SessionContext, error) {
	sc := &SessionContext{Messages: make([]agentctx.AgentMessage, 0, len(path))}

	compactionIndex := -1
	for i, entry := range path {
		switch entry.Type {
		case EntryTypeThinkingLevelChange:
			sc.ThinkingLevel = entry.ThinkingLevel
		case EntryTypeModelChange:
			sc.Provider = entry.Provider
			sc.ModelID = entry.ModelID
		case EntryTypeMessage:
			if entry.Message != nil && entry.Message.Role == agentctx.RoleAssistant && entry.Message.Model != "" {
				sc.Provider = entry.Message.Provider
				sc.ModelID = entry.Message.Model
			}
		case EntryTypeCompaction:
			compactionIndex = i
		}
	}

	appendEntry := func(entry *Entry) {
		if entry.Type == EntryTypeCompaction {
			return
		}
		if msg, ok := entry.AsMessage(); ok {
			sc.Messages = append(sc.Messages, msg)
		}
	}

	if compactionIndex < 0 {
		for i := range path {
			appendEntry(&path[i])
		}
		return sc, nil
	}

	compaction := &path[compactionIndex]
	summary, _ := compaction.AsMessage()
	sc.Messages = append(sc.Messages, summary)

	keptStart := -1
	for i := 0; i < compactionIndex; i++ {
		if path[i].ID == compaction.FirstKeptEntryID {
			keptStart = i
			break
		}
	}
	if keptStart < 0 {
		return nil, &ConsistencyError{EntryID: compaction.ID, Err: ErrDanglingBoundary}
	}
	for i := keptStart; i < compactionIndex; i++ {
		appendEntry(&path[i])
	}
	for i := compactionIndex + 1; i < len(path); i++ {
		appendEntry(&path[i])
	}
	return sc, nil
}

// LatestCompaction returns the index of the last compaction entry on path,
// or -1.
func LatestCompaction(path []Entry) int {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i].Type == EntryTypeCompaction {
			return i
		}
	}
	return -1
}

// KeptStart returns the index of the first entry a compaction view keeps.
// With no compaction it is 0. Entries before it have been summarized.
func KeptStart(path []Entry) (int, error) {
	idx := LatestCompaction(path)
	if idx < 0 {
		return 0, nil
	}
	firstKept := path[idx].FirstKeptEntryID
	for i := 0; i < idx; i++ {
		if path[i].ID == firstKept {
			return i, nil
		}
	}
	return 0, &ConsistencyError{EntryID: path[idx].ID, Err: ErrDanglingBoundary}
}
