package agent

import "time"

// AgentEvent represents an event emitted by the compaction controller.
type AgentEvent struct {
	Type string `json:"type"` // Event type discriminator
	// EventAt is when the event was created (UnixNano).
	EventAt int64 `json:"eventAt,omitempty"`

	// compaction events
	Compaction *CompactionInfo `json:"compaction,omitempty"`

	// branch summary events
	Branch *BranchInfo `json:"branch,omitempty"`
}

// Event type constants
const (
	EventCompactionStart     = "compaction_start"
	EventCompactionEnd       = "compaction_end"
	EventAutoCompactionStart = "auto_compaction_start"
	EventAutoCompactionEnd   = "auto_compaction_end"
	EventBranchSummaryStart  = "branch_summary_start"
	EventBranchSummaryEnd    = "branch_summary_end"
)

// CompactionInfo describes a compaction event.
type CompactionInfo struct {
	Reason           string `json:"reason"`
	Auto             bool   `json:"auto,omitempty"`
	WillRetry        bool   `json:"willRetry,omitempty"`
	Aborted          bool   `json:"aborted,omitempty"`
	Before           int    `json:"before,omitempty"`
	After            int    `json:"after,omitempty"`
	EntryID          string `json:"entryId,omitempty"`
	FirstKeptEntryID string `json:"firstKeptEntryId,omitempty"`
	FromHook         bool   `json:"fromHook,omitempty"`
	ErrorMessage     string `json:"errorMessage,omitempty"`
	ErrorType        string `json:"errorType,omitempty"`
}

// BranchInfo describes a branch summary event.
type BranchInfo struct {
	TargetID       string `json:"targetId"`
	OldLeafID      string `json:"oldLeafId,omitempty"`
	SummaryEntryID string `json:"summaryEntryId,omitempty"`
	Aborted        bool   `json:"aborted,omitempty"`
	ErrorMessage   string `json:"errorMessage,omitempty"`
}

// NewCompactionStartEvent creates a compaction_start or
// auto_compaction_start event.
func NewCompactionStartEvent(info CompactionInfo) AgentEvent {
	typ := EventCompactionStart
	if info.Auto {
		typ = EventAutoCompactionStart
	}
	return AgentEvent{
		Type:       typ,
		EventAt:    time.Now().UnixNano(),
		Compaction: &info,
	}
}

// NewCompactionEndEvent creates a compaction_end or auto_compaction_end event.
func NewCompactionEndEvent(info CompactionInfo) AgentEvent {
	typ := EventCompactionEnd
	if info.Auto {
		typ = EventAutoCompactionEnd
	}
	return AgentEvent{
		Type:       typ,
		EventAt:    time.Now().UnixNano(),
		Compaction: &info,
	}
}

// NewBranchSummaryStartEvent creates a branch_summary_start event.
func NewBranchSummaryStartEvent(info BranchInfo) AgentEvent {
	return AgentEvent{Type: EventBranchSummaryStart, EventAt: time.Now().UnixNano(), Branch: &info}
}

// NewBranchSummaryEndEvent creates a branch_summary_end event.
func NewBranchSummaryEndEvent(info BranchInfo) AgentEvent {
	return AgentEvent{Type: EventBranchSummaryEnd, EventAt: time.Now().UnixNano(), Branch: &info}
}
